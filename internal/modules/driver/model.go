// README: Driver aggregate, availability statuses and claim accounting.
package driver

import (
	"errors"
	"time"

	"fleetd/internal/types"
)

type Status string

const (
	StatusOffline Status = "OFFLINE"
	StatusOnline  Status = "ONLINE"
	// StatusBusy marks an online driver whose capacity is fully claimed.
	StatusBusy Status = "BUSY"
)

type VehicleType string

const (
	VehicleSedan   VehicleType = "SEDAN"
	VehicleSUV     VehicleType = "SUV"
	VehicleVan     VehicleType = "VAN"
	VehicleMinibus VehicleType = "MINIBUS"
)

const DefaultVehicleCapacity = 4

var (
	ErrNoCapacity   = errors.New("driver has no spare capacity")
	ErrNotOnline    = errors.New("driver is not online")
	ErrNoAssignment = errors.New("driver has no active assignment")
)

type Driver struct {
	ID                types.ID
	TenantID          types.TenantID
	Name              string
	Status            Status
	VehicleType       VehicleType
	VehicleCapacity   int
	ActiveAssignments int
	Location          *types.Point
	Heading           *float64
	LocationAt        *time.Time
	UpdatedAt         time.Time
}

// Available is the number of claims the driver can still take.
func (d *Driver) Available() int {
	if n := d.VehicleCapacity - d.ActiveAssignments; n > 0 {
		return n
	}
	return 0
}

func (d *Driver) CanClaim() bool {
	return d.Status == StatusOnline && d.ActiveAssignments < d.VehicleCapacity
}

// Claim reserves one unit of capacity. Callers must apply it atomically
// against the authoritative record.
func (d *Driver) Claim() error {
	if d.Status != StatusOnline {
		return ErrNotOnline
	}
	if d.ActiveAssignments >= d.VehicleCapacity {
		return ErrNoCapacity
	}
	d.ActiveAssignments++
	if d.ActiveAssignments >= d.VehicleCapacity {
		d.Status = StatusBusy
	}
	return nil
}

// Release gives back one unit of capacity.
func (d *Driver) Release() error {
	if d.ActiveAssignments <= 0 {
		return ErrNoAssignment
	}
	d.ActiveAssignments--
	if d.Status == StatusBusy {
		d.Status = StatusOnline
	}
	return nil
}

// SetOnline moves the driver between OFFLINE and ONLINE/BUSY.
func (d *Driver) SetOnline(online bool) {
	switch {
	case !online:
		d.Status = StatusOffline
		d.Location = nil
		d.Heading = nil
		d.LocationAt = nil
	case d.ActiveAssignments >= d.VehicleCapacity:
		d.Status = StatusBusy
	default:
		d.Status = StatusOnline
	}
}

func (d *Driver) Clone() *Driver {
	c := *d
	if d.Location != nil {
		p := *d.Location
		c.Location = &p
	}
	if d.Heading != nil {
		h := *d.Heading
		c.Heading = &h
	}
	if d.LocationAt != nil {
		at := *d.LocationAt
		c.LocationAt = &at
	}
	return &c
}

func ValidVehicleType(v VehicleType) bool {
	switch v {
	case VehicleSedan, VehicleSUV, VehicleVan, VehicleMinibus:
		return true
	}
	return false
}
