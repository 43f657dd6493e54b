// README: Request construction and input validation.
package request

import (
	"fmt"
	"time"

	"fleetd/internal/types"
)

type CreateCommand struct {
	CustomerID       types.ID
	Kind             Kind
	Mode             Mode
	Pickup           types.Place
	Dropoff          types.Place
	RequiredCapacity int
	VehicleType      string
	ScheduledAt      *time.Time
	Notes            string
}

// New builds a request in its initial status with the creation event appended.
func New(tenant types.TenantID, cmd CreateCommand, now time.Time) (*Request, error) {
	if tenant == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrBadRequest)
	}
	if cmd.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer is required", ErrBadRequest)
	}
	if !cmd.Pickup.Point.Valid() || !cmd.Dropoff.Point.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
	}

	capacity := cmd.RequiredCapacity
	switch cmd.Kind {
	case KindTrip:
		switch cmd.Mode {
		case "":
			cmd.Mode = ModeInTown
		case ModeInTown, ModeOutTownVIP, ModeOutTownShared:
		default:
			return nil, fmt.Errorf("%w: unknown mode %q", ErrBadRequest, cmd.Mode)
		}
		if capacity == 0 {
			capacity = 1
		}
	case KindParcel:
		if cmd.Mode != "" {
			return nil, fmt.Errorf("%w: parcels have no mode", ErrBadRequest)
		}
		if capacity > 1 {
			return nil, fmt.Errorf("%w: parcels occupy exactly one slot", ErrBadRequest)
		}
		capacity = 1
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadRequest, cmd.Kind)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: required capacity must be at least 1", ErrBadRequest)
	}

	initial := InitialStatus(cmd.Kind)
	customer := cmd.CustomerID
	r := &Request{
		ID:               types.NewID(),
		TenantID:         tenant,
		CustomerID:       customer,
		Kind:             cmd.Kind,
		Mode:             cmd.Mode,
		Status:           initial,
		Version:          1,
		Pickup:           cmd.Pickup,
		Dropoff:          cmd.Dropoff,
		RequiredCapacity: capacity,
		VehicleType:      cmd.VehicleType,
		ScheduledAt:      cloneTime(cmd.ScheduledAt),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.Events = []Event{{
		Seq:       1,
		Status:    initial,
		At:        now,
		ActorID:   &customer,
		ActorRole: RoleCustomer,
		Notes:     cmd.Notes,
	}}
	return r, nil
}
