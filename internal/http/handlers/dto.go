package handlers

import (
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

type placeReq struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type pointReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type eventResp struct {
	Seq       int               `json:"seq"`
	Status    request.Status    `json:"status"`
	At        time.Time         `json:"at"`
	Location  *types.Point      `json:"location,omitempty"`
	ActorID   *types.ID         `json:"actor_id,omitempty"`
	ActorRole request.Role      `json:"actor_role,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type requestResp struct {
	ID               types.ID       `json:"id"`
	TenantID         types.TenantID `json:"tenant_id"`
	CustomerID       types.ID       `json:"customer_id"`
	Kind             request.Kind   `json:"kind"`
	Mode             request.Mode   `json:"mode,omitempty"`
	Status           request.Status `json:"status"`
	Version          int            `json:"version"`
	Pickup           types.Place    `json:"pickup"`
	Dropoff          types.Place    `json:"dropoff"`
	AssignedDriverID *types.ID      `json:"assigned_driver_id"`
	RequiredCapacity int            `json:"required_capacity"`
	VehicleType      string         `json:"vehicle_type,omitempty"`
	SharedGroupID    *types.ID      `json:"shared_group_id,omitempty"`
	ScheduledAt      *time.Time     `json:"scheduled_at,omitempty"`
	DispatchAttempts int            `json:"dispatch_attempts"`
	NextDispatchAt   *time.Time     `json:"next_dispatch_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Events           []eventResp    `json:"events"`
}

func toEventResp(e request.Event) eventResp {
	return eventResp{
		Seq:       e.Seq,
		Status:    e.Status,
		At:        e.At,
		Location:  e.Location,
		ActorID:   e.ActorID,
		ActorRole: e.ActorRole,
		Notes:     e.Notes,
		Metadata:  e.Metadata,
	}
}

func toRequestResp(r *request.Request) requestResp {
	out := requestResp{
		ID:               r.ID,
		TenantID:         r.TenantID,
		CustomerID:       r.CustomerID,
		Kind:             r.Kind,
		Mode:             r.Mode,
		Status:           r.Status,
		Version:          r.Version,
		Pickup:           r.Pickup,
		Dropoff:          r.Dropoff,
		AssignedDriverID: r.AssignedDriverID,
		RequiredCapacity: r.RequiredCapacity,
		VehicleType:      r.VehicleType,
		SharedGroupID:    r.SharedGroupID,
		ScheduledAt:      r.ScheduledAt,
		DispatchAttempts: r.DispatchAttempts,
		NextDispatchAt:   r.NextDispatchAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		Events:           make([]eventResp, len(r.Events)),
	}
	for i, e := range r.Events {
		out.Events[i] = toEventResp(e)
	}
	return out
}

type driverResp struct {
	ID                types.ID           `json:"id"`
	TenantID          types.TenantID     `json:"tenant_id"`
	Name              string             `json:"name,omitempty"`
	Status            driver.Status      `json:"status"`
	VehicleType       driver.VehicleType `json:"vehicle_type"`
	VehicleCapacity   int                `json:"vehicle_capacity"`
	ActiveAssignments int                `json:"active_assignments"`
	AvailableCapacity int                `json:"available_capacity"`
	Location          *types.Point       `json:"location,omitempty"`
	Heading           *float64           `json:"heading,omitempty"`
	LocationAt        *time.Time         `json:"location_at,omitempty"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func toDriverResp(d *driver.Driver) driverResp {
	return driverResp{
		ID:                d.ID,
		TenantID:          d.TenantID,
		Name:              d.Name,
		Status:            d.Status,
		VehicleType:       d.VehicleType,
		VehicleCapacity:   d.VehicleCapacity,
		ActiveAssignments: d.ActiveAssignments,
		AvailableCapacity: d.Available(),
		Location:          d.Location,
		Heading:           d.Heading,
		LocationAt:        d.LocationAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
