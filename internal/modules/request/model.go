// README: Request aggregate (trip or parcel), lifecycle statuses and events.
package request

import (
	"time"

	"fleetd/internal/types"
)

type Kind string

const (
	KindTrip   Kind = "TRIP"
	KindParcel Kind = "PARCEL"
)

type Mode string

const (
	ModeInTown        Mode = "IN_TOWN"
	ModeOutTownVIP    Mode = "OUT_TOWN_VIP"
	ModeOutTownShared Mode = "OUT_TOWN_SHARED"
)

type Status string

const (
	// Trip variant.
	StatusRequested     Status = "REQUESTED"
	StatusDriverArrived Status = "DRIVER_ARRIVED"
	StatusStarted       Status = "STARTED"
	StatusCompleted     Status = "COMPLETED"

	// Parcel variant.
	StatusCreated   Status = "CREATED"
	StatusPickedUp  Status = "PICKED_UP"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"

	// Shared by both variants.
	StatusAssigned  Status = "ASSIGNED"
	StatusCancelled Status = "CANCELLED"
)

type Role string

const (
	RoleCustomer    Role = "CUSTOMER"
	RoleDriver      Role = "DRIVER"
	RoleDispatcher  Role = "DISPATCHER"
	RoleAgencyAdmin Role = "AGENCY_ADMIN"
	RoleSuperAdmin  Role = "SUPER_ADMIN"
	RoleSystem      Role = "SYSTEM"
)

// Actor is whoever asks for a transition.
type Actor struct {
	ID   types.ID
	Role Role
}

// Privileged reports whether the actor may act on behalf of the assigned driver.
func (a Actor) Privileged() bool {
	switch a.Role {
	case RoleDispatcher, RoleAgencyAdmin, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}

// SystemActor is used for transitions the dispatcher performs on its own.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type Request struct {
	ID               types.ID
	TenantID         types.TenantID
	CustomerID       types.ID
	Kind             Kind
	Mode             Mode
	Status           Status
	Version          int
	Pickup           types.Place
	Dropoff          types.Place
	AssignedDriverID *types.ID
	RequiredCapacity int
	VehicleType      string
	SharedGroupID    *types.ID
	ScheduledAt      *time.Time
	DispatchAttempts int
	NextDispatchAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Events           []Event
}

type Event struct {
	Seq       int
	Status    Status
	At        time.Time
	Location  *types.Point
	ActorID   *types.ID
	ActorRole Role
	Notes     string
	Metadata  map[string]string
}

// Pending reports whether the request still waits for a driver.
func (r *Request) Pending() bool {
	return r.Status == InitialStatus(r.Kind)
}

// Shared reports whether the trip may be pooled with others.
func (r *Request) Shared() bool {
	return r.Kind == KindTrip && r.Mode == ModeOutTownShared
}

// WindowStart is the pickup time used for pooling compatibility.
func (r *Request) WindowStart() time.Time {
	if r.ScheduledAt != nil {
		return *r.ScheduledAt
	}
	return r.CreatedAt
}

// LastEvent returns the most recent event, or nil for an empty log.
func (r *Request) LastEvent() *Event {
	if len(r.Events) == 0 {
		return nil
	}
	return &r.Events[len(r.Events)-1]
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *Request) Clone() *Request {
	c := *r
	c.AssignedDriverID = cloneID(r.AssignedDriverID)
	c.SharedGroupID = cloneID(r.SharedGroupID)
	c.ScheduledAt = cloneTime(r.ScheduledAt)
	c.NextDispatchAt = cloneTime(r.NextDispatchAt)
	c.Events = make([]Event, len(r.Events))
	for i, e := range r.Events {
		c.Events[i] = e.clone()
	}
	return &c
}

func (e Event) clone() Event {
	c := e
	c.ActorID = cloneID(e.ActorID)
	if e.Location != nil {
		p := *e.Location
		c.Location = &p
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func cloneID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
