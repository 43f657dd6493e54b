// README: Lifecycle tables per request kind and the pure transition function.
package request

import (
	"time"

	"fleetd/internal/types"
)

// MetaDriverID is the event metadata key naming the driver an event concerns.
const MetaDriverID = "driver_id"

// tripTransitions represents the trip state flow as code.
var tripTransitions = map[Status][]Status{
	StatusRequested:     {StatusAssigned, StatusCancelled},
	StatusAssigned:      {StatusDriverArrived, StatusCancelled},
	StatusDriverArrived: {StatusStarted, StatusCancelled},
	StatusStarted:       {StatusCompleted, StatusCancelled},
}

// parcelTransitions represents the parcel state flow as code.
var parcelTransitions = map[Status][]Status{
	StatusCreated:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusCancelled},
}

func transitions(kind Kind) map[Status][]Status {
	if kind == KindParcel {
		return parcelTransitions
	}
	return tripTransitions
}

func InitialStatus(kind Kind) Status {
	if kind == KindParcel {
		return StatusCreated
	}
	return StatusRequested
}

func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// HoldsDriver reports whether a request in status s keeps a driver assigned.
func HoldsDriver(kind Kind, s Status) bool {
	if s == StatusAssigned {
		return true
	}
	if kind == KindParcel {
		return s == StatusPickedUp || s == StatusInTransit
	}
	return s == StatusDriverArrived || s == StatusStarted
}

func CanTransition(kind Kind, from, to Status) bool {
	next, ok := transitions(kind)[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ValidPath reports whether statuses, read in order, walk the state machine from its initial state.
func ValidPath(kind Kind, statuses []Status) bool {
	if len(statuses) == 0 || statuses[0] != InitialStatus(kind) {
		return false
	}
	for i := 1; i < len(statuses); i++ {
		if !CanTransition(kind, statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}

type TransitionInput struct {
	To       Status
	Actor    Actor
	DriverID *types.ID
	Location *types.Point
	Notes    string
	Metadata map[string]string
	At       time.Time
}

// Apply validates the edge and, on success, updates r and appends the event.
// On failure r is left untouched.
func Apply(r *Request, in TransitionInput) (Event, error) {
	if err := check(r, in); err != nil {
		return Event{}, err
	}

	at := in.At
	if last := r.LastEvent(); last != nil && !at.After(last.At) {
		at = last.At.Add(time.Microsecond)
	}

	meta := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}

	ev := Event{
		Seq:       len(r.Events) + 1,
		Status:    in.To,
		At:        at,
		ActorRole: in.Actor.Role,
		Notes:     in.Notes,
	}
	if in.Actor.ID != "" {
		ev.ActorID = cloneID(&in.Actor.ID)
	}
	if in.Location != nil {
		p := *in.Location
		ev.Location = &p
	}

	switch {
	case in.To == StatusAssigned:
		r.AssignedDriverID = cloneID(in.DriverID)
		meta[MetaDriverID] = string(*in.DriverID)
	case IsTerminal(in.To) && r.AssignedDriverID != nil:
		meta[MetaDriverID] = string(*r.AssignedDriverID)
		r.AssignedDriverID = nil
	}
	if len(meta) > 0 {
		ev.Metadata = meta
	}

	r.Status = in.To
	r.Version++
	r.UpdatedAt = at
	r.Events = append(r.Events, ev)
	return ev, nil
}

func check(r *Request, in TransitionInput) error {
	fail := func(reason string) error {
		return &InvalidTransitionError{RequestID: r.ID, From: r.Status, To: in.To, Reason: reason}
	}
	if IsTerminal(r.Status) {
		return fail(ReasonTerminal)
	}
	if !CanTransition(r.Kind, r.Status, in.To) {
		return fail(ReasonNoEdge)
	}
	if in.To == StatusAssigned && (in.DriverID == nil || *in.DriverID == "") {
		return fail(ReasonDriverRequired)
	}
	if HoldsDriver(r.Kind, r.Status) && !in.Actor.Privileged() {
		owner := in.To == StatusCancelled && in.Actor.ID != "" && in.Actor.ID == r.CustomerID
		assignee := r.AssignedDriverID != nil && in.Actor.ID == *r.AssignedDriverID
		if !owner && !assignee {
			return fail(ReasonNotAssignee)
		}
	}
	return nil
}
