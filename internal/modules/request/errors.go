// README: Errors raised by request validation and lifecycle transitions.
package request

import (
	"errors"
	"fmt"

	"fleetd/internal/types"
)

var ErrBadRequest = errors.New("bad request")

const (
	ReasonNoEdge         = "transition not allowed"
	ReasonTerminal       = "request already in a terminal status"
	ReasonDriverRequired = "driver id required"
	ReasonNotAssignee    = "actor is not the assigned driver"
	ReasonNotPending     = "request is not pending"
)

// InvalidTransitionError reports a rejected state change. No mutation happened.
type InvalidTransitionError struct {
	RequestID types.ID
	From      Status
	To        Status
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for request %s: %s", e.From, e.To, e.RequestID, e.Reason)
}
