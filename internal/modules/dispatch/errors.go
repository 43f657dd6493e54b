// README: Dispatch error kinds surfaced to callers.
package dispatch

import (
	"errors"
	"fmt"

	"fleetd/internal/storage"
	"fleetd/internal/types"
)

type Reason string

const (
	ReasonNoDriver Reason = "no_driver"
	ReasonTimeout  Reason = "timeout"
	ReasonAborted  Reason = "aborted"
	ReasonRollback Reason = "rollback"
	ReasonInternal Reason = "internal"
)

var ErrPoolEmpty = errors.New("no trip could be pooled")

// DispatchError means the dispatch attempt ended without an assignment. The
// request is left pending, exactly as it was before the attempt. Op names the
// operation when it was not a dispatch, such as a transition that timed out.
type DispatchError struct {
	RequestID types.ID
	Op        string
	Reason    Reason
	Err       error
}

// Operation is Op, or "dispatch" when unset.
func (e *DispatchError) Operation() string {
	if e.Op == "" {
		return "dispatch"
	}
	return e.Op
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Operation(), e.RequestID, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Operation(), e.RequestID, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ConcurrentDispatchError means another operation held the request lock.
type ConcurrentDispatchError struct {
	RequestID types.ID
}

func (e *ConcurrentDispatchError) Error() string {
	return fmt.Sprintf("request %s is already being dispatched", e.RequestID)
}

func (e *ConcurrentDispatchError) Unwrap() error { return storage.ErrLockBusy }
