package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fleetd/internal/modules/matching"
	"fleetd/internal/modules/request"
	"fleetd/internal/observability"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

// Dispatch claims a driver for a pending request and moves it to ASSIGNED.
// The status check, the claim and the transition happen under the request lock
// in one unit of work; any failure leaves the request pending with no claim held.
func (c *Coordinator) Dispatch(ctx context.Context, tenant types.TenantID, id types.ID) (types.ID, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		kind     = "unknown"
		driverID types.ID
		out      *request.Request
		ev       request.Event
		noDriver *matching.NoDriverAvailableError
	)
	err := c.store.WithinRequest(ctx, tenant, id, c.lock, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		kind = string(r.Kind)
		if !r.Pending() {
			return &request.InvalidTransitionError{RequestID: r.ID, From: r.Status, To: request.StatusAssigned, Reason: request.ReasonNotPending}
		}

		d, err := c.matcher.AssignDriver(ctx, r, tx)
		if errors.As(err, &noDriver) {
			attempts := r.DispatchAttempts + 1
			return tx.SaveDispatchState(ctx, r.ID, attempts, c.nextAttempt(attempts))
		}
		if err != nil {
			return err
		}

		ev, err = request.Apply(r, request.TransitionInput{
			To:       request.StatusAssigned,
			Actor:    request.SystemActor,
			DriverID: &d,
			At:       c.now(),
		})
		if err == nil {
			r.NextDispatchAt = nil
			err = tx.SaveTransition(ctx, r, ev)
		}
		if err != nil {
			if rerr := tx.ReleaseDriver(ctx, d); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return &DispatchError{RequestID: id, Reason: ReasonRollback, Err: err}
		}
		driverID, out = d, r
		return nil
	})
	if err == nil && noDriver != nil {
		err = &DispatchError{RequestID: id, Reason: ReasonNoDriver, Err: noDriver}
	}
	err = c.classify(ctx, id, err)

	outcome := "assigned"
	if err != nil {
		outcome = outcomeOf(err)
	}
	observability.DispatchTotal.WithLabelValues(kind, outcome).Inc()
	observability.DispatchLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	log := c.log.WithFields(logrus.Fields{"request_id": id, "tenant_id": tenant, "outcome": outcome})
	if err != nil {
		log.WithError(err).Info("dispatch ended without assignment")
		return "", err
	}
	log.WithField("driver_id", driverID).Info("request assigned")
	c.committed(out, ev)
	return driverID, nil
}

// classify maps storage and context failures onto the dispatch error kinds.
func (c *Coordinator) classify(ctx context.Context, id types.ID, err error) error {
	if err == nil {
		return nil
	}
	var (
		de  *DispatchError
		ite *request.InvalidTransitionError
	)
	switch {
	case errors.As(err, &de), errors.As(err, &ite), errors.Is(err, storage.ErrNotFound):
		return err
	case errors.Is(err, storage.ErrLockBusy):
		return &ConcurrentDispatchError{RequestID: id}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &DispatchError{RequestID: id, Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &DispatchError{RequestID: id, Reason: ReasonAborted, Err: err}
	}
	return &DispatchError{RequestID: id, Reason: ReasonInternal, Err: err}
}

// classifyUnit types the lock and context failures of a transition or pool
// commit and passes every other error through.
func classifyUnit(op string, id types.ID, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrLockBusy):
		return &ConcurrentDispatchError{RequestID: id}
	case errors.Is(err, context.DeadlineExceeded):
		return &DispatchError{RequestID: id, Op: op, Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &DispatchError{RequestID: id, Op: op, Reason: ReasonAborted, Err: err}
	}
	return err
}

func outcomeOf(err error) string {
	var (
		de  *DispatchError
		cde *ConcurrentDispatchError
		ite *request.InvalidTransitionError
	)
	switch {
	case errors.As(err, &cde):
		return "concurrent"
	case errors.As(err, &de):
		return string(de.Reason)
	case errors.As(err, &ite):
		return "invalid_state"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// nextAttempt schedules the automatic retry after a failed attempt, or nil to stop retrying.
func (c *Coordinator) nextAttempt(attempts int) *time.Time {
	if !c.cfg.AutoDispatch || (c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts) {
		return nil
	}
	at := c.now().Add(Backoff(c.cfg.RetryBase, c.cfg.RetryMax, attempts))
	return &at
}

// Backoff doubles base for every attempt after the first, capped at ceiling.
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

type BatchResult struct {
	RequestID types.ID
	DriverID  types.ID
	Err       error
}

// DispatchBatch dispatches every id with at most cfg.Workers in flight.
// Results are in input order.
func (c *Coordinator) DispatchBatch(ctx context.Context, tenant types.TenantID, ids []types.ID) []BatchResult {
	results := make([]BatchResult, len(ids))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			d, err := c.Dispatch(ctx, tenant, id)
			results[i] = BatchResult{RequestID: id, DriverID: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
