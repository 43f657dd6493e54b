package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunRetryScheduler re-dispatches pending requests whose next attempt is due
// until ctx is cancelled.
func (c *Coordinator) RunRetryScheduler(ctx context.Context) error {
	tick := c.cfg.RetryTick
	if tick <= 0 {
		tick = 3 * time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()

	c.log.WithField("tick", tick).Info("retry scheduler started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("retry scheduler stopped")
			return nil
		case <-t.C:
			if _, err := c.SweepDue(ctx); err != nil && ctx.Err() == nil {
				c.log.WithError(err).Warn("retry sweep failed")
			}
		}
	}
}

// SweepDue dispatches one batch of due requests and returns how many were tried.
func (c *Coordinator) SweepDue(ctx context.Context) (int, error) {
	refs, err := c.store.ListDueForDispatch(ctx, c.now(), c.cfg.RetryBatch)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			_, err := c.Dispatch(ctx, ref.TenantID, ref.ID)
			var cde *ConcurrentDispatchError
			if err != nil && !errors.As(err, &cde) && !isNoDriver(err) {
				c.log.WithError(err).WithField("request_id", ref.ID).Warn("scheduled dispatch failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(refs), nil
}

func isNoDriver(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Reason == ReasonNoDriver
}
