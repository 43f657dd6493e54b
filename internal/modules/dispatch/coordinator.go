// README: Dispatch coordinator: request creation, locked claim protocol, transitions and pooling.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetd/internal/config"
	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/matching"
	"fleetd/internal/modules/notification"
	"fleetd/internal/modules/pooling"
	"fleetd/internal/modules/request"
	"fleetd/internal/observability"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

// Matcher claims a driver for a pending request through claimer.
type Matcher interface {
	AssignDriver(ctx context.Context, r *request.Request, claimer matching.Claimer) (types.ID, error)
}

type Planner interface {
	Plan(ctx context.Context, anchor *request.Request, start *types.Point, pending []*request.Request, maxDetourKm float64) (pooling.Plan, error)
}

type Coordinator struct {
	store    storage.Store
	matcher  Matcher
	planner  Planner
	notifier notification.Notifier
	cfg      config.DispatchConfig
	pool     config.PoolingConfig
	lock     storage.LockOptions
	now      func() time.Time
	log      *logrus.Entry
	wg       sync.WaitGroup
}

func NewCoordinator(store storage.Store, matcher Matcher, planner Planner, notifier notification.Notifier, cfg config.DispatchConfig, pool config.PoolingConfig, log *logrus.Entry) (*Coordinator, error) {
	policy, err := storage.ParseLockPolicy(cfg.LockPolicy)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Coordinator{
		store:    store,
		matcher:  matcher,
		planner:  planner,
		notifier: notifier,
		cfg:      cfg,
		pool:     pool,
		lock:     storage.LockOptions{Policy: policy, Wait: cfg.LockWait},
		now:      time.Now,
		log:      log,
	}, nil
}

// CreateRequest persists a new request in its initial status.
func (c *Coordinator) CreateRequest(ctx context.Context, tenant types.TenantID, cmd request.CreateCommand) (*request.Request, error) {
	r, err := request.New(tenant, cmd, c.now())
	if err != nil {
		return nil, err
	}
	if c.cfg.AutoDispatch {
		at := r.CreatedAt
		r.NextDispatchAt = &at
	}
	if err := c.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	c.committed(r, r.Events[0])
	c.log.WithFields(logrus.Fields{"request_id": r.ID, "tenant_id": tenant, "kind": r.Kind}).Info("request created")
	return r.Clone(), nil
}

func (c *Coordinator) GetRequest(ctx context.Context, tenant types.TenantID, id types.ID) (*request.Request, error) {
	return c.store.GetRequest(ctx, tenant, id)
}

type TransitionCommand struct {
	RequestID types.ID
	To        request.Status
	Actor     request.Actor
	// DriverID is required for a manual move to ASSIGNED; the driver is claimed in the same unit of work.
	DriverID *types.ID
	Location *types.Point
	Notes    string
	Metadata map[string]string
}

// Transition applies one lifecycle change under the request lock. Terminal
// transitions release the driver that held the request.
func (c *Coordinator) Transition(ctx context.Context, tenant types.TenantID, cmd TransitionCommand) (*request.Request, request.Event, error) {
	opts := c.lock
	if cmd.To == request.StatusCancelled {
		opts = storage.LockOptions{Policy: storage.LockWait}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		out *request.Request
		ev  request.Event
	)
	err := c.store.WithinRequest(ctx, tenant, cmd.RequestID, opts, func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.GetRequest(ctx, cmd.RequestID)
		if err != nil {
			return err
		}
		held := r.AssignedDriverID

		ev, err = request.Apply(r, request.TransitionInput{
			To:       cmd.To,
			Actor:    cmd.Actor,
			DriverID: cmd.DriverID,
			Location: cmd.Location,
			Notes:    cmd.Notes,
			Metadata: cmd.Metadata,
			At:       c.now(),
		})
		if err != nil {
			return err
		}

		if cmd.To == request.StatusAssigned {
			if err := claimFor(ctx, tx, r, *cmd.DriverID); err != nil {
				return err
			}
		}
		if request.IsTerminal(cmd.To) && held != nil {
			if err := tx.ReleaseDriver(ctx, *held); err != nil {
				return err
			}
		}
		if !r.Pending() {
			r.NextDispatchAt = nil
		}
		if err := tx.SaveTransition(ctx, r, ev); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, request.Event{}, classifyUnit("transition", cmd.RequestID, err)
	}

	c.committed(out, ev)
	return out, ev, nil
}

// claimFor claims the driver for a manual assignment. The driver must pass the
// same vehicle rules as automatic matching.
func claimFor(ctx context.Context, tx storage.Tx, r *request.Request, id types.ID) error {
	d, err := tx.GetDriver(ctx, id)
	if err != nil {
		return err
	}
	if !matching.FilterFor(r).Accepts(d) {
		return fmt.Errorf("driver %s cannot carry request %s: %w", id, r.ID, driver.ErrNoCapacity)
	}
	ok, err := tx.ClaimDriver(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("driver %s: %w", id, driver.ErrNoCapacity)
	}
	return nil
}

// Cancel moves the request to CANCELLED. It always waits for an in-flight
// dispatch to finish, so it never interleaves with a claim.
func (c *Coordinator) Cancel(ctx context.Context, tenant types.TenantID, id types.ID, actor request.Actor, notes string) (*request.Request, request.Event, error) {
	return c.Transition(ctx, tenant, TransitionCommand{RequestID: id, To: request.StatusCancelled, Actor: actor, Notes: notes})
}

// committed records metrics and fans out the notification for a persisted event.
func (c *Coordinator) committed(r *request.Request, ev request.Event) {
	observability.TransitionsTotal.WithLabelValues(string(r.Kind), string(ev.Status)).Inc()
	if c.notifier == nil {
		return
	}
	n := notification.FromEvent(r, ev)
	timeout := c.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"request_id": n.RequestID, "status": n.Status}).Warn("notification failed")
		}
	}()
}

// Wait blocks until pending notifications have been delivered or given up.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
