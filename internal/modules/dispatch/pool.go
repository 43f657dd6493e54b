package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"fleetd/internal/modules/pooling"
	"fleetd/internal/modules/request"
	"fleetd/internal/observability"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

// PlanPool computes a pooled route for a shared trip. maxDetourKm nil uses the
// configured default. The plan is empty when nothing fits within the budget.
func (c *Coordinator) PlanPool(ctx context.Context, tenant types.TenantID, id types.ID, maxDetourKm *float64) (pooling.Plan, error) {
	plan, err := c.planPool(ctx, tenant, id, maxDetourKm)
	switch {
	case err != nil:
		observability.PoolPlans.WithLabelValues("error").Inc()
	case plan.IsEmpty():
		observability.PoolPlans.WithLabelValues("empty").Inc()
	default:
		observability.PoolPlans.WithLabelValues("planned").Inc()
	}
	return plan, err
}

func (c *Coordinator) planPool(ctx context.Context, tenant types.TenantID, id types.ID, maxDetourKm *float64) (pooling.Plan, error) {
	anchor, err := c.store.GetRequest(ctx, tenant, id)
	if err != nil {
		return pooling.Plan{}, err
	}
	if err := poolable(anchor); err != nil {
		return pooling.Plan{}, err
	}

	budget := c.pool.DefaultMaxDetourKm
	if maxDetourKm != nil {
		budget = *maxDetourKm
	}

	var start *types.Point
	if anchor.AssignedDriverID != nil {
		d, err := c.store.GetDriver(ctx, tenant, *anchor.AssignedDriverID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return pooling.Plan{}, err
		}
		if d != nil && d.Location != nil {
			p := *d.Location
			start = &p
		}
	}

	ws := anchor.WindowStart()
	pending, err := c.store.ListPoolCandidates(ctx, tenant, ws.Add(-c.pool.Window), ws.Add(c.pool.Window))
	if err != nil {
		return pooling.Plan{}, err
	}
	return c.planner.Plan(ctx, anchor, start, pending, budget)
}

// poolable reports why a trip cannot anchor a pool, if it cannot.
func poolable(r *request.Request) error {
	if !r.Shared() {
		return fmt.Errorf("%w: request %s is not a shared trip", request.ErrBadRequest, r.ID)
	}
	if r.SharedGroupID != nil {
		return fmt.Errorf("%w: request %s is already pooled", request.ErrBadRequest, r.ID)
	}
	if !r.Pending() && r.Status != request.StatusAssigned {
		return &request.InvalidTransitionError{RequestID: r.ID, From: r.Status, To: r.Status, Reason: request.ReasonNotPending}
	}
	return nil
}

type PoolCommit struct {
	GroupID   types.ID
	Plan      pooling.Plan
	Committed []types.ID
	Skipped   []types.ID
}

// CommitPool plans the pool again and stamps one shared group id on the anchor
// and on every member that is still pending and ungrouped. Member locks are
// taken inside the anchor's unit of work, so every stamp commits or rolls back
// together. Busy or changed members are skipped.
func (c *Coordinator) CommitPool(ctx context.Context, tenant types.TenantID, anchorID types.ID, maxDetourKm *float64) (PoolCommit, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	plan, err := c.PlanPool(ctx, tenant, anchorID, maxDetourKm)
	if err != nil {
		return PoolCommit{}, err
	}
	if plan.IsEmpty() {
		return PoolCommit{Plan: plan}, ErrPoolEmpty
	}

	res := PoolCommit{GroupID: types.NewID(), Plan: plan}
	log := c.log.WithFields(logrus.Fields{"tenant_id": tenant, "anchor_id": anchorID, "group_id": res.GroupID})

	err = c.store.WithinRequest(ctx, tenant, anchorID, c.lock, func(ctx context.Context, tx storage.Tx) error {
		res.Committed, res.Skipped = nil, nil
		anchor, err := tx.GetRequest(ctx, anchorID)
		if err != nil {
			return err
		}
		if err := poolable(anchor); err != nil {
			return err
		}

		for _, id := range plan.Members {
			if id == anchorID {
				continue
			}
			err := stampMember(ctx, tx, id, res.GroupID)
			if errors.Is(err, storage.ErrLockBusy) || errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				log.WithError(err).WithField("request_id", id).Info("pool member skipped")
				res.Skipped = append(res.Skipped, id)
				continue
			}
			if err != nil {
				return err
			}
			res.Committed = append(res.Committed, id)
		}
		if len(res.Committed) == 0 {
			return ErrPoolEmpty
		}
		return tx.SetSharedGroup(ctx, anchorID, res.GroupID)
	})
	if err != nil {
		return PoolCommit{}, classifyUnit("pool commit", anchorID, err)
	}

	res.Committed = append([]types.ID{anchorID}, res.Committed...)
	res.Plan = restrictPlan(plan, res.Committed)
	log.WithField("members", res.Committed).Info("pool committed")
	return res, nil
}

// stampMember locks one pool member on the anchor's unit of work and stamps the group.
func stampMember(ctx context.Context, tx storage.Tx, id, group types.ID) error {
	if err := tx.TryLockRequest(ctx, id); err != nil {
		return err
	}
	r, err := tx.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !r.Shared() || !r.Pending() || r.SharedGroupID != nil {
		return fmt.Errorf("%w: request %s no longer poolable", storage.ErrConflict, id)
	}
	return tx.SetSharedGroup(ctx, id, group)
}

// restrictPlan drops the stops of members that were not committed. Distances
// still describe the planned route.
func restrictPlan(plan pooling.Plan, members []types.ID) pooling.Plan {
	keep := make(map[types.ID]bool, len(members))
	for _, id := range members {
		keep[id] = true
	}
	out := plan
	out.Members = members
	out.Stops = make([]pooling.Stop, 0, 2*len(members))
	for _, s := range plan.Stops {
		if keep[s.RequestID] {
			out.Stops = append(out.Stops, s)
		}
	}
	return out
}
