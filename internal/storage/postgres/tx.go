// README: Unit of work bound to one advisory-locked request.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

type tx struct {
	q      querier
	tenant types.TenantID
}

func (t *tx) GetRequest(ctx context.Context, id types.ID) (*request.Request, error) {
	return getRequestForUpdate(ctx, t.q, t.tenant, id)
}

func (t *tx) SaveTransition(ctx context.Context, r *request.Request, ev request.Event) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE requests
		SET status = $3,
		    version = $4,
		    assigned_driver_id = $5,
		    shared_group_id = $6,
		    dispatch_attempts = $7,
		    next_dispatch_at = $8,
		    updated_at = $9
		WHERE tenant_id = $1 AND id = $2 AND version = $10`,
		string(t.tenant), string(r.ID),
		string(r.Status), r.Version, idPtr(r.AssignedDriverID), idPtr(r.SharedGroupID),
		r.DispatchAttempts, r.NextDispatchAt, r.UpdatedAt,
		r.Version-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("request %s at version %d: %w", r.ID, r.Version-1, storage.ErrConflict)
	}
	if err := insertEvent(ctx, t.q, t.tenant, r.ID, ev); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("request %s event %d: %w", r.ID, ev.Seq, storage.ErrConflict)
		}
		return err
	}
	return nil
}

func (t *tx) SaveDispatchState(ctx context.Context, id types.ID, attempts int, next *time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE requests SET dispatch_attempts = $3, next_dispatch_at = $4
		WHERE tenant_id = $1 AND id = $2`,
		string(t.tenant), string(id), attempts, next,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *tx) SetSharedGroup(ctx context.Context, id types.ID, group types.ID) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE requests SET shared_group_id = $3
		WHERE tenant_id = $1 AND id = $2`,
		string(t.tenant), string(id), string(group),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// TryLockRequest takes the member's advisory lock on the same transaction.
func (t *tx) TryLockRequest(ctx context.Context, id types.ID) error {
	return lockRequest(ctx, t.q, string(t.tenant)+"/"+string(id), storage.LockOptions{Policy: storage.LockFailFast})
}

func (t *tx) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return getDriver(ctx, t.q, t.tenant, id)
}

// ClaimDriver is a single conditional update; losing the race leaves zero rows affected.
func (t *tx) ClaimDriver(ctx context.Context, id types.ID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE drivers
		SET active_assignments = active_assignments + 1,
		    status = CASE WHEN active_assignments + 1 >= vehicle_capacity THEN 'BUSY' ELSE status END,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status = 'ONLINE'
		  AND active_assignments < vehicle_capacity`,
		string(t.tenant), string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) ReleaseDriver(ctx context.Context, id types.ID) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE drivers
		SET active_assignments = active_assignments - 1,
		    status = CASE WHEN status = 'BUSY' THEN 'ONLINE' ELSE status END,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND active_assignments > 0`,
		string(t.tenant), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("driver %s: %w", id, storage.ErrConflict)
	}
	return nil
}
