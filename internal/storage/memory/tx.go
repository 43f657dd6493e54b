// README: Unit of work bound to one locked request in the in-memory store.
package memory

import (
	"context"
	"fmt"
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

type tx struct {
	store  *Store
	tenant types.TenantID
	own    string
	undo   []func()
	// released holds driver keys whose capacity is returned at commit.
	released []string
	locks    map[string]func()
}

// commit applies the staged releases. Nothing is applied unless all of them fit.
func (t *tx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	counts := make(map[string]int, len(t.released))
	for _, k := range t.released {
		counts[k]++
	}
	for k, n := range counts {
		d, ok := t.store.drivers[k]
		if !ok || d.ActiveAssignments < n {
			return fmt.Errorf("driver %s: %w", k, storage.ErrConflict)
		}
	}
	for _, k := range t.released {
		_ = t.store.drivers[k].Release()
	}
	t.released = nil
	t.undo = nil
	return nil
}

func (t *tx) unlock() {
	for _, release := range t.locks {
		release()
	}
	t.locks = nil
}

func (t *tx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.released = nil
}

// TryLockRequest holds another request's lock until the unit of work ends.
func (t *tx) TryLockRequest(ctx context.Context, id types.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := key(t.tenant, id)
	if _, ok := t.locks[k]; ok || k == t.own {
		return nil
	}
	release, err := t.store.locks.acquire(ctx, k, storage.LockOptions{Policy: storage.LockFailFast})
	if err != nil {
		return err
	}
	if t.locks == nil {
		t.locks = make(map[string]func())
	}
	t.locks[k] = release
	return nil
}

func (t *tx) GetRequest(ctx context.Context, id types.ID) (*request.Request, error) {
	return t.store.GetRequest(ctx, t.tenant, id)
}

func (t *tx) SaveTransition(ctx context.Context, r *request.Request, ev request.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	k := key(t.tenant, r.ID)
	cur, ok := t.store.requests[k]
	if !ok {
		return fmt.Errorf("request %s: %w", r.ID, storage.ErrNotFound)
	}
	if cur.Version != r.Version-1 {
		return fmt.Errorf("request %s at version %d, expected %d: %w", r.ID, cur.Version, r.Version-1, storage.ErrConflict)
	}
	if last := r.LastEvent(); last == nil || last.Seq != ev.Seq || ev.Seq != len(cur.Events)+1 {
		return fmt.Errorf("request %s event sequence mismatch: %w", r.ID, storage.ErrConflict)
	}
	next := r.Clone()
	t.store.requests[k] = next
	t.undo = append(t.undo, func() { t.store.requests[k] = cur })
	return nil
}

func (t *tx) SaveDispatchState(ctx context.Context, id types.ID, attempts int, next *time.Time) error {
	return t.mutateRequest(ctx, id, func(r *request.Request) {
		r.DispatchAttempts = attempts
		if next != nil {
			at := *next
			r.NextDispatchAt = &at
		} else {
			r.NextDispatchAt = nil
		}
	})
}

func (t *tx) SetSharedGroup(ctx context.Context, id types.ID, group types.ID) error {
	return t.mutateRequest(ctx, id, func(r *request.Request) {
		g := group
		r.SharedGroupID = &g
	})
}

func (t *tx) mutateRequest(ctx context.Context, id types.ID, fn func(r *request.Request)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	k := key(t.tenant, id)
	cur, ok := t.store.requests[k]
	if !ok {
		return fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	next := cur.Clone()
	fn(next)
	t.store.requests[k] = next
	t.undo = append(t.undo, func() { t.store.requests[k] = cur })
	return nil
}

func (t *tx) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	return t.store.GetDriver(ctx, t.tenant, id)
}

func (t *tx) ClaimDriver(ctx context.Context, id types.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	d, ok := t.store.drivers[key(t.tenant, id)]
	if !ok {
		return false, nil
	}
	if err := d.Claim(); err != nil {
		return false, nil
	}
	t.undo = append(t.undo, func() { _ = d.Release() })
	return true, nil
}

// ReleaseDriver is staged and applied at commit, so the freed slot cannot be
// claimed by another request before this unit of work is known to succeed.
func (t *tx) ReleaseDriver(ctx context.Context, id types.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	k := key(t.tenant, id)
	d, ok := t.store.drivers[k]
	if !ok {
		return fmt.Errorf("driver %s: %w", id, storage.ErrNotFound)
	}
	staged := 0
	for _, r := range t.released {
		if r == k {
			staged++
		}
	}
	if d.ActiveAssignments-staged <= 0 {
		return fmt.Errorf("driver %s: %w", id, storage.ErrConflict)
	}
	t.released = append(t.released, k)
	return nil
}
