// README: In-memory store for requests and drivers; the unit of work keeps an undo log and stages releases until commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

type Store struct {
	mu       sync.Mutex
	requests map[string]*request.Request
	drivers  map[string]*driver.Driver
	locks    *lockRegistry
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		requests: make(map[string]*request.Request),
		drivers:  make(map[string]*driver.Driver),
		locks:    newLockRegistry(),
	}
}

func key(tenant types.TenantID, id types.ID) string {
	return string(tenant) + "/" + string(id)
}

func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(r.TenantID, r.ID)
	if _, ok := s.requests[k]; ok {
		return fmt.Errorf("request %s: %w", r.ID, storage.ErrDuplicate)
	}
	s.requests[k] = r.Clone()
	return nil
}

func (s *Store) GetRequest(ctx context.Context, tenant types.TenantID, id types.ID) (*request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[key(tenant, id)]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) ListPoolCandidates(ctx context.Context, tenant types.TenantID, from, to time.Time) ([]*request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*request.Request
	for _, r := range s.requests {
		if r.TenantID != tenant || !r.Shared() || !r.Pending() || r.SharedGroupID != nil {
			continue
		}
		w := r.WindowStart()
		if w.Before(from) || w.After(to) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListDueForDispatch(ctx context.Context, now time.Time, limit int) ([]storage.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	due := make([]*request.Request, 0)
	for _, r := range s.requests {
		if r.Pending() && r.NextDispatchAt != nil && !r.NextDispatchAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDispatchAt.Equal(*due[j].NextDispatchAt) {
			return due[i].NextDispatchAt.Before(*due[j].NextDispatchAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	refs := make([]storage.Ref, len(due))
	for i, r := range due {
		refs[i] = storage.Ref{TenantID: r.TenantID, ID: r.ID}
	}
	s.mu.Unlock()
	return refs, nil
}

func (s *Store) CreateDriver(ctx context.Context, d *driver.Driver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(d.TenantID, d.ID)
	if _, ok := s.drivers[k]; ok {
		return fmt.Errorf("driver %s: %w", d.ID, storage.ErrDuplicate)
	}
	s.drivers[k] = d.Clone()
	return nil
}

func (s *Store) GetDriver(ctx context.Context, tenant types.TenantID, id types.ID) (*driver.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[key(tenant, id)]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, storage.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *Store) GetDrivers(ctx context.Context, tenant types.TenantID, ids []types.ID) (map[types.ID]*driver.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.ID]*driver.Driver, len(ids))
	for _, id := range ids {
		if d, ok := s.drivers[key(tenant, id)]; ok {
			out[id] = d.Clone()
		}
	}
	return out, nil
}

func (s *Store) SetDriverOnline(ctx context.Context, tenant types.TenantID, id types.ID, online bool) (*driver.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[key(tenant, id)]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, storage.ErrNotFound)
	}
	d.SetOnline(online)
	d.UpdatedAt = time.Now()
	return d.Clone(), nil
}

func (s *Store) UpdateDriverLocation(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, heading *float64, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[key(tenant, id)]
	if !ok {
		return false, fmt.Errorf("driver %s: %w", id, storage.ErrNotFound)
	}
	if d.Status == driver.StatusOffline {
		return false, nil
	}
	if d.LocationAt != nil && !at.After(*d.LocationAt) {
		return false, nil
	}
	loc := p
	d.Location = &loc
	d.LocationAt = &at
	if heading != nil {
		h := *heading
		d.Heading = &h
	} else {
		d.Heading = nil
	}
	return true, nil
}

func (s *Store) WithinRequest(ctx context.Context, tenant types.TenantID, id types.ID, opts storage.LockOptions, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	release, err := s.locks.acquire(ctx, key(tenant, id), opts)
	if err != nil {
		return err
	}
	defer release()

	t := &tx{store: s, tenant: tenant, own: key(tenant, id)}
	defer t.unlock()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
		if err != nil {
			t.rollback()
		}
	}()
	if err = fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}
