// README: Persistence contract for requests, drivers and the per-request lock.
package storage

import (
	"context"
	"errors"
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("version conflict")
	ErrDuplicate = errors.New("already exists")
	ErrLockBusy  = errors.New("request is locked by another operation")
)

type LockPolicy string

const (
	LockWait     LockPolicy = "wait"
	LockFailFast LockPolicy = "fail_fast"
)

// LockOptions controls how WithinRequest acquires the request lock.
// Wait bounds the LockWait policy; zero waits until ctx is done.
type LockOptions struct {
	Policy LockPolicy
	Wait   time.Duration
}

func ParseLockPolicy(v string) (LockPolicy, error) {
	switch LockPolicy(v) {
	case LockWait, LockFailFast:
		return LockPolicy(v), nil
	}
	return "", errors.New("unknown lock policy " + v)
}

// Ref points at a request in a tenant.
type Ref struct {
	TenantID types.TenantID
	ID       types.ID
}

// Tx is the unit of work bound to one locked request. Every write made through
// it commits together when fn returns nil and is undone otherwise.
type Tx interface {
	GetRequest(ctx context.Context, id types.ID) (*request.Request, error)
	// SaveTransition persists r (whose Version was bumped by one) and appends ev.
	SaveTransition(ctx context.Context, r *request.Request, ev request.Event) error
	SaveDispatchState(ctx context.Context, id types.ID, attempts int, next *time.Time) error
	SetSharedGroup(ctx context.Context, id types.ID, group types.ID) error
	// TryLockRequest takes the lock of another request in the same tenant and
	// holds it until the unit of work ends. It returns ErrLockBusy at once when
	// the lock is held elsewhere.
	TryLockRequest(ctx context.Context, id types.ID) error
	GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error)
	// ClaimDriver atomically takes one unit of capacity when the driver is ONLINE
	// and below capacity. It reports false when the claim was lost.
	ClaimDriver(ctx context.Context, id types.ID) (bool, error)
	ReleaseDriver(ctx context.Context, id types.ID) error
}

type Store interface {
	driver.Store

	CreateRequest(ctx context.Context, r *request.Request) error
	GetRequest(ctx context.Context, tenant types.TenantID, id types.ID) (*request.Request, error)
	GetDrivers(ctx context.Context, tenant types.TenantID, ids []types.ID) (map[types.ID]*driver.Driver, error)
	// ListPoolCandidates returns pending, ungrouped shared trips whose pickup window starts in [from, to].
	ListPoolCandidates(ctx context.Context, tenant types.TenantID, from, to time.Time) ([]*request.Request, error)
	// ListDueForDispatch returns pending requests whose next dispatch time has passed, oldest first.
	ListDueForDispatch(ctx context.Context, now time.Time, limit int) ([]Ref, error)

	// WithinRequest runs fn while holding the exclusive lock for one request.
	WithinRequest(ctx context.Context, tenant types.TenantID, id types.ID, opts LockOptions, fn func(ctx context.Context, tx Tx) error) error
}
