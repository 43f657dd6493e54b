// README: PostgreSQL store; advisory transaction locks and conditional-update claims.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO requests (
			tenant_id, id, customer_id, kind, mode, status, version,
			pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			assigned_driver_id, required_capacity, vehicle_type, shared_group_id,
			scheduled_at, dispatch_attempts, next_dispatch_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22
		)`,
		string(r.TenantID), string(r.ID), string(r.CustomerID), string(r.Kind), string(r.Mode), string(r.Status), r.Version,
		r.Pickup.Point.Lat, r.Pickup.Point.Lng, r.Pickup.Address,
		r.Dropoff.Point.Lat, r.Dropoff.Point.Lng, r.Dropoff.Address,
		idPtr(r.AssignedDriverID), r.RequiredCapacity, r.VehicleType, idPtr(r.SharedGroupID),
		r.ScheduledAt, r.DispatchAttempts, r.NextDispatchAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "request", r.ID)
	}
	for _, ev := range r.Events {
		if err := insertEvent(ctx, tx, r.TenantID, r.ID, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRequest(ctx context.Context, tenant types.TenantID, id types.ID) (*request.Request, error) {
	return getRequest(ctx, s.db, tenant, id)
}

// ListPoolCandidates does not load event logs.
func (s *Store) ListPoolCandidates(ctx context.Context, tenant types.TenantID, from, to time.Time) ([]*request.Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE tenant_id = $1
		  AND kind = 'TRIP' AND mode = 'OUT_TOWN_SHARED' AND status = 'REQUESTED'
		  AND shared_group_id IS NULL
		  AND COALESCE(scheduled_at, created_at) BETWEEN $2 AND $3
		ORDER BY id`,
		string(tenant), from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*request.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListDueForDispatch(ctx context.Context, now time.Time, limit int) ([]storage.Ref, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, id
		FROM requests
		WHERE next_dispatch_at IS NOT NULL AND next_dispatch_at <= $1
		  AND status IN ('REQUESTED', 'CREATED')
		ORDER BY next_dispatch_at, id
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []storage.Ref
	for rows.Next() {
		var tenant, id string
		if err := rows.Scan(&tenant, &id); err != nil {
			return nil, err
		}
		refs = append(refs, storage.Ref{TenantID: types.TenantID(tenant), ID: types.ID(id)})
	}
	return refs, rows.Err()
}

func (s *Store) WithinRequest(ctx context.Context, tenant types.TenantID, id types.ID, opts storage.LockOptions, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgtx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := lockRequest(ctx, pgtx, string(tenant)+"/"+string(id), opts); err != nil {
		return err
	}
	if err := fn(ctx, &tx{q: pgtx, tenant: tenant}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// lockRequest takes a transaction-scoped advisory lock keyed by the request.
func lockRequest(ctx context.Context, q querier, key string, opts storage.LockOptions) error {
	if opts.Policy == storage.LockFailFast {
		var ok bool
		if err := q.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return storage.ErrLockBusy
		}
		return nil
	}

	if opts.Wait > 0 {
		timeout := fmt.Sprintf("%dms", opts.Wait.Milliseconds())
		if _, err := q.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return err
		}
	}
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return storage.ErrLockBusy
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if opts.Wait > 0 {
		if _, err := q.Exec(ctx, `SELECT set_config('lock_timeout', '0', true)`); err != nil {
			return err
		}
	}
	return nil
}

func mapError(err error, what string, id types.ID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrDuplicate)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
