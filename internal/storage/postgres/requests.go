// README: Request and event row mapping for the PostgreSQL store.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

const requestColumns = `
	tenant_id, id, customer_id, kind, mode, status, version,
	pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address,
	assigned_driver_id, required_capacity, vehicle_type, shared_group_id,
	scheduled_at, dispatch_attempts, next_dispatch_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*request.Request, error) {
	var (
		r                    request.Request
		tenant, id, customer string
		kind, mode, status   string
		assigned, group      *string
	)
	err := row.Scan(
		&tenant, &id, &customer, &kind, &mode, &status, &r.Version,
		&r.Pickup.Point.Lat, &r.Pickup.Point.Lng, &r.Pickup.Address,
		&r.Dropoff.Point.Lat, &r.Dropoff.Point.Lng, &r.Dropoff.Address,
		&assigned, &r.RequiredCapacity, &r.VehicleType, &group,
		&r.ScheduledAt, &r.DispatchAttempts, &r.NextDispatchAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TenantID = types.TenantID(tenant)
	r.ID = types.ID(id)
	r.CustomerID = types.ID(customer)
	r.Kind = request.Kind(kind)
	r.Mode = request.Mode(mode)
	r.Status = request.Status(status)
	r.AssignedDriverID = toIDPtr(assigned)
	r.SharedGroupID = toIDPtr(group)
	return &r, nil
}

func getRequest(ctx context.Context, q querier, tenant types.TenantID, id types.ID) (*request.Request, error) {
	r, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE tenant_id = $1 AND id = $2`, string(tenant), string(id)))
	if err != nil {
		return nil, mapError(err, "request", id)
	}
	events, err := loadEvents(ctx, q, tenant, id)
	if err != nil {
		return nil, err
	}
	r.Events = events
	return r, nil
}

// getRequestForUpdate also row-locks the request for the enclosing transaction.
func getRequestForUpdate(ctx context.Context, q querier, tenant types.TenantID, id types.ID) (*request.Request, error) {
	r, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, string(tenant), string(id)))
	if err != nil {
		return nil, mapError(err, "request", id)
	}
	events, err := loadEvents(ctx, q, tenant, id)
	if err != nil {
		return nil, err
	}
	r.Events = events
	return r, nil
}

func loadEvents(ctx context.Context, q querier, tenant types.TenantID, id types.ID) ([]request.Event, error) {
	rows, err := q.Query(ctx, `
		SELECT seq, status, at, lat, lng, actor_id, actor_role, notes, metadata
		FROM request_events
		WHERE tenant_id = $1 AND request_id = $2
		ORDER BY seq`,
		string(tenant), string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []request.Event
	for rows.Next() {
		var (
			ev       request.Event
			status   string
			role     string
			lat, lng *float64
			actor    *string
			meta     []byte
			at       time.Time
		)
		if err := rows.Scan(&ev.Seq, &status, &at, &lat, &lng, &actor, &role, &ev.Notes, &meta); err != nil {
			return nil, err
		}
		ev.Status = request.Status(status)
		ev.At = at
		ev.ActorRole = request.Role(role)
		ev.ActorID = toIDPtr(actor)
		if lat != nil && lng != nil {
			ev.Location = &types.Point{Lat: *lat, Lng: *lng}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, q querier, tenant types.TenantID, id types.ID, ev request.Event) error {
	var lat, lng *float64
	if ev.Location != nil {
		lat, lng = &ev.Location.Lat, &ev.Location.Lng
	}
	var meta []byte
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := q.Exec(ctx, `
		INSERT INTO request_events (
			tenant_id, request_id, seq, status, at, lat, lng, actor_id, actor_role, notes, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)`,
		string(tenant), string(id), ev.Seq, string(ev.Status), ev.At, lat, lng,
		idPtr(ev.ActorID), string(ev.ActorRole), ev.Notes, meta,
	)
	return mapError(err, "request event", id)
}
