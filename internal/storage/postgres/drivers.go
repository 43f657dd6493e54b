// README: Driver rows, availability updates and location writes for the PostgreSQL store.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fleetd/internal/modules/driver"
	"fleetd/internal/types"
)

const driverColumns = `
	tenant_id, id, name, status, vehicle_type, vehicle_capacity, active_assignments,
	lat, lng, heading, location_at, updated_at`

func scanDriver(row pgx.Row) (*driver.Driver, error) {
	var (
		d                   driver.Driver
		tenant, id          string
		status, vehicleType string
		lat, lng            *float64
	)
	err := row.Scan(
		&tenant, &id, &d.Name, &status, &vehicleType, &d.VehicleCapacity, &d.ActiveAssignments,
		&lat, &lng, &d.Heading, &d.LocationAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.TenantID = types.TenantID(tenant)
	d.ID = types.ID(id)
	d.Status = driver.Status(status)
	d.VehicleType = driver.VehicleType(vehicleType)
	if lat != nil && lng != nil {
		d.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func getDriver(ctx context.Context, q querier, tenant types.TenantID, id types.ID) (*driver.Driver, error) {
	d, err := scanDriver(q.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE tenant_id = $1 AND id = $2`, string(tenant), string(id)))
	if err != nil {
		return nil, mapError(err, "driver", id)
	}
	return d, nil
}

func (s *Store) CreateDriver(ctx context.Context, d *driver.Driver) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			tenant_id, id, name, status, vehicle_type, vehicle_capacity, active_assignments,
			lat, lng, heading, location_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(d.TenantID), string(d.ID), d.Name, string(d.Status), string(d.VehicleType),
		d.VehicleCapacity, d.ActiveAssignments, lat, lng, d.Heading, d.LocationAt, d.UpdatedAt,
	)
	return mapError(err, "driver", d.ID)
}

func (s *Store) GetDriver(ctx context.Context, tenant types.TenantID, id types.ID) (*driver.Driver, error) {
	return getDriver(ctx, s.db, tenant, id)
}

func (s *Store) GetDrivers(ctx context.Context, tenant types.TenantID, ids []types.ID) (map[types.ID]*driver.Driver, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE tenant_id = $1 AND id = ANY($2)`, string(tenant), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]*driver.Driver, len(ids))
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

func (s *Store) SetDriverOnline(ctx context.Context, tenant types.TenantID, id types.ID, online bool) (*driver.Driver, error) {
	d, err := scanDriver(s.db.QueryRow(ctx, `
		UPDATE drivers SET
			status = CASE
				WHEN NOT $3::boolean THEN 'OFFLINE'
				WHEN active_assignments >= vehicle_capacity THEN 'BUSY'
				ELSE 'ONLINE'
			END,
			lat = CASE WHEN $3::boolean THEN lat END,
			lng = CASE WHEN $3::boolean THEN lng END,
			heading = CASE WHEN $3::boolean THEN heading END,
			location_at = CASE WHEN $3::boolean THEN location_at END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+driverColumns,
		string(tenant), string(id), online,
	))
	if err != nil {
		return nil, mapError(err, "driver", id)
	}
	return d, nil
}

func (s *Store) UpdateDriverLocation(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, heading *float64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET lat = $3, lng = $4, heading = $5, location_at = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status <> 'OFFLINE'
		  AND (location_at IS NULL OR location_at < $6)`,
		string(tenant), string(id), p.Lat, p.Lng, heading, at,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetDriver(ctx, tenant, id); err != nil {
		return false, err
	}
	return false, nil
}
