// README: Geospatial index contract for driver positions.
package location

import (
	"context"
	"time"

	"fleetd/internal/types"
)

// Fix is a driver position returned by a radius query.
type Fix struct {
	DriverID   types.ID
	Point      types.Point
	DistanceKm float64
	At         time.Time
}

// Index keeps the last known position per driver, scoped by tenant.
// Writes come from the location feed and may lag reality.
type Index interface {
	Upsert(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, at time.Time) error
	Remove(ctx context.Context, tenant types.TenantID, id types.ID) error
	// Within returns fixes no farther than radiusKm from origin, ordered by distance then id.
	Within(ctx context.Context, tenant types.TenantID, origin types.Point, radiusKm float64) ([]Fix, error)
}
