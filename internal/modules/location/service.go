// README: Nearby-driver search combining index fixes with driver eligibility.
package location

import (
	"context"
	"time"

	"fleetd/internal/modules/driver"
	"fleetd/internal/types"
)

const DefaultMaxFixAge = 2 * time.Minute

// DriverLookup loads driver records for the candidates an index query returned.
type DriverLookup interface {
	GetDrivers(ctx context.Context, tenant types.TenantID, ids []types.ID) (map[types.ID]*driver.Driver, error)
}

// Filter narrows a radius query to drivers that could take the request.
type Filter struct {
	VehicleType driver.VehicleType
	// MinSeats is the smallest vehicle capacity accepted.
	MinSeats int
}

type Candidate struct {
	DriverID   types.ID
	DistanceKm float64
	Point      types.Point
}

type Service struct {
	index   Index
	drivers DriverLookup
	maxAge  time.Duration
	now     func() time.Time
}

func NewService(index Index, drivers DriverLookup, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = DefaultMaxFixAge
	}
	return &Service{index: index, drivers: drivers, maxAge: maxAge, now: time.Now}
}

// FindNearby returns eligible drivers within radiusKm of origin, closest first,
// ties broken by driver id. Stale or missing positions are skipped.
func (s *Service) FindNearby(ctx context.Context, tenant types.TenantID, origin types.Point, radiusKm float64, f Filter) ([]Candidate, error) {
	fixes, err := s.index.Within(ctx, tenant, origin, radiusKm)
	if err != nil {
		return nil, err
	}
	if len(fixes) == 0 {
		return nil, nil
	}

	cutoff := s.now().Add(-s.maxAge)
	ids := make([]types.ID, 0, len(fixes))
	for _, fx := range fixes {
		if fx.At.Before(cutoff) {
			continue
		}
		ids = append(ids, fx.DriverID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	drivers, err := s.drivers.GetDrivers(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(ids))
	for _, fx := range fixes {
		d, ok := drivers[fx.DriverID]
		if !ok || fx.At.Before(cutoff) || !eligible(d, f) {
			continue
		}
		out = append(out, Candidate{DriverID: fx.DriverID, DistanceKm: fx.DistanceKm, Point: fx.Point})
	}
	sortByDistance(out, func(c Candidate) float64 { return c.DistanceKm }, func(c Candidate) types.ID { return c.DriverID })
	return out, nil
}

// Accepts reports whether d's vehicle meets the filter, whatever its status.
func (f Filter) Accepts(d *driver.Driver) bool {
	if f.VehicleType != "" && d.VehicleType != f.VehicleType {
		return false
	}
	return d.VehicleCapacity >= f.MinSeats
}

func eligible(d *driver.Driver, f Filter) bool {
	if !d.CanClaim() || d.Location == nil {
		return false
	}
	return f.Accepts(d)
}
