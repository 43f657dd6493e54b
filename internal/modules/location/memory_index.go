// README: In-process geospatial index bucketed by geohash cell.
package location

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"fleetd/internal/types"
)

const DefaultGeohashPrecision = 4

type memFix struct {
	point types.Point
	at    time.Time
	cell  string
}

type tenantIndex struct {
	fixes map[types.ID]memFix
	cells map[string]map[types.ID]struct{}
}

type MemoryIndex struct {
	mu        sync.RWMutex
	precision uint
	tenants   map[types.TenantID]*tenantIndex
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex(precision uint) *MemoryIndex {
	if precision == 0 {
		precision = DefaultGeohashPrecision
	}
	return &MemoryIndex{precision: precision, tenants: make(map[types.TenantID]*tenantIndex)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenant]
	if !ok {
		t = &tenantIndex{fixes: make(map[types.ID]memFix), cells: make(map[string]map[types.ID]struct{})}
		m.tenants[tenant] = t
	}
	if old, ok := t.fixes[id]; ok {
		if at.Before(old.at) {
			return nil
		}
		t.removeFromCell(old.cell, id)
	}
	cell := geohash.EncodeWithPrecision(p.Lat, p.Lng, m.precision)
	t.fixes[id] = memFix{point: p, at: at, cell: cell}
	bucket, ok := t.cells[cell]
	if !ok {
		bucket = make(map[types.ID]struct{})
		t.cells[cell] = bucket
	}
	bucket[id] = struct{}{}
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, tenant types.TenantID, id types.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenant]
	if !ok {
		return nil
	}
	if old, ok := t.fixes[id]; ok {
		t.removeFromCell(old.cell, id)
		delete(t.fixes, id)
	}
	return nil
}

func (m *MemoryIndex) Within(ctx context.Context, tenant types.TenantID, origin types.Point, radiusKm float64) ([]Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenant]
	if !ok {
		return nil, nil
	}

	var out []Fix
	consider := func(id types.ID, f memFix) {
		if d := DistanceKm(origin, f.point); d <= radiusKm {
			out = append(out, Fix{DriverID: id, Point: f.point, DistanceKm: d, At: f.at})
		}
	}

	center := geohash.EncodeWithPrecision(origin.Lat, origin.Lng, m.precision)
	if radiusKm <= cellSpanKm(center) {
		for _, cell := range append(geohash.Neighbors(center), center) {
			for id := range t.cells[cell] {
				consider(id, t.fixes[id])
			}
		}
	} else {
		for id, f := range t.fixes {
			consider(id, f)
		}
	}

	sortByDistance(out, func(f Fix) float64 { return f.DistanceKm }, func(f Fix) types.ID { return f.DriverID })
	return out, nil
}

func (t *tenantIndex) removeFromCell(cell string, id types.ID) {
	bucket := t.cells[cell]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(t.cells, cell)
	}
}

// cellSpanKm is the smaller side of a geohash cell. A radius no larger than it
// is fully covered by the cell and its eight neighbours.
func cellSpanKm(cell string) float64 {
	box := geohash.BoundingBox(cell)
	height := haversineKm(box.MinLat, box.MinLng, box.MaxLat, box.MinLng)
	lat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	width := haversineKm(lat, box.MinLng, lat, box.MaxLng)
	return math.Min(height, width)
}
