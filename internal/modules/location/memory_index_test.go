package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetd/internal/types"
)

// offsetKm moves a point north by km along a meridian.
func offsetKm(p types.Point, km float64) types.Point {
	return types.Point{Lat: p.Lat + km/111.195, Lng: p.Lng}
}

func TestMemoryIndex_WithinOrdersByDistanceThenID(t *testing.T) {
	idx := NewMemoryIndex(0)
	ctx := context.Background()
	origin := types.Point{Lat: -6.2, Lng: 106.8}
	at := time.Now()

	require.NoError(t, idx.Upsert(ctx, "t1", "far", offsetKm(origin, 4), at))
	require.NoError(t, idx.Upsert(ctx, "t1", "b-near", offsetKm(origin, 1), at))
	require.NoError(t, idx.Upsert(ctx, "t1", "a-near", offsetKm(origin, 1), at))
	require.NoError(t, idx.Upsert(ctx, "t1", "outside", offsetKm(origin, 8), at))
	require.NoError(t, idx.Upsert(ctx, "t2", "other-tenant", origin, at))

	fixes, err := idx.Within(ctx, "t1", origin, 5)
	require.NoError(t, err)
	ids := make([]types.ID, len(fixes))
	for i, f := range fixes {
		ids[i] = f.DriverID
	}
	assert.Equal(t, []types.ID{"a-near", "b-near", "far"}, ids)
	assert.InDelta(t, 1.0, fixes[0].DistanceKm, 0.01)
}

func TestMemoryIndex_MoveAndRemove(t *testing.T) {
	idx := NewMemoryIndex(5)
	ctx := context.Background()
	origin := types.Point{Lat: 1.3, Lng: 103.8}
	at := time.Now()

	require.NoError(t, idx.Upsert(ctx, "t1", "d1", origin, at))
	require.NoError(t, idx.Upsert(ctx, "t1", "d1", offsetKm(origin, 50), at.Add(time.Second)))

	fixes, err := idx.Within(ctx, "t1", origin, 2)
	require.NoError(t, err)
	assert.Empty(t, fixes, "moved driver must leave its old cell")

	// Older fix does not overwrite a newer one.
	require.NoError(t, idx.Upsert(ctx, "t1", "d1", origin, at.Add(-time.Minute)))
	fixes, err = idx.Within(ctx, "t1", offsetKm(origin, 50), 1)
	require.NoError(t, err)
	require.Len(t, fixes, 1)

	require.NoError(t, idx.Remove(ctx, "t1", "d1"))
	fixes, err = idx.Within(ctx, "t1", offsetKm(origin, 50), 1)
	require.NoError(t, err)
	assert.Empty(t, fixes)
}

func TestMemoryIndex_LargeRadiusFallsBackToScan(t *testing.T) {
	idx := NewMemoryIndex(6)
	ctx := context.Background()
	origin := types.Point{Lat: 10, Lng: 10}
	require.NoError(t, idx.Upsert(ctx, "t1", "d1", offsetKm(origin, 12), time.Now()))

	fixes, err := idx.Within(ctx, "t1", origin, 15)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
}

func TestCellSpanKm(t *testing.T) {
	assert.Greater(t, cellSpanKm("w3gv"), 15.0)
	assert.Less(t, cellSpanKm("w3gv2"), 5.0)
}
