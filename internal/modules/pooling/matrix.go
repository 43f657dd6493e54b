package pooling

import (
	"context"

	"github.com/sirupsen/logrus"

	"fleetd/internal/modules/location"
	"fleetd/internal/types"
)

// Matrix returns the travel distance between two points.
type Matrix interface {
	DistanceKm(ctx context.Context, a, b types.Point) (float64, error)
}

// Haversine is the great-circle Matrix used when no road distances are configured.
type Haversine struct{}

func (Haversine) DistanceKm(_ context.Context, a, b types.Point) (float64, error) {
	return location.DistanceKm(a, b), nil
}

type fallbackMatrix struct {
	primary Matrix
	log     *logrus.Entry
}

// WithFallback answers from primary and falls back to great-circle distance when it fails.
func WithFallback(primary Matrix, log *logrus.Entry) Matrix {
	return &fallbackMatrix{primary: primary, log: log}
}

func (m *fallbackMatrix) DistanceKm(ctx context.Context, a, b types.Point) (float64, error) {
	d, err := m.primary.DistanceKm(ctx, a, b)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	m.log.WithError(err).WithFields(logrus.Fields{"from": a.String(), "to": b.String()}).Warn("distance matrix failed, using great-circle distance")
	return location.DistanceKm(a, b), nil
}

type pair struct{ a, b types.Point }

// memo caches distances for the duration of one planning call.
type memo struct {
	m     Matrix
	cache map[pair]float64
}

func newMemo(m Matrix) *memo {
	return &memo{m: m, cache: make(map[pair]float64)}
}

func (c *memo) dist(ctx context.Context, a, b types.Point) (float64, error) {
	if a == b {
		return 0, nil
	}
	k := pair{a, b}
	if d, ok := c.cache[k]; ok {
		return d, nil
	}
	d, err := c.m.DistanceKm(ctx, a, b)
	if err != nil {
		return 0, err
	}
	c.cache[k] = d
	return d, nil
}

func (c *memo) pathKm(ctx context.Context, stops []Stop) (float64, error) {
	var total float64
	for i := 1; i < len(stops); i++ {
		d, err := c.dist(ctx, stops[i-1].Point, stops[i].Point)
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}
