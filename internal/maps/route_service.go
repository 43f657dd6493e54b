package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"fleetd/internal/types"
)

// RouteService answers road distances from the Google Distance Matrix API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// DistanceKm returns the driving distance from a to b.
func (s *RouteService) DistanceKm(ctx context.Context, a, b types.Point) (float64, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{a.String()},
		Destinations: []string{b.String()},
		Mode:         maps.TravelModeDriving,
		Units:        maps.UnitsMetric,
	}

	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("no route found")
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("no route found: %s", el.Status)
	}
	return float64(el.Distance.Meters) / 1000, nil
}
