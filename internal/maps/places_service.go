package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"fleetd/internal/types"
)

// PlacesService resolves free-text addresses into coordinates.
type PlacesService struct {
	client *maps.Client
	region string
}

// NewPlacesService creates a new PlacesService with the given API Key. region is a
// ccTLD code that biases results; empty means no bias.
func NewPlacesService(apiKey, region string, opts ...maps.ClientOption) (*PlacesService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, region: region}, nil
}

// Geocode returns the best match for address. The returned place keeps the
// caller's address text.
func (s *PlacesService) Geocode(ctx context.Context, address string) (types.Place, error) {
	if address == "" {
		return types.Place{}, fmt.Errorf("empty address")
	}
	r := &maps.GeocodingRequest{
		Address: address,
		Region:  s.region,
	}

	results, err := s.client.Geocode(ctx, r)
	if err != nil {
		return types.Place{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return types.Place{}, fmt.Errorf("no match for %q", address)
	}

	loc := results[0].Geometry.Location
	return types.Place{Point: types.Point{Lat: loc.Lat, Lng: loc.Lng}, Address: address}, nil
}
