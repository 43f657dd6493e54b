// README: Geospatial index backed by Redis GEO sets, one key per tenant.
package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetd/internal/types"
)

const (
	driverGeoKeyFmt  = "fleetd:%s:drivers:geo"
	driverSeenKeyFmt = "fleetd:%s:drivers:seen"
)

type RedisIndex struct {
	redis *redis.Client
}

var _ Index = (*RedisIndex)(nil)

func NewRedisIndex(redis *redis.Client) *RedisIndex {
	return &RedisIndex{redis: redis}
}

func (s *RedisIndex) Upsert(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, at time.Time) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, geoKey(tenant), &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.HSet(ctx, seenKey(tenant), string(id), at.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisIndex) Remove(ctx context.Context, tenant types.TenantID, id types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, geoKey(tenant), string(id))
	pipe.HDel(ctx, seenKey(tenant), string(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisIndex) Within(ctx context.Context, tenant types.TenantID, origin types.Point, radiusKm float64) ([]Fix, error) {
	locs, err := s.redis.GeoRadius(ctx, geoKey(tenant), origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}

	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.Name
	}
	seen, err := s.redis.HMGet(ctx, seenKey(tenant), names...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Fix, 0, len(locs))
	for i, l := range locs {
		p := types.Point{Lat: l.Latitude, Lng: l.Longitude}
		// Redis uses a slightly different earth radius; keep one distance definition.
		d := DistanceKm(origin, p)
		if d > radiusKm {
			continue
		}
		out = append(out, Fix{
			DriverID:   types.ID(l.Name),
			Point:      p,
			DistanceKm: d,
			At:         parseMillis(seen[i]),
		})
	}
	sortByDistance(out, func(f Fix) float64 { return f.DistanceKm }, func(f Fix) types.ID { return f.DriverID })
	return out, nil
}

func parseMillis(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func geoKey(tenant types.TenantID) string {
	return fmt.Sprintf(driverGeoKeyFmt, string(tenant))
}

func seenKey(tenant types.TenantID) string {
	return fmt.Sprintf(driverSeenKeyFmt, string(tenant))
}
