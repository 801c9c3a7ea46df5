// README: Redis GEO index of WAITING pools keyed by pickup centroid.
package pool

import (
	"context"

	"github.com/redis/go-redis/v9"

	"poolride/internal/types"
)

const openPoolGeoKey = "pools:open:pickup"

// GeoIndex is a hint only; candidates are always re-read from the Repository.
type GeoIndex struct {
	redis *redis.Client
}

func NewGeoIndex(redis *redis.Client) *GeoIndex {
	return &GeoIndex{redis: redis}
}

func (g *GeoIndex) Add(ctx context.Context, p PoolRide) error {
	return g.redis.GeoAdd(ctx, openPoolGeoKey, &redis.GeoLocation{
		Name:      string(p.ID),
		Longitude: p.Route.Pickup.Lng,
		Latitude:  p.Route.Pickup.Lat,
	}).Err()
}

func (g *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, openPoolGeoKey, string(id)).Err()
}

func (g *GeoIndex) Nearby(ctx context.Context, at types.Point, radiusKm float64) ([]types.ID, error) {
	names, err := g.redis.GeoSearch(ctx, openPoolGeoKey, &redis.GeoSearchQuery{
		Longitude:  at.Lng,
		Latitude:   at.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(names))
	for i, n := range names {
		ids[i] = types.ID(n)
	}
	return ids, nil
}
