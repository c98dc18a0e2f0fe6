package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands plus a metadata hash
// per driver. Both API and consumer processes share this index.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(e DriverEntry) {
	if e.Updated.IsZero() {
		e.Updated = time.Now()
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: e.Loc.Lon, Latitude: e.Loc.Lat, Name: e.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(e.ID), map[string]interface{}{
		"class":     string(e.Class),
		"available": strconv.FormatBool(e.Available),
		"updated":   e.Updated.Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Remove(driverID string) {
	_ = r.client.ZRem(r.ctx, r.key, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisGeo) Nearby(lat, lon, radiusM float64, class models.VehicleClass, limit int) ([]models.Candidate, error) {
	if radiusM <= 0 {
		radiusM = 5000
	}
	// over-fetch: class/availability filtering happens on the metadata
	fetch := limit * 4
	if fetch <= 0 {
		fetch = 32
	}
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: fetch, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, limit)
	for _, g := range res {
		m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if m["available"] != "true" {
			continue
		}
		if class != "" && m["class"] != string(class) {
			continue
		}
		out = append(out, models.Candidate{
			DriverID: g.Name,
			Distance: g.Dist, // meters, per query Unit
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
