package routing

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrUnavailable means no route source could answer; callers decide
// whether to degrade or surface it.
var ErrUnavailable = errors.New("routing unavailable")

// Route is a resolved path between two coordinates.
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
	TollCost        float64
}

// Client resolves routes. Implementations must be safe for concurrent use.
type Client interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// Resolver fronts a route client with a cache and a straight-line
// fallback so ride creation never blocks on the routing engine.
type Resolver struct {
	client    Client
	cache     *Cache
	speedMps  float64
	tollPerKm float64
}

func NewResolver(client Client, cacheTTL time.Duration, speedMps, tollPerKm float64) *Resolver {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return &Resolver{
		client:    client,
		cache:     NewCache(cacheTTL),
		speedMps:  speedMps,
		tollPerKm: tollPerKm,
	}
}

// Route resolves via cache, then the client, then a straight-line
// estimate. Only the client's answers are cached; estimates are cheap
// to recompute and should not mask a recovered engine.
func (r *Resolver) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	if rt, ok := r.cache.Get(from, to); ok {
		return rt, nil
	}
	if r.client != nil {
		rt, err := r.client.Route(ctx, from, to)
		if err == nil {
			r.cache.Set(from, to, rt)
			return rt, nil
		}
	}
	return r.estimate(from, to), nil
}

func (r *Resolver) estimate(from, to models.Coord) Route {
	d := haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return Route{
		DistanceMeters:  d,
		DurationSeconds: d / r.speedMps,
		TollCost:        r.tollPerKm * d / 1000,
	}
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
