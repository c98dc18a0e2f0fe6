package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo answers "which available drivers of class V are within radius R of
// point P", nearest first. A few seconds of staleness is fine; the ride
// store's conditional assignment is what prevents double-booking.
type Geo interface {
	Nearby(lat, lon, radiusM float64, class models.VehicleClass, limit int) ([]models.Candidate, error)
	Upsert(e DriverEntry)
	Remove(driverID string)
}

// DriverEntry is one indexed driver position.
type DriverEntry struct {
	ID        string
	Loc       models.Coord
	Class     models.VehicleClass
	Available bool
	Updated   time.Time
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]DriverEntry
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]DriverEntry)}
}

func (g *Index) Upsert(e DriverEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.Updated.IsZero() {
		e.Updated = time.Now()
	}
	// latest wins: drop stale out-of-order updates
	if prev, ok := g.drivers[e.ID]; ok && e.Updated.Before(prev.Updated) {
		return
	}
	g.drivers[e.ID] = e
}

func (g *Index) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon, radiusM float64, class models.VehicleClass, limit int) ([]models.Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Candidate, 0, limit)
	for _, d := range g.drivers {
		if !d.Available {
			continue
		}
		if class != "" && d.Class != class {
			continue
		}
		dist := Haversine(lat, lon, d.Loc.Lat, d.Loc.Lon)
		if radiusM > 0 && dist > radiusM {
			continue
		}
		out = append(out, models.Candidate{DriverID: d.ID, Distance: dist, Loc: d.Loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
