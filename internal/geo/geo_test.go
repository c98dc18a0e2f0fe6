package geo

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// ~1.1km along a Delhi street grid
	d := Haversine(28.61, 77.21, 28.62, 77.21)
	if d < 1000 || d > 1250 {
		t.Fatalf("expected ~1.1km, got %f", d)
	}
}

func TestNearbyFiltersClassAndAvailability(t *testing.T) {
	g := NewIndex()
	g.Upsert(DriverEntry{ID: "near-car", Loc: models.Coord{Lat: 28.611, Lon: 77.211}, Class: models.ClassCar, Available: true})
	g.Upsert(DriverEntry{ID: "near-bike", Loc: models.Coord{Lat: 28.611, Lon: 77.211}, Class: models.ClassBike, Available: true})
	g.Upsert(DriverEntry{ID: "busy-car", Loc: models.Coord{Lat: 28.611, Lon: 77.211}, Class: models.ClassCar, Available: false})
	g.Upsert(DriverEntry{ID: "far-car", Loc: models.Coord{Lat: 29.5, Lon: 78.0}, Class: models.ClassCar, Available: true})

	got, _ := g.Nearby(28.61, 77.21, 2000, models.ClassCar, 10)
	if len(got) != 1 || got[0].DriverID != "near-car" {
		t.Fatalf("expected only near-car, got %+v", got)
	}
}

func TestNearbyOrdersByDistance(t *testing.T) {
	g := NewIndex()
	g.Upsert(DriverEntry{ID: "far", Loc: models.Coord{Lat: 28.625, Lon: 77.21}, Class: models.ClassCar, Available: true})
	g.Upsert(DriverEntry{ID: "close", Loc: models.Coord{Lat: 28.611, Lon: 77.21}, Class: models.ClassCar, Available: true})

	got, _ := g.Nearby(28.61, 77.21, 5000, models.ClassCar, 10)
	if len(got) != 2 || got[0].DriverID != "close" {
		t.Fatalf("expected nearest first, got %+v", got)
	}
	if got[0].Distance >= got[1].Distance {
		t.Fatalf("distances not ascending: %+v", got)
	}
}

func TestSetUnavailableRemovesFromCandidates(t *testing.T) {
	g := NewIndex()
	e := DriverEntry{ID: "d1", Loc: models.Coord{Lat: 28.611, Lon: 77.211}, Class: models.ClassCar, Available: true}
	g.Upsert(e)
	if got, _ := g.Nearby(28.61, 77.21, 2000, models.ClassCar, 10); len(got) != 1 {
		t.Fatalf("expected candidate present, got %+v", got)
	}
	e.Available = false
	g.Upsert(e)
	if got, _ := g.Nearby(28.61, 77.21, 2000, models.ClassCar, 10); len(got) != 0 {
		t.Fatalf("expected empty candidate set, got %+v", got)
	}
}

func TestUpsertDropsStaleUpdate(t *testing.T) {
	g := NewIndex()
	g.Upsert(DriverEntry{ID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}, Class: models.ClassCar, Available: true})
	cur := g.drivers["d1"]
	stale := DriverEntry{ID: "d1", Loc: models.Coord{Lat: 9, Lon: 9}, Class: models.ClassCar, Available: true, Updated: cur.Updated.Add(-1e9)}
	g.Upsert(stale)
	if g.drivers["d1"].Loc.Lat != 1 {
		t.Fatalf("stale update must not overwrite newer position")
	}
}
