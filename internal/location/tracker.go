package location

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
)

// Publisher emits driver positions onto the stream consumed by the
// analytics pipeline. Publishing is best effort.
type Publisher interface {
	PublishLocation(d models.DriverLocation) error
}

// Notifier is the slice of the realtime channel manager the tracker
// needs to fan positions out to ride counterparts.
type Notifier interface {
	Push(partyID string, ev realtime.Event) error
}

// Update is the payload of a location-update event.
type Update struct {
	PartyID string       `json:"party_id"`
	Role    models.Role  `json:"role"`
	Loc     models.Coord `json:"loc"`
	RideID  string       `json:"ride_id,omitempty"`
	At      time.Time    `json:"at"`
}

// Tracker ingests position pings, keeps presence and the geo index
// current, and relays positions to the other party of an active ride.
type Tracker struct {
	presence *presence.Registry
	rides    ride.Store
	geo      geo.Geo
	notify   Notifier
	pub      Publisher
	log      *slog.Logger
}

func NewTracker(p *presence.Registry, rides ride.Store, g geo.Geo, notify Notifier, pub Publisher, log *slog.Logger) *Tracker {
	return &Tracker{presence: p, rides: rides, geo: g, notify: notify, pub: pub, log: log}
}

// Ingest processes one ping. Returns false when the party has no live
// presence record or the ping is older than the last accepted one.
func (t *Tracker) Ingest(ctx context.Context, partyID string, loc models.Coord, ts time.Time) bool {
	if !t.presence.UpdateLocation(partyID, loc, ts) {
		return false
	}
	observability.LocationsIngested.Inc()

	rec, ok := t.presence.Find(partyID)
	if !ok {
		return false
	}
	if rec.Role == models.RoleDriver {
		t.publish(rec)
	}
	t.relay(ctx, rec)
	return true
}

// relay forwards the position to the counterpart of the party's active
// ride, if one exists. Delivery is best effort.
func (t *Tracker) relay(ctx context.Context, rec presence.Record) {
	var r *models.Ride
	var err error
	if rec.Role == models.RoleDriver {
		r, err = t.rides.ActiveForDriver(ctx, rec.PartyID)
	} else {
		r, err = t.rides.CurrentForParty(ctx, rec.PartyID)
	}
	if err != nil || r == nil || r.Status.Terminal() || r.Status == models.StatusPending {
		return
	}

	target := r.RiderID
	if rec.Role == models.RoleRider {
		if r.Driver == nil {
			return
		}
		target = r.Driver.DriverID
	}
	ev := realtime.Event{Type: realtime.EventLocationUpdate, Payload: Update{
		PartyID: rec.PartyID,
		Role:    rec.Role,
		Loc:     rec.Loc,
		RideID:  r.ID,
		At:      rec.Updated,
	}}
	if err := t.notify.Push(target, ev); err != nil {
		t.log.Debug("location relay dropped", "target", target, "error", err)
	}
}

func (t *Tracker) publish(rec presence.Record) {
	if t.pub == nil {
		return
	}
	err := t.pub.PublishLocation(models.DriverLocation{
		DriverID:  rec.PartyID,
		Loc:       rec.Loc,
		Class:     rec.Class,
		Available: rec.Available,
		Timestamp: rec.Updated,
	})
	if err != nil {
		t.log.Warn("location publish failed", "driver_id", rec.PartyID, "error", err)
	}
}

// AvailableDrivers sends the rider a snapshot of nearby available
// drivers of the given class, for the map view before a ride starts.
func (t *Tracker) AvailableDrivers(riderID string, loc models.Coord, class models.VehicleClass, radiusM float64, limit int) error {
	cands, err := t.geo.Nearby(loc.Lat, loc.Lon, radiusM, class, limit)
	if err != nil {
		return err
	}
	return t.notify.Push(riderID, realtime.Event{Type: realtime.EventAvailableDrivers, Payload: cands})
}

// Position reports the last known position of a party, for the track
// pull endpoint.
func (t *Tracker) Position(partyID string) (models.Coord, time.Time, bool) {
	rec, ok := t.presence.Find(partyID)
	if !ok || !rec.HasLoc {
		return models.Coord{}, time.Time{}, false
	}
	return rec.Loc, rec.Updated, true
}
