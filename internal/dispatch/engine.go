package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/vehicles"
)

var (
	// ErrNoDriversAvailable is a business outcome, not a fault: the ride
	// stays pending and may be re-dispatched later.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrNoOffer means the driver has no live offer for the ride, either
	// because it expired or because it was never extended to them.
	ErrNoOffer = errors.New("no active offer for this driver")
)

// CandidateSource is the slice of the geo index the engine needs.
type CandidateSource interface {
	Nearby(lat, lon, radiusM float64, class models.VehicleClass, limit int) ([]models.Candidate, error)
}

// Notifier is the slice of the realtime channel manager the engine needs.
type Notifier interface {
	Push(partyID string, ev realtime.Event) error
	Connected(partyID string) bool
}

// Availability releases or reserves a driver in the presence registry.
type Availability interface {
	SetAvailable(partyID string, available bool) bool
}

type Config struct {
	OfferTimeout  time.Duration
	SearchRadiusM float64
	MaxCandidates int
	MaxRounds     int
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c *Config) fill() {
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = 30 * time.Second
	}
	if c.SearchRadiusM <= 0 {
		c.SearchRadiusM = 5000
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 8
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 2
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
}

// Engine broadcasts a ride offer to nearby eligible drivers and settles
// the acceptance race: the first accept to commit the conditional
// pending -> assigned update wins; everyone else gets a late rejection.
type Engine struct {
	cfg      Config
	geo      CandidateSource
	rides    ride.Store
	vehicles vehicles.Registry
	notify   Notifier
	avail    Availability
	log      *slog.Logger

	mu       sync.Mutex
	inflight map[string]*rideOffers
}

type rideOffers struct {
	ride      models.Ride
	offers    map[string]Offer
	round     int
	timer     *time.Timer
	startedAt time.Time
}

func NewEngine(cfg Config, geo CandidateSource, rides ride.Store, veh vehicles.Registry, notify Notifier, avail Availability, log *slog.Logger) *Engine {
	cfg.fill()
	return &Engine{
		cfg:      cfg,
		geo:      geo,
		rides:    rides,
		vehicles: veh,
		notify:   notify,
		avail:    avail,
		log:      log,
		inflight: make(map[string]*rideOffers),
	}
}

// Dispatch broadcasts r to the nearest eligible drivers and returns the
// number of offers extended. ErrNoDriversAvailable is the empty-pool
// outcome; the ride is left pending either way until someone accepts.
func (e *Engine) Dispatch(ctx context.Context, r *models.Ride) (int, error) {
	observability.DispatchesTotal.Inc()
	cands, err := e.candidates(ctx, r)
	if err != nil {
		// index unavailable after retries: leave the ride pending for
		// later re-dispatch rather than failing the creation
		e.log.Error("candidate lookup failed, ride left pending", "ride_id", r.ID, "error", err)
		return 0, err
	}
	return e.offerRound(r, cands, 0, time.Now())
}

func (e *Engine) offerRound(r *models.Ride, cands []models.Candidate, round int, startedAt time.Time) (int, error) {
	now := time.Now()
	deadline := now.Add(e.cfg.OfferTimeout)
	st := &rideOffers{ride: *r, offers: make(map[string]Offer), round: round, startedAt: startedAt}

	for _, c := range cands {
		if !e.notify.Connected(c.DriverID) {
			continue
		}
		payload := OfferPayload{
			RideID:       r.ID,
			Pickup:       r.Pickup,
			Drop:         r.Drop,
			VehicleClass: r.VehicleClass,
			Price:        r.Price,
			DistanceM:    c.Distance,
			Deadline:     deadline,
		}
		if err := e.notify.Push(c.DriverID, realtime.Event{Type: realtime.EventRideOffer, Payload: payload}); err != nil {
			// channel went away between lookup and push: drop candidate
			continue
		}
		st.offers[c.DriverID] = Offer{RideID: r.ID, DriverID: c.DriverID, IssuedAt: now, Deadline: deadline}
		observability.OffersTotal.Inc()
	}

	if len(st.offers) == 0 {
		observability.NoDriversTotal.Inc()
		e.log.Info("no drivers available", "ride_id", r.ID, "class", r.VehicleClass, "round", round)
		return 0, ErrNoDriversAvailable
	}

	st.timer = time.AfterFunc(e.cfg.OfferTimeout, func() { e.expire(r.ID) })
	e.mu.Lock()
	if prev, ok := e.inflight[r.ID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	e.inflight[r.ID] = st
	e.mu.Unlock()

	e.log.Info("offers extended", "ride_id", r.ID, "count", len(st.offers), "round", round, "deadline", deadline)
	return len(st.offers), nil
}

// candidates queries the geo index with bounded backoff; transient index
// failures are retried before being surfaced.
func (e *Engine) candidates(ctx context.Context, r *models.Ride) ([]models.Candidate, error) {
	delay := e.cfg.RetryDelay
	var lastErr error
	for i := 0; i < e.cfg.RetryAttempts; i++ {
		cands, err := e.geo.Nearby(r.Pickup.Lat, r.Pickup.Lon, e.cfg.SearchRadiusM, r.VehicleClass, e.cfg.MaxCandidates)
		if err == nil {
			return cands, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// Respond resolves one driver's answer to an offer. Exactly one accept per
// ride can win; the serialization point is the ride store's conditional
// assignment, not the engine's own bookkeeping.
func (e *Engine) Respond(ctx context.Context, rideID, driverID string, accept bool) (*models.Ride, error) {
	e.mu.Lock()
	st, ok := e.inflight[rideID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoOffer
	}
	offer, has := st.offers[driverID]
	if !has || offer.Expired(time.Now()) {
		e.mu.Unlock()
		return nil, ErrNoOffer
	}
	if !accept {
		delete(st.offers, driverID)
		empty := len(st.offers) == 0
		e.mu.Unlock()
		if empty {
			e.advance(rideID)
		}
		return nil, nil
	}
	startedAt := st.startedAt
	e.mu.Unlock()

	snap, err := e.snapshot(ctx, driverID)
	if err != nil {
		return nil, err
	}
	otp := ride.GenerateOTP()

	assigned, err := e.rides.Assign(ctx, rideID, snap, otp)
	if err != nil {
		if errors.Is(err, ride.ErrAlreadyAssigned) {
			observability.LateRejections.Inc()
			e.removeOffer(rideID, driverID)
			_ = e.notify.Push(driverID, realtime.Event{Type: realtime.EventOfferExpired, Payload: map[string]string{"ride_id": rideID, "reason": "accepted by another driver"}})
		}
		return nil, err
	}

	// winner: settle the rest of the offer set
	e.mu.Lock()
	losers := make([]string, 0, len(st.offers))
	if cur, ok := e.inflight[rideID]; ok {
		if cur.timer != nil {
			cur.timer.Stop()
		}
		for id := range cur.offers {
			if id != driverID {
				losers = append(losers, id)
			}
		}
		delete(e.inflight, rideID)
	}
	e.mu.Unlock()

	e.avail.SetAvailable(driverID, false)
	observability.AcceptsTotal.Inc()
	observability.AssignLatency.Observe(time.Since(startedAt).Seconds())

	_ = e.notify.Push(assigned.RiderID, realtime.Event{Type: realtime.EventRideAssigned, Payload: assigned})
	for _, id := range losers {
		_ = e.notify.Push(id, realtime.Event{Type: realtime.EventOfferExpired, Payload: map[string]string{"ride_id": rideID, "reason": "accepted by another driver"}})
	}

	e.log.Info("ride assigned", "ride_id", rideID, "driver_id", driverID, "losers", len(losers))
	return assigned, nil
}

// HandleDisconnect drops the driver from every in-flight offer set. A ride
// whose offer set empties out advances to the next round immediately.
func (e *Engine) HandleDisconnect(driverID string) {
	e.mu.Lock()
	var drained []string
	for rideID, st := range e.inflight {
		if _, ok := st.offers[driverID]; !ok {
			continue
		}
		delete(st.offers, driverID)
		if len(st.offers) == 0 {
			drained = append(drained, rideID)
		}
	}
	e.mu.Unlock()
	for _, rideID := range drained {
		e.advance(rideID)
	}
}

// CancelInflight revokes all outstanding offers for a ride, used when a
// party cancels while dispatch is still running.
func (e *Engine) CancelInflight(rideID string) {
	e.mu.Lock()
	st, ok := e.inflight[rideID]
	var offered []string
	if ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		for id := range st.offers {
			offered = append(offered, id)
		}
		delete(e.inflight, rideID)
	}
	e.mu.Unlock()
	for _, id := range offered {
		_ = e.notify.Push(id, realtime.Event{Type: realtime.EventOfferExpired, Payload: map[string]string{"ride_id": rideID, "reason": "ride cancelled"}})
	}
}

// expire fires when an offer round's deadline passes with no acceptance.
func (e *Engine) expire(rideID string) {
	observability.OfferExpiries.Inc()
	e.advance(rideID)
}

// advance closes the current round and, if rounds remain, re-queries the
// index and re-offers. Otherwise the ride simply stays pending.
func (e *Engine) advance(rideID string) {
	e.mu.Lock()
	st, ok := e.inflight[rideID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	var offered []string
	for id := range st.offers {
		offered = append(offered, id)
	}
	delete(e.inflight, rideID)
	r := st.ride
	round := st.round
	startedAt := st.startedAt
	e.mu.Unlock()

	for _, id := range offered {
		_ = e.notify.Push(id, realtime.Event{Type: realtime.EventOfferExpired, Payload: map[string]string{"ride_id": rideID, "reason": "offer timed out"}})
	}

	if round+1 >= e.cfg.MaxRounds {
		e.log.Info("dispatch exhausted, ride stays pending", "ride_id", rideID, "rounds", round+1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OfferTimeout)
	defer cancel()
	cands, err := e.candidates(ctx, &r)
	if err != nil {
		e.log.Error("re-dispatch candidate lookup failed", "ride_id", rideID, "error", err)
		return
	}
	if _, err := e.offerRound(&r, cands, round+1, startedAt); err != nil && !errors.Is(err, ErrNoDriversAvailable) {
		e.log.Error("re-dispatch failed", "ride_id", rideID, "error", err)
	}
}

func (e *Engine) removeOffer(rideID, driverID string) {
	e.mu.Lock()
	if st, ok := e.inflight[rideID]; ok {
		delete(st.offers, driverID)
	}
	e.mu.Unlock()
}

func (e *Engine) snapshot(ctx context.Context, driverID string) (models.DriverSnapshot, error) {
	v, err := e.vehicles.Vehicle(ctx, driverID)
	if err != nil {
		return models.DriverSnapshot{}, err
	}
	p, err := e.vehicles.Profile(ctx, driverID)
	if err != nil {
		return models.DriverSnapshot{}, err
	}
	return models.DriverSnapshot{
		DriverID:     driverID,
		FullName:     p.FullName,
		Phone:        p.Phone,
		VehicleName:  v.Name,
		VehiclePlate: v.Plate,
		VehicleClass: v.Class,
	}, nil
}
