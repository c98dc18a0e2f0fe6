package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/vehicles"
)

type fakeGeo struct {
	mu    sync.Mutex
	cands []models.Candidate
	fail  int // times to fail before succeeding
	calls int
}

func (f *fakeGeo) Nearby(lat, lon, radiusM float64, class models.VehicleClass, limit int) ([]models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("index down")
	}
	return f.cands, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	connected map[string]bool
	events    map[string][]realtime.Event
}

func newFakeNotifier(parties ...string) *fakeNotifier {
	f := &fakeNotifier{connected: make(map[string]bool), events: make(map[string][]realtime.Event)}
	for _, p := range parties {
		f.connected[p] = true
	}
	return f
}

func (f *fakeNotifier) Push(partyID string, ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[partyID] {
		return realtime.ErrNoChannel
	}
	f.events[partyID] = append(f.events[partyID], ev)
	return nil
}

func (f *fakeNotifier) Connected(partyID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[partyID]
}

func (f *fakeNotifier) disconnect(partyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, partyID)
}

func (f *fakeNotifier) eventsOf(partyID string, t realtime.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events[partyID] {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeAvail struct {
	mu  sync.Mutex
	set map[string]bool
}

func (f *fakeAvail) SetAvailable(partyID string, available bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set == nil {
		f.set = make(map[string]bool)
	}
	f.set[partyID] = available
	return true
}

func testVehicles(driverIDs ...string) *vehicles.Static {
	v := vehicles.NewStatic()
	for _, id := range driverIDs {
		v.Put(id, models.Vehicle{Name: "Swift", Plate: "DL-01-" + id, Class: models.ClassCar},
			vehicles.Profile{FullName: "Driver " + id, Phone: "555-" + id})
	}
	return v
}

func pendingRide(t *testing.T, s ride.Store, id string) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:           id,
		RiderID:      "rider-1",
		Pickup:       models.Place{Coord: models.Coord{Lat: 28.61, Lon: 77.21}, Address: "Connaught Place"},
		Drop:         models.Place{Coord: models.Coord{Lat: 28.64, Lon: 77.22}, Address: "Karol Bagh"},
		VehicleClass: models.ClassCar,
		Price:        180,
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func newEngine(cfg Config, g CandidateSource, s ride.Store, v vehicles.Registry, n Notifier) *Engine {
	return NewEngine(cfg, g, s, v, n, &fakeAvail{}, slog.Default())
}

func TestDispatchAssignsNearbyDriver(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{{DriverID: "d1", Distance: 1200, Loc: models.Coord{Lat: 28.615, Lon: 77.215}}}}
	notif := newFakeNotifier("rider-1", "d1")
	avail := &fakeAvail{}
	e := NewEngine(Config{}, geo, store, testVehicles("d1"), notif, avail, slog.Default())

	r := pendingRide(t, store, "ride-1")
	n, err := e.Dispatch(context.Background(), r)
	if err != nil || n != 1 {
		t.Fatalf("dispatch: n=%d err=%v", n, err)
	}
	if notif.eventsOf("d1", realtime.EventRideOffer) != 1 {
		t.Fatalf("driver did not receive offer")
	}

	assigned, err := e.Respond(context.Background(), "ride-1", "d1", true)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if assigned.Status != models.StatusAssigned {
		t.Fatalf("expected assigned, got %s", assigned.Status)
	}
	if len(assigned.OTP) != 4 {
		t.Fatalf("expected 4-digit otp, got %q", assigned.OTP)
	}
	if assigned.Driver == nil || assigned.Driver.VehiclePlate != "DL-01-d1" {
		t.Fatalf("driver snapshot missing: %+v", assigned.Driver)
	}
	if notif.eventsOf("rider-1", realtime.EventRideAssigned) != 1 {
		t.Fatalf("rider not notified of assignment")
	}
	avail.mu.Lock()
	defer avail.mu.Unlock()
	if v, ok := avail.set["d1"]; !ok || v {
		t.Fatalf("winner should be marked unavailable")
	}
}

func TestOtpGateToInProgress(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{{DriverID: "d1", Distance: 900}}}
	notif := newFakeNotifier("rider-1", "d1")
	e := newEngine(Config{}, geo, store, testVehicles("d1"), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	assigned, err := e.Respond(context.Background(), "ride-1", "d1", true)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if _, err := store.Start(context.Background(), "ride-1", "d1", "9999x"); !errors.Is(err, ride.ErrOtpMismatch) {
		t.Fatalf("expected otp mismatch, got %v", err)
	}
	got, _ := store.Get(context.Background(), "ride-1")
	if got.Status != models.StatusAssigned {
		t.Fatalf("wrong otp changed status: %s", got.Status)
	}
	started, err := store.Start(context.Background(), "ride-1", "d1", assigned.OTP)
	if err != nil {
		t.Fatalf("start with correct otp: %v", err)
	}
	if started.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", started.Status)
	}
}

func TestDispatchNoDriversIsBusinessOutcome(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{}
	notif := newFakeNotifier("rider-1")
	e := newEngine(Config{}, geo, store, testVehicles(), notif)
	r := pendingRide(t, store, "ride-1")

	n, err := e.Dispatch(context.Background(), r)
	if !errors.Is(err, ErrNoDriversAvailable) {
		t.Fatalf("expected ErrNoDriversAvailable, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 offers, got %d", n)
	}
	got, _ := store.Get(context.Background(), "ride-1")
	if got.Status != models.StatusPending {
		t.Fatalf("ride must remain pending, got %s", got.Status)
	}
}

func TestConcurrentAcceptExactlyOnce(t *testing.T) {
	store := ride.NewMemoryStore()
	const n = 10
	ids := make([]string, n)
	cands := make([]models.Candidate, n)
	parties := []string{"rider-1"}
	for i := range ids {
		ids[i] = "d" + string(rune('0'+i))
		cands[i] = models.Candidate{DriverID: ids[i], Distance: float64(100 * (i + 1))}
		parties = append(parties, ids[i])
	}
	geo := &fakeGeo{cands: cands}
	notif := newFakeNotifier(parties...)
	e := newEngine(Config{}, geo, store, testVehicles(ids...), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Respond(context.Background(), "ride-1", ids[i], true)
		}(i)
	}
	wg.Wait()

	winners, lateRejections := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ride.ErrAlreadyAssigned):
			lateRejections++
		default:
			t.Fatalf("unexpected respond error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if lateRejections != n-1 {
		t.Fatalf("expected %d late rejections, got %d", n-1, lateRejections)
	}
}

func TestDisconnectMidOfferDropsCandidate(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{
		{DriverID: "d1", Distance: 500},
		{DriverID: "d2", Distance: 900},
	}}
	notif := newFakeNotifier("rider-1", "d1", "d2")
	e := newEngine(Config{OfferTimeout: time.Minute}, geo, store, testVehicles("d1", "d2"), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	notif.disconnect("d1")
	e.HandleDisconnect("d1")

	if _, err := e.Respond(context.Background(), "ride-1", "d1", true); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("disconnected driver must lose its offer, got %v", err)
	}
	// the other candidate can still win; the request was not terminated
	assigned, err := e.Respond(context.Background(), "ride-1", "d2", true)
	if err != nil {
		t.Fatalf("remaining candidate accept: %v", err)
	}
	if assigned.Driver.DriverID != "d2" {
		t.Fatalf("expected d2 assigned, got %+v", assigned.Driver)
	}
}

func TestCandidateLookupRetriesWithBackoff(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{fail: 2, cands: []models.Candidate{{DriverID: "d1", Distance: 700}}}
	notif := newFakeNotifier("rider-1", "d1")
	e := newEngine(Config{RetryAttempts: 3, RetryDelay: 5 * time.Millisecond}, geo, store, testVehicles("d1"), notif)
	r := pendingRide(t, store, "ride-1")

	start := time.Now()
	n, err := e.Dispatch(context.Background(), r)
	if err != nil || n != 1 {
		t.Fatalf("dispatch after retries: n=%d err=%v", n, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestCandidateLookupExhaustionLeavesRidePending(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{fail: 10}
	notif := newFakeNotifier("rider-1")
	e := newEngine(Config{RetryAttempts: 2, RetryDelay: time.Millisecond}, geo, store, testVehicles(), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err == nil || errors.Is(err, ErrNoDriversAvailable) {
		t.Fatalf("expected upstream error after exhaustion, got %v", err)
	}
	got, _ := store.Get(context.Background(), "ride-1")
	if got.Status != models.StatusPending {
		t.Fatalf("ride must stay pending for re-dispatch, got %s", got.Status)
	}
}

func TestOfferTimeoutTriggersNextRound(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{{DriverID: "d1", Distance: 300}}}
	notif := newFakeNotifier("rider-1", "d1")
	e := newEngine(Config{OfferTimeout: 20 * time.Millisecond, MaxRounds: 2}, geo, store, testVehicles("d1"), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if got := notif.eventsOf("d1", realtime.EventOfferExpired); got < 1 {
		t.Fatalf("expected expiry notice, got %d", got)
	}
	if got := notif.eventsOf("d1", realtime.EventRideOffer); got != 2 {
		t.Fatalf("expected re-offer in round 2, got %d offers", got)
	}
	got, _ := store.Get(context.Background(), "ride-1")
	if got.Status != models.StatusPending {
		t.Fatalf("unaccepted ride must stay pending, got %s", got.Status)
	}
}

func TestDeclineByAllAdvancesRound(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{{DriverID: "d1", Distance: 300}}}
	notif := newFakeNotifier("rider-1", "d1")
	e := newEngine(Config{OfferTimeout: time.Minute, MaxRounds: 1}, geo, store, testVehicles("d1"), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := e.Respond(context.Background(), "ride-1", "d1", false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := e.Respond(context.Background(), "ride-1", "d1", true); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("offer should be gone after decline, got %v", err)
	}
}

func TestCancelInflightRevokesOffers(t *testing.T) {
	store := ride.NewMemoryStore()
	geo := &fakeGeo{cands: []models.Candidate{{DriverID: "d1", Distance: 300}}}
	notif := newFakeNotifier("rider-1", "d1")
	e := newEngine(Config{OfferTimeout: time.Minute}, geo, store, testVehicles("d1"), notif)
	r := pendingRide(t, store, "ride-1")

	if _, err := e.Dispatch(context.Background(), r); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	e.CancelInflight("ride-1")
	if got := notif.eventsOf("d1", realtime.EventOfferExpired); got != 1 {
		t.Fatalf("expected revocation notice, got %d", got)
	}
	if _, err := e.Respond(context.Background(), "ride-1", "d1", true); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("offer must be revoked after cancel, got %v", err)
	}
}
