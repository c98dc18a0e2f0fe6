package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/vehicles"
)

// Notifier is the push surface handlers use for state-change events.
// The realtime manager satisfies it directly; production wiring fronts
// it with the notify fallback so offline parties get a device push.
type Notifier interface {
	Push(partyID string, ev realtime.Event) error
}

// Server exposes the dispatch core over HTTP and websocket.
type Server struct {
	Rides    ride.Store
	Engine   *dispatch.Engine
	Presence *presence.Registry
	Realtime *realtime.Manager
	Notify   Notifier
	Tracker  *location.Tracker
	Routes   *routing.Resolver
	Prices   *pricing.Table
	Ledger   earnings.Ledger
	Payments payments.Processor
	Geocoder location.Geocoder
	Currency string

	logger *slog.Logger
	mux    *mux.Router

	holdMu sync.Mutex
	holds  map[string]string // rideID -> payment intent id
}

func NewServer(logger *slog.Logger) *Server {
	s := &Server{
		Payments: payments.Noop{},
		Currency: "inr",
		logger:   logger,
		mux:      mux.NewRouter(),
		holds:    make(map[string]string),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/current", s.handleCurrentRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/respond", s.handleRespond).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/arrived", s.handleArrived).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/track", s.handleTrack).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/earnings", s.handleEarnings).Methods("GET")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{party_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateRideRequest(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ctx := r.Context()

	rt, err := s.Routes.Route(ctx, req.Pickup.Coord, req.Drop.Coord)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "routing unavailable")
		return
	}
	s.enrichAddress(ctx, &req.Pickup)
	s.enrichAddress(ctx, &req.Drop)

	now := time.Now()
	rd := &models.Ride{
		ID:           newID(),
		RiderID:      req.RiderID,
		Pickup:       req.Pickup,
		Drop:         req.Drop,
		VehicleClass: req.VehicleClass,
		Price:        s.Prices.Quote(rt.DistanceMeters, rt.TollCost, req.VehicleClass),
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Rides.Create(ctx, rd); err != nil {
		s.writeRideError(w, err)
		return
	}

	offers, err := s.Engine.Dispatch(ctx, rd)
	outcome := "searching"
	switch {
	case errors.Is(err, dispatch.ErrNoDriversAvailable):
		outcome = "no_drivers_available"
	case err != nil:
		// index outage: the ride is created and stays pending
		outcome = "dispatch_deferred"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ride":     publicRide(rd, req.RiderID),
		"outcome":  outcome,
		"offered":  offers,
		"distance": rt.DistanceMeters,
		"duration": rt.DurationSeconds,
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req struct {
		DriverID string `json:"driver_id"`
		Accept   bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	assigned, err := s.Engine.Respond(r.Context(), rideID, req.DriverID, req.Accept)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	if !req.Accept {
		writeJSON(w, http.StatusOK, map[string]any{"ride_id": rideID, "declined": true})
		return
	}
	s.holdFare(r.Context(), assigned)
	writeJSON(w, http.StatusOK, publicRide(assigned, req.DriverID))
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	rd, err := s.Rides.MarkArrived(r.Context(), rideID, req.DriverID)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	_ = s.Notify.Push(rd.RiderID, realtime.Event{Type: realtime.EventDriverArrived, Payload: publicRide(rd, rd.RiderID)})
	writeJSON(w, http.StatusOK, publicRide(rd, req.DriverID))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req struct {
		DriverID string `json:"driver_id"`
		OTP      string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	rd, err := s.Rides.Start(r.Context(), rideID, req.DriverID, req.OTP)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	_ = s.Notify.Push(rd.RiderID, realtime.Event{Type: realtime.EventRideStarted, Payload: publicRide(rd, rd.RiderID)})
	writeJSON(w, http.StatusOK, publicRide(rd, req.DriverID))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	ctx := r.Context()
	rd, err := s.Rides.Complete(ctx, rideID, req.DriverID)
	if err != nil {
		s.writeRideError(w, err)
		return
	}

	if credited, err := earnings.CreditRide(ctx, s.Ledger, rd); err != nil {
		s.logger.Error("earnings credit failed", "ride_id", rd.ID, "error", err)
	} else if credited {
		s.logger.Info("fare credited", "ride_id", rd.ID, "driver_id", req.DriverID, "amount", rd.Price)
	}
	s.captureFare(ctx, rd)
	s.Presence.SetAvailable(req.DriverID, true)

	_ = s.Notify.Push(rd.RiderID, realtime.Event{Type: realtime.EventRideCompleted, Payload: publicRide(rd, rd.RiderID)})
	writeJSON(w, http.StatusOK, publicRide(rd, req.DriverID))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req struct {
		PartyID string      `json:"party_id"`
		Role    models.Role `json:"role"`
		Reason  string      `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PartyID == "" {
		writeError(w, http.StatusBadRequest, "party_id is required")
		return
	}
	if req.Role != models.RoleRider && req.Role != models.RoleDriver {
		writeError(w, http.StatusBadRequest, "role must be rider or driver")
		return
	}
	ctx := r.Context()
	rd, err := s.Rides.Cancel(ctx, rideID, req.Role, req.PartyID, req.Reason)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	s.Engine.CancelInflight(rideID)
	s.releaseFare(ctx, rideID)

	// the assigned driver goes back into the matching pool
	if rd.Driver != nil {
		s.Presence.SetAvailable(rd.Driver.DriverID, true)
	}
	for _, target := range counterparts(rd, req.PartyID) {
		_ = s.Notify.Push(target, realtime.Event{Type: realtime.EventRideCancelled, Payload: publicRide(rd, target)})
	}
	writeJSON(w, http.StatusOK, publicRide(rd, req.PartyID))
}

func (s *Server) handleCurrentRide(w http.ResponseWriter, r *http.Request) {
	partyID := strings.TrimSpace(r.URL.Query().Get("party_id"))
	if partyID == "" {
		writeError(w, http.StatusBadRequest, "party_id is required")
		return
	}
	rd, err := s.Rides.CurrentForParty(r.Context(), partyID)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicRide(rd, partyID))
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	rd, err := s.Rides.Get(r.Context(), rideID)
	if err != nil {
		s.writeRideError(w, err)
		return
	}
	if rd.Driver == nil {
		writeError(w, http.StatusConflict, "no driver assigned yet")
		return
	}
	loc, at, ok := s.Tracker.Position(rd.Driver.DriverID)
	if !ok {
		writeError(w, http.StatusNotFound, "driver position unknown")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride_id":   rd.ID,
		"driver_id": rd.Driver.DriverID,
		"loc":       loc,
		"at":        at,
		"status":    rd.Status,
	})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	sum, err := s.Ledger.Summary(r.Context(), driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "earnings lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleDriverLocation is the server-to-server ingest path used by fleet
// gateways that batch positions outside the websocket.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	if !s.Tracker.Ingest(r.Context(), d.DriverID, d.Loc, d.Timestamp) {
		writeError(w, http.StatusConflict, "stale ping or driver not registered")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fare hold bookkeeping. Holds are process-local; a restart loses them
// and the payment worker reconciles from the processor's side.

func (s *Server) holdFare(ctx context.Context, rd *models.Ride) {
	id, err := s.Payments.Hold(ctx, payments.MinorUnits(rd.Price), s.Currency, rd.RiderID)
	if err != nil {
		s.logger.Warn("fare hold failed", "ride_id", rd.ID, "error", err)
		return
	}
	if id == "" {
		return
	}
	s.holdMu.Lock()
	s.holds[rd.ID] = id
	s.holdMu.Unlock()
}

func (s *Server) captureFare(ctx context.Context, rd *models.Ride) {
	s.holdMu.Lock()
	id, ok := s.holds[rd.ID]
	delete(s.holds, rd.ID)
	s.holdMu.Unlock()
	if !ok {
		return
	}
	if err := s.Payments.Capture(ctx, id); err != nil {
		s.logger.Error("fare capture failed", "ride_id", rd.ID, "intent", id, "error", err)
	}
}

func (s *Server) releaseFare(ctx context.Context, rideID string) {
	s.holdMu.Lock()
	id, ok := s.holds[rideID]
	delete(s.holds, rideID)
	s.holdMu.Unlock()
	if !ok {
		return
	}
	if err := s.Payments.Cancel(ctx, id); err != nil {
		s.logger.Error("fare release failed", "ride_id", rideID, "intent", id, "error", err)
	}
}

func (s *Server) enrichAddress(ctx context.Context, p *models.Place) {
	if s.Geocoder == nil || p.Address != "" {
		return
	}
	addr, err := s.Geocoder.Reverse(ctx, p.Coord)
	if err != nil {
		return
	}
	p.Address = addr
}

func validateRideRequest(req *models.RideRequest) string {
	switch {
	case req.RiderID == "":
		return "rider_id is required"
	case !validCoord(req.Pickup.Coord):
		return "pickup out of range"
	case !validCoord(req.Drop.Coord):
		return "drop out of range"
	}
	switch req.VehicleClass {
	case models.ClassCar, models.ClassBike, models.ClassAuto:
		return ""
	default:
		return "unknown vehicle class"
	}
}

func validCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 && (c.Lat != 0 || c.Lon != 0)
}

// publicRide strips the OTP unless the viewer is the rider. The rider
// reads the code to the driver at pickup; the driver must never see it
// beforehand.
func publicRide(rd *models.Ride, viewerID string) *models.Ride {
	if rd == nil {
		return nil
	}
	cp := *rd
	if cp.RiderID != viewerID {
		cp.OTP = ""
	}
	return &cp
}

func counterparts(rd *models.Ride, partyID string) []string {
	var out []string
	if rd.RiderID != partyID {
		out = append(out, rd.RiderID)
	}
	if rd.Driver != nil && rd.Driver.DriverID != partyID {
		out = append(out, rd.Driver.DriverID)
	}
	return out
}

func (s *Server) writeRideError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ride.ErrNotFound):
		writeError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, ride.ErrNotRideDriver):
		writeError(w, http.StatusForbidden, "not the assigned driver")
	case errors.Is(err, ride.ErrNotRideParty):
		writeError(w, http.StatusForbidden, "not a party to this ride")
	case errors.Is(err, ride.ErrOtpMismatch):
		writeError(w, http.StatusBadRequest, "otp mismatch")
	case errors.Is(err, ride.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, "ride already assigned")
	case errors.Is(err, ride.ErrTerminalState), errors.Is(err, ride.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrNoOffer):
		writeError(w, http.StatusConflict, "no active offer")
	case errors.Is(err, vehicles.ErrUnknownDriver):
		writeError(w, http.StatusNotFound, "unknown driver")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newID() string { return uuid.NewString() }
