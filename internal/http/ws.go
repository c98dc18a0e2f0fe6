package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/realtime"
)

var upgrader = websocket.Upgrader{}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type registerPayload struct {
	Role  models.Role         `json:"role"`
	Class models.VehicleClass `json:"class,omitempty"`
	Loc   *models.Coord       `json:"loc,omitempty"`
}

type locationPayload struct {
	Lat float64   `json:"lat"`
	Lon float64   `json:"lon"`
	TS  time.Time `json:"ts,omitempty"`
}

type offerResponsePayload struct {
	RideID string `json:"ride_id"`
	Accept bool   `json:"accept"`
}

type availablePayload struct {
	Available bool `json:"available"`
}

// handleWS owns the whole lifetime of one party's channel: upgrade,
// register, inbound frame loop, and teardown on any read error.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["party_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		return
	}
	sess := s.Realtime.Attach(partyID, conn)
	defer s.teardown(partyID, sess)

	var role models.Role
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "register":
			role = s.wsRegister(r.Context(), partyID, sess, frame.Payload)
		case "location-update":
			s.wsLocation(r.Context(), partyID, sess, frame.Payload)
		case "offer-response":
			s.wsOfferResponse(r.Context(), partyID, sess, frame.Payload)
		case "set-available":
			s.wsSetAvailable(partyID, role, sess, frame.Payload)
		default:
			s.wsError(sess, "unknown frame type: "+frame.Type)
		}
	}
}

func (s *Server) teardown(partyID string, sess *realtime.Session) {
	s.Realtime.Detach(partyID, sess)
	_ = sess.Close()
	rec, hadRec := s.Presence.Find(partyID)
	if removed, ok := s.Presence.RemoveChannel(sess.ID()); ok {
		if hadRec && rec.Role == models.RoleDriver {
			observability.DriversOnline.Dec()
			s.Engine.HandleDisconnect(removed)
		}
	}
}

func (s *Server) wsRegister(ctx context.Context, partyID string, sess *realtime.Session, raw json.RawMessage) models.Role {
	var p registerPayload
	if err := json.Unmarshal(raw, &p); err != nil || (p.Role != models.RoleRider && p.Role != models.RoleDriver) {
		s.wsError(sess, "register needs role rider or driver")
		return ""
	}
	rec, err := s.Presence.Register(ctx, partyID, p.Role, sess.ID(), p.Loc)
	if err != nil {
		s.wsError(sess, "registration failed: "+err.Error())
		return ""
	}
	if p.Role == models.RoleDriver {
		observability.DriversOnline.Inc()
	}
	_ = sess.Send(realtime.Event{Type: realtime.EventRegistered, Payload: map[string]any{
		"party_id": partyID,
		"role":     rec.Role,
		"class":    rec.Class,
	}})

	// reconnect catch-up: the party pulls its current ride state
	if rd, err := s.Rides.CurrentForParty(ctx, partyID); err == nil && rd != nil && !rd.Status.Terminal() {
		_ = sess.Send(realtime.Event{Type: realtime.EventRideAssigned, Payload: publicRide(rd, partyID)})
	}
	if p.Role == models.RoleRider && p.Loc != nil {
		class := p.Class
		if class == "" {
			class = models.ClassCar
		}
		_ = s.Tracker.AvailableDrivers(partyID, *p.Loc, class, 0, 20)
	}
	return p.Role
}

func (s *Server) wsLocation(ctx context.Context, partyID string, sess *realtime.Session, raw json.RawMessage) {
	var p locationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.wsError(sess, "bad location payload")
		return
	}
	loc := models.Coord{Lat: p.Lat, Lon: p.Lon}
	if !validCoord(loc) {
		s.wsError(sess, "location out of range")
		return
	}
	s.Tracker.Ingest(ctx, partyID, loc, p.TS)
}

func (s *Server) wsOfferResponse(ctx context.Context, partyID string, sess *realtime.Session, raw json.RawMessage) {
	var p offerResponsePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RideID == "" {
		s.wsError(sess, "bad offer response")
		return
	}
	assigned, err := s.Engine.Respond(ctx, p.RideID, partyID, p.Accept)
	if err != nil {
		s.wsError(sess, err.Error())
		return
	}
	if assigned != nil {
		s.holdFare(ctx, assigned)
		_ = sess.Send(realtime.Event{Type: realtime.EventRideAssigned, Payload: publicRide(assigned, partyID)})
	}
}

func (s *Server) wsSetAvailable(partyID string, role models.Role, sess *realtime.Session, raw json.RawMessage) {
	var p availablePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.wsError(sess, "bad availability payload")
		return
	}
	if role != models.RoleDriver {
		s.wsError(sess, "only drivers set availability")
		return
	}
	s.Presence.SetAvailable(partyID, p.Available)
}

func (s *Server) wsError(sess *realtime.Session, msg string) {
	_ = sess.Send(realtime.Event{Type: realtime.EventError, Payload: map[string]string{"error": msg}})
}
