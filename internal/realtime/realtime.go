package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type EventType string

const (
	EventRideOffer        EventType = "ride-offer"
	EventRideAssigned     EventType = "ride-assigned"
	EventDriverArrived    EventType = "driver-arrived"
	EventRideStarted      EventType = "ride-started"
	EventLocationUpdate   EventType = "location-update"
	EventRideCompleted    EventType = "ride-completed"
	EventRideCancelled    EventType = "ride-cancelled"
	EventOfferExpired     EventType = "offer-expired"
	EventAvailableDrivers EventType = "available-drivers"
	EventRegistered       EventType = "registered"
	EventError            EventType = "error"
)

type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

var ErrNoChannel = errors.New("no live channel for party")

// Session is one live websocket. gorilla/websocket allows a single
// concurrent writer, so every send holds the session's write mutex.
type Session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) ID() string { return s.id }

func (s *Session) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

func (s *Session) Close() error { return s.conn.Close() }

// Manager multiplexes push events onto each party's single live channel.
// Delivery is best-effort: no live channel means the event is dropped and
// the party pulls current ride state on reconnect.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // partyID -> session
	log      *slog.Logger
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{sessions: make(map[string]*Session), log: log}
}

// Attach binds a connection to a party, closing any previous channel for
// that party so exactly one stays authoritative.
func (m *Manager) Attach(partyID string, conn *websocket.Conn) *Session {
	s := &Session{id: uuid.NewString(), conn: conn}
	m.mu.Lock()
	prev := m.sessions[partyID]
	m.sessions[partyID] = s
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return s
}

// Detach removes the session if it is still the party's current channel.
func (m *Manager) Detach(partyID string, s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[partyID]; ok && cur == s {
		delete(m.sessions, partyID)
	}
	m.mu.Unlock()
}

func (m *Manager) Push(partyID string, ev Event) error {
	m.mu.RLock()
	s, ok := m.sessions[partyID]
	m.mu.RUnlock()
	if !ok {
		return ErrNoChannel
	}
	if err := s.Send(ev); err != nil {
		m.log.Warn("ws send failed", "party_id", partyID, "event", ev.Type, "error", err)
		return err
	}
	return nil
}

// Broadcast fans an event to every live channel, e.g. the available-drivers
// stream consumed by map views.
func (m *Manager) Broadcast(ev Event) {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(ev); err != nil {
			m.log.Warn("ws broadcast send failed", "event", ev.Type, "error", err)
		}
	}
}

// Connected reports whether the party currently has a live channel.
func (m *Manager) Connected(partyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[partyID]
	return ok
}
