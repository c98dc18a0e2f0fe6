package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/realtime"
)

// Sender delivers an event to a party through an out-of-band push
// channel, used when the party has no live websocket.
type Sender interface {
	Send(ctx context.Context, partyID string, ev realtime.Event) error
}

// TokenSource resolves a party to its device push token.
type TokenSource interface {
	Token(partyID string) (string, bool)
}

// StaticTokens is an in-memory token source.
type StaticTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticTokens() *StaticTokens {
	return &StaticTokens{tokens: make(map[string]string)}
}

func (s *StaticTokens) Put(partyID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[partyID] = token
}

func (s *StaticTokens) Token(partyID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[partyID]
	return t, ok
}

// Fallback fronts the live channel manager: delivery still prefers the
// websocket, and a missing channel triggers a best-effort device push.
// The original ErrNoChannel is returned either way so callers keep the
// drop-and-pull-on-reconnect contract.
type Fallback struct {
	live *realtime.Manager
	push Sender
	log  *slog.Logger
}

func NewFallback(live *realtime.Manager, push Sender, log *slog.Logger) *Fallback {
	return &Fallback{live: live, push: push, log: log}
}

func (f *Fallback) Push(partyID string, ev realtime.Event) error {
	err := f.live.Push(partyID, ev)
	if errors.Is(err, realtime.ErrNoChannel) && f.push != nil {
		if perr := f.push.Send(context.Background(), partyID, ev); perr != nil {
			f.log.Warn("fallback push failed", "party_id", partyID, "event", ev.Type, "error", perr)
		}
	}
	return err
}

func (f *Fallback) Connected(partyID string) bool {
	return f.live.Connected(partyID)
}
