package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/vehicles"
)

// Record is the live-connection state of one party. At most one live
// record exists per party at any instant; a new registration evicts the
// previous one.
type Record struct {
	PartyID   string
	Role      models.Role
	ChannelID string
	Loc       models.Coord
	HasLoc    bool
	Class     models.VehicleClass // drivers only
	Available bool                // drivers only
	Updated   time.Time
}

// Registry tracks who is reachable right now. It also keeps the geo index
// in sync so candidate queries see presence changes promptly. All state is
// process-local and reconstructible from reconnection.
type Registry struct {
	mu        sync.RWMutex
	byParty   map[string]*Record
	byChannel map[string]string // channelID -> partyID

	geo      geo.Geo
	vehicles vehicles.Registry
	log      *slog.Logger
}

func NewRegistry(g geo.Geo, v vehicles.Registry, log *slog.Logger) *Registry {
	return &Registry{
		byParty:   make(map[string]*Record),
		byChannel: make(map[string]string),
		geo:       g,
		vehicles:  v,
		log:       log,
	}
}

// Register creates (or replaces) the live record for a party. For drivers
// the vehicle class is re-derived from the vehicle registry so a client
// cannot spoof the class used for matching.
func (r *Registry) Register(ctx context.Context, partyID string, role models.Role, channelID string, loc *models.Coord) (*Record, error) {
	rec := &Record{
		PartyID:   partyID,
		Role:      role,
		ChannelID: channelID,
		Updated:   time.Now(),
	}
	if loc != nil {
		rec.Loc = *loc
		rec.HasLoc = true
	}
	if role == models.RoleDriver {
		v, err := r.vehicles.Vehicle(ctx, partyID)
		if err != nil {
			return nil, err
		}
		rec.Class = v.Class
		rec.Available = true
	}

	r.mu.Lock()
	if prev, ok := r.byParty[partyID]; ok {
		delete(r.byChannel, prev.ChannelID)
	}
	r.byParty[partyID] = rec
	r.byChannel[channelID] = partyID
	r.mu.Unlock()

	r.syncGeo(rec)
	r.log.Info("party registered", "party_id", partyID, "role", role, "channel_id", channelID)
	return rec, nil
}

// UpdateLocation overwrites the party's last known position, latest wins.
// Out-of-order updates (older timestamp) are dropped.
func (r *Registry) UpdateLocation(partyID string, loc models.Coord, ts time.Time) bool {
	r.mu.Lock()
	rec, ok := r.byParty[partyID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	if rec.HasLoc && ts.Before(rec.Updated) {
		r.mu.Unlock()
		return false
	}
	rec.Loc = loc
	rec.HasLoc = true
	rec.Updated = ts
	cp := *rec
	r.mu.Unlock()

	r.syncGeo(&cp)
	return true
}

func (r *Registry) SetAvailable(partyID string, available bool) bool {
	r.mu.Lock()
	rec, ok := r.byParty[partyID]
	if !ok || rec.Role != models.RoleDriver {
		r.mu.Unlock()
		return false
	}
	rec.Available = available
	rec.Updated = time.Now()
	cp := *rec
	r.mu.Unlock()

	r.syncGeo(&cp)
	return true
}

// RemoveChannel deletes the presence record bound to a dropped channel.
// It is a no-op when the party has since re-registered on a new channel.
func (r *Registry) RemoveChannel(channelID string) (partyID string, removed bool) {
	r.mu.Lock()
	partyID, ok := r.byChannel[channelID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	rec := r.byParty[partyID]
	delete(r.byChannel, channelID)
	delete(r.byParty, partyID)
	isDriver := rec != nil && rec.Role == models.RoleDriver
	r.mu.Unlock()

	if isDriver {
		r.geo.Remove(partyID)
	}
	r.log.Info("party disconnected", "party_id", partyID, "channel_id", channelID)
	return partyID, true
}

func (r *Registry) Find(partyID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byParty[partyID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (r *Registry) syncGeo(rec *Record) {
	if rec.Role != models.RoleDriver || !rec.HasLoc {
		return
	}
	r.geo.Upsert(geo.DriverEntry{
		ID:        rec.PartyID,
		Loc:       rec.Loc,
		Class:     rec.Class,
		Available: rec.Available,
		Updated:   rec.Updated,
	})
}
