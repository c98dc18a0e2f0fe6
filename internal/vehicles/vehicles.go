package vehicles

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

var ErrUnknownDriver = errors.New("unknown driver")

// Profile is the contact slice of a driver account, pulled for snapshot
// embedding. Account CRUD itself lives elsewhere.
type Profile struct {
	FullName string
	Phone    string
}

// Registry resolves driver identity to vehicle and contact details. The
// vehicle class used for matching always comes from here, never from
// client input.
type Registry interface {
	Vehicle(ctx context.Context, driverID string) (models.Vehicle, error)
	Profile(ctx context.Context, driverID string) (Profile, error)
}

// Static is an in-memory registry, used in tests and single-node setups.
type Static struct {
	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
	profiles map[string]Profile
}

func NewStatic() *Static {
	return &Static{
		vehicles: make(map[string]models.Vehicle),
		profiles: make(map[string]Profile),
	}
}

func (s *Static) Put(driverID string, v models.Vehicle, p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[driverID] = v
	s.profiles[driverID] = p
}

func (s *Static) Vehicle(ctx context.Context, driverID string) (models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[driverID]
	if !ok {
		return models.Vehicle{}, ErrUnknownDriver
	}
	return v, nil
}

func (s *Static) Profile(ctx context.Context, driverID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[driverID]
	if !ok {
		return Profile{}, ErrUnknownDriver
	}
	return p, nil
}
