package ride

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides in a map guarded by one mutex. Transitions run
// guard-then-mutate under the lock, so the conditional-update contract
// holds the same way it does for the SQL store.
type MemoryStore struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CurrentForParty(ctx context.Context, partyID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Ride
	for _, r := range m.rides {
		if r.RiderID != partyID && (r.Driver == nil || r.Driver.DriverID != partyID) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ActiveForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.Driver == nil || r.Driver.DriverID != driverID {
			continue
		}
		switch r.Status {
		case models.StatusAssigned, models.StatusArrived, models.StatusInProgress:
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Assign(ctx context.Context, rideID string, snap models.DriverSnapshot, otp string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardAssign(r); err != nil {
		return nil, err
	}
	r.Status = models.StatusAssigned
	r.Driver = &snap
	r.OTP = otp
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) MarkArrived(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardArrived(r, driverID); err != nil {
		return nil, err
	}
	if r.Status != models.StatusArrived {
		r.Status = models.StatusArrived
		r.UpdatedAt = time.Now()
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Start(ctx context.Context, rideID, driverID, otp string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardStart(r, driverID, otp); err != nil {
		return nil, err
	}
	r.Status = models.StatusInProgress
	r.OTP = "" // single-use
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardComplete(r, driverID); err != nil {
		return nil, err
	}
	r.Status = models.StatusCompleted
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, rideID string, by models.Role, partyID, reason string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardCancel(r, partyID); err != nil {
		return nil, err
	}
	r.Status = models.StatusCancelled
	r.CancelledBy = by
	r.CancelReason = reason
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}
