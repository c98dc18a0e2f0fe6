package earnings

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Summary aggregates a driver's credited fares.
type Summary struct {
	Today float64 `json:"today"`
	Total float64 `json:"total"`
	Rides int     `json:"rides"`
}

// Ledger credits a driver once per completed ride. Credit reports
// whether this call performed the credit, so retries and duplicate
// completion events are harmless.
type Ledger interface {
	Credit(ctx context.Context, driverID, rideID string, amount float64) (bool, error)
	Summary(ctx context.Context, driverID string) (Summary, error)
}

type entry struct {
	amount float64
	at     time.Time
}

// MemoryLedger is the in-memory ledger used in tests and single-node
// setups.
type MemoryLedger struct {
	mu      sync.Mutex
	byRide  map[string]entry
	byParty map[string][]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byRide:  make(map[string]entry),
		byParty: make(map[string][]string),
	}
}

func (l *MemoryLedger) Credit(ctx context.Context, driverID, rideID string, amount float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byRide[rideID]; ok {
		return false, nil
	}
	l.byRide[rideID] = entry{amount: amount, at: time.Now()}
	l.byParty[driverID] = append(l.byParty[driverID], rideID)
	return true, nil
}

func (l *MemoryLedger) Summary(ctx context.Context, driverID string) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	dayStart := startOfDay(time.Now())
	for _, rideID := range l.byParty[driverID] {
		e := l.byRide[rideID]
		s.Total += e.amount
		s.Rides++
		if !e.at.Before(dayStart) {
			s.Today += e.amount
		}
	}
	return s, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CreditRide is a convenience for the completion path.
func CreditRide(ctx context.Context, l Ledger, r *models.Ride) (bool, error) {
	if r.Driver == nil {
		return false, nil
	}
	return l.Credit(ctx, r.Driver.DriverID, r.ID, r.Price)
}
