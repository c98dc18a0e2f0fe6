package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func newPendingRide(t *testing.T, s Store) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:           "ride-1",
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
		t.Fatalf("create: %v", err)
	}
	return r
}

func snap(driverID string) models.DriverSnapshot {
	return models.DriverSnapshot{
		DriverID:     driverID,
		FullName:     "Test Driver",
		Phone:        "555-0000",
		VehicleName:  "Swift",
		VehiclePlate: "DL-01-1234",
		VehicleClass: models.ClassCar,
	}
}

func TestFullLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)

	r, err := s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if r.Status != models.StatusAssigned || r.Driver == nil || r.OTP != "4321" {
		t.Fatalf("bad assigned ride: %+v", r)
	}

	if _, err := s.MarkArrived(ctx, "ride-1", "d1"); err != nil {
		t.Fatalf("arrived: %v", err)
	}
	r, err = s.Start(ctx, "ride-1", "d1", "4321")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", r.Status)
	}
	if r.OTP != "" {
		t.Fatalf("otp not consumed")
	}
	r, err = s.Complete(ctx, "ride-1", "d1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Status)
	}
}

func TestStartWithWrongOtp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	if _, err := s.Assign(ctx, "ride-1", snap("d1"), "4321"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.Start(ctx, "ride-1", "d1", "0000"); !errors.Is(err, ErrOtpMismatch) {
		t.Fatalf("expected ErrOtpMismatch, got %v", err)
	}
	r, _ := s.Get(ctx, "ride-1")
	if r.Status != models.StatusAssigned {
		t.Fatalf("wrong otp must not change status, got %s", r.Status)
	}
}

func TestOtpIsSingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if _, err := s.Start(ctx, "ride-1", "d1", "4321"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Start(ctx, "ride-1", "d1", "4321"); err == nil {
		t.Fatalf("expected error on otp replay")
	}
}

func TestArrivedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if _, err := s.MarkArrived(ctx, "ride-1", "d1"); err != nil {
		t.Fatalf("first arrival: %v", err)
	}
	r, err := s.MarkArrived(ctx, "ride-1", "d1")
	if err != nil {
		t.Fatalf("repeated arrival must be a no-op success, got %v", err)
	}
	if r.Status != models.StatusArrived {
		t.Fatalf("status changed on repeat: %s", r.Status)
	}
}

func TestArrivedBeforeAssignment(t *testing.T) {
	s := NewMemoryStore()
	newPendingRide(t, s)
	if _, err := s.MarkArrived(context.Background(), "ride-1", "d1"); err == nil {
		t.Fatalf("expected guard failure on pending ride")
	}
}

func TestCancelCompletedRide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	_, _ = s.Start(ctx, "ride-1", "d1", "4321")
	_, _ = s.Complete(ctx, "ride-1", "d1")

	if _, err := s.Cancel(ctx, "ride-1", models.RoleRider, "rider-1", "changed my mind"); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestCancelRecordsPartyAndReason(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	r, err := s.Cancel(ctx, "ride-1", models.RoleRider, "rider-1", "waited too long")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.CancelledBy != models.RoleRider || r.CancelReason != "waited too long" {
		t.Fatalf("cancel metadata missing: %+v", r)
	}
}

func TestCancelByStrangerRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)

	if _, err := s.Cancel(ctx, "ride-1", models.RoleRider, "mallory", "grief"); !errors.Is(err, ErrNotRideParty) {
		t.Fatalf("expected ErrNotRideParty, got %v", err)
	}
	r, _ := s.Get(ctx, "ride-1")
	if r.Status != models.StatusPending {
		t.Fatalf("stranger cancel must not change status, got %s", r.Status)
	}

	// once assigned, the driver may cancel but nobody else can
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if _, err := s.Cancel(ctx, "ride-1", models.RoleDriver, "d2", "wrong car"); !errors.Is(err, ErrNotRideParty) {
		t.Fatalf("expected ErrNotRideParty for foreign driver, got %v", err)
	}
	if _, err := s.Cancel(ctx, "ride-1", models.RoleDriver, "d1", "breakdown"); err != nil {
		t.Fatalf("assigned driver cancel: %v", err)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if _, err := s.Complete(ctx, "ride-1", "d1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestWrongDriverRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)
	_, _ = s.Assign(ctx, "ride-1", snap("d1"), "4321")
	if _, err := s.MarkArrived(ctx, "ride-1", "d2"); !errors.Is(err, ErrNotRideDriver) {
		t.Fatalf("expected ErrNotRideDriver, got %v", err)
	}
}

// Exactly one of N concurrent acceptors may win the assignment.
func TestConcurrentAssignExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	newPendingRide(t, s)

	const n = 12
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "driver-" + string(rune('a'+i))
			_, errs[i] = s.Assign(ctx, "ride-1", snap(id), GenerateOTP())
		}(i)
	}
	wg.Wait()

	winners, lateRejections := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyAssigned):
			lateRejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if lateRejections != n-1 {
		t.Fatalf("expected %d late rejections, got %d", n-1, lateRejections)
	}
}

func TestGenerateOTPShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		otp := GenerateOTP()
		if len(otp) != 4 {
			t.Fatalf("expected 4 digits, got %q", otp)
		}
		for _, c := range otp {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in otp %q", otp)
			}
		}
	}
}
