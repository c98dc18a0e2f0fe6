package earnings

import (
	"context"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestCreditIsExactlyOncePerRide(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	ok, err := l.Credit(ctx, "d1", "ride-1", 180)
	if err != nil || !ok {
		t.Fatalf("first credit: ok=%v err=%v", ok, err)
	}
	ok, err = l.Credit(ctx, "d1", "ride-1", 180)
	if err != nil || ok {
		t.Fatalf("duplicate credit must be a no-op: ok=%v err=%v", ok, err)
	}

	s, err := l.Summary(ctx, "d1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Total != 180 || s.Rides != 1 {
		t.Fatalf("duplicate credit changed totals: %+v", s)
	}
}

func TestCreditConcurrentDuplicates(t *testing.T) {
	l := NewMemoryLedger()
	var wg sync.WaitGroup
	credited := make([]bool, 16)
	for i := range credited {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _ := l.Credit(context.Background(), "d1", "ride-1", 95)
			credited[i] = ok
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range credited {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected exactly one successful credit, got %d", n)
	}
}

func TestSummaryAccumulatesAcrossRides(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.Credit(ctx, "d1", "ride-1", 100)
	l.Credit(ctx, "d1", "ride-2", 50.5)
	l.Credit(ctx, "d2", "ride-3", 999)

	s, _ := l.Summary(ctx, "d1")
	if s.Total != 150.5 || s.Rides != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Today != 150.5 {
		t.Fatalf("fresh credits should count toward today: %+v", s)
	}
}

func TestCreditRideSkipsUnassigned(t *testing.T) {
	l := NewMemoryLedger()
	ok, err := CreditRide(context.Background(), l, &models.Ride{ID: "ride-1", Price: 80})
	if err != nil || ok {
		t.Fatalf("unassigned ride must not credit: ok=%v err=%v", ok, err)
	}
}
