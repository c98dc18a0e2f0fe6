package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OfferTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PriceMultipliers != nil {
		t.Fatalf("expected nil multipliers by default, got %v", cfg.PriceMultipliers)
	}
}

func TestPriceMultipliersFromEnv(t *testing.T) {
	t.Setenv("PRICE_MULTIPLIERS", "car:2.5, auto:1.8,bike:1.0")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[string]float64{"car": 2.5, "auto": 1.8, "bike": 1.0}
	if len(cfg.PriceMultipliers) != len(want) {
		t.Fatalf("got %v", cfg.PriceMultipliers)
	}
	for class, m := range want {
		if cfg.PriceMultipliers[class] != m {
			t.Fatalf("%s: got %v, want %v", class, cfg.PriceMultipliers[class], m)
		}
	}
}

func TestPriceMultipliersRejectBadEntries(t *testing.T) {
	for _, v := range []string{"car=2.0", "car:abc", "car:-1"} {
		t.Setenv("PRICE_MULTIPLIERS", v)
		if _, err := LoadServerConfig(); err == nil {
			t.Fatalf("expected error for %q", v)
		}
	}
}

func TestBadDurationAccumulates(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "soon")
	t.Setenv("ROUTE_CACHE_TTL", "later")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected joined parse errors")
	}
}
