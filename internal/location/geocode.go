package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrGeocodeThrottled means the reverse-geocode budget is spent; the
// caller keeps the bare coordinates.
var ErrGeocodeThrottled = errors.New("geocode throttled")

// Geocoder resolves a coordinate to a display address.
type Geocoder interface {
	Reverse(ctx context.Context, c models.Coord) (string, error)
}

// NominatimClient reverse-geocodes against a Nominatim-compatible HTTP
// endpoint.
type NominatimClient struct {
	Endpoint string
	Client   *http.Client
}

func NewNominatimClient(endpoint string) *NominatimClient {
	return &NominatimClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (n *NominatimClient) Reverse(ctx context.Context, c models.Coord) (string, error) {
	url := fmt.Sprintf("%s/reverse?format=json&lat=%.6f&lon=%.6f", n.Endpoint, c.Lat, c.Lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

// Throttled caps upstream geocode calls to one per interval. Address
// enrichment is cosmetic, so over-budget lookups fail fast instead of
// queueing.
type Throttled struct {
	inner    Geocoder
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewThrottled(inner Geocoder, interval time.Duration) *Throttled {
	if interval <= 0 {
		interval = time.Second
	}
	return &Throttled{inner: inner, interval: interval}
}

func (t *Throttled) Reverse(ctx context.Context, c models.Coord) (string, error) {
	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return "", ErrGeocodeThrottled
	}
	t.last = now
	t.mu.Unlock()
	return t.inner.Reverse(ctx, c)
}
