package dispatch

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Offer is an ephemeral proposal of a ride to one driver candidate. It
// lives only in the engine's in-flight table and is never persisted.
type Offer struct {
	RideID   string
	DriverID string
	IssuedAt time.Time
	Deadline time.Time
}

func (o Offer) Expired(now time.Time) bool { return now.After(o.Deadline) }

// OfferPayload is what the driver app receives on the ride-offer event.
type OfferPayload struct {
	RideID       string              `json:"ride_id"`
	Pickup       models.Place        `json:"pickup"`
	Drop         models.Place        `json:"drop"`
	VehicleClass models.VehicleClass `json:"vehicle_class"`
	Price        float64             `json:"price"`
	DistanceM    float64             `json:"distance_m"`
	Deadline     time.Time           `json:"deadline"`
}
