package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatches_total", Help: "Total dispatch rounds started"})
	OffersTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Total ride offers pushed to drivers"})
	AcceptsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_total", Help: "Total winning offer acceptances"})
	LateRejections    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "late_rejections_total", Help: "Accepts that lost the assignment race"})
	NoDriversTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "no_drivers_total", Help: "Dispatches that found no available drivers"})
	OfferExpiries     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offer_expiries_total", Help: "Offer rounds that timed out"})
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of drivers with a live channel"})
	LocationsIngested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "locations_ingested_total", Help: "Driver location updates ingested"})
	AssignLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "assign_latency_seconds", Help: "Time from dispatch to winning acceptance"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
