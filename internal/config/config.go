package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API
// process. Values are primarily loaded from environment variables with
// sane defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OfferTimeout   time.Duration
	SearchRadiusM  float64
	MaxCandidates  int
	DispatchRounds int

	OSRMEndpoint    string
	RouteCacheTTL   time.Duration
	DefaultSpeedMps float64
	TollPerKm       float64

	GeocodeEndpoint string
	GeocodeInterval time.Duration

	PaymentCurrency string

	// PriceMultipliers maps vehicle class names to fare multipliers.
	// Empty means the built-in table.
	PriceMultipliers map[string]float64

	FCMEndpoint  string
	FCMServerKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		OfferTimeout:    30 * time.Second,
		SearchRadiusM:   5000,
		MaxCandidates:   8,
		DispatchRounds:  2,
		RouteCacheTTL:   5 * time.Minute,
		DefaultSpeedMps: 10,
		GeocodeInterval: time.Second,
		PaymentCurrency: "inr",
		FCMEndpoint:     "https://fcm.googleapis.com",
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.OfferTimeout, "DISPATCH_OFFER_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.SearchRadiusM, "DISPATCH_SEARCH_RADIUS_M", &errs)
	setIntFromEnv(&cfg.MaxCandidates, "DISPATCH_MAX_CANDIDATES", &errs)
	setIntFromEnv(&cfg.DispatchRounds, "DISPATCH_ROUNDS", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "ROUTE_DEFAULT_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.TollPerKm, "ROUTE_TOLL_PER_KM", &errs)

	setStringFromEnv(&cfg.GeocodeEndpoint, "GEOCODE_ENDPOINT")
	setDurationFromEnv(&cfg.GeocodeInterval, "GEOCODE_MIN_INTERVAL", &errs)

	setStringFromEnv(&cfg.PaymentCurrency, "PAYMENT_CURRENCY")
	if v := os.Getenv("PRICE_MULTIPLIERS"); v != "" {
		cfg.PriceMultipliers = parseMultipliers(v, &errs)
	}

	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	cfg.FCMServerKey = os.Getenv("FCM_SERVER_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CANDIDATES must be > 0"))
	}
	if cfg.DispatchRounds <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_ROUNDS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

// parseMultipliers reads "car:2.0,auto:1.5,bike:1.0".
func parseMultipliers(v string, errs *[]error) map[string]float64 {
	out := make(map[string]float64)
	for _, pair := range splitAndTrim(v) {
		class, raw, ok := strings.Cut(pair, ":")
		if !ok {
			*errs = append(*errs, fmt.Errorf("invalid PRICE_MULTIPLIERS entry %q, want class:factor", pair))
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid PRICE_MULTIPLIERS factor %q: %w", pair, err))
			continue
		}
		if f <= 0 {
			*errs = append(*errs, fmt.Errorf("PRICE_MULTIPLIERS factor for %q must be > 0", class))
			continue
		}
		out[strings.TrimSpace(class)] = f
	}
	return out
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
