package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/vehicles"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.New("ride-dispatch-api", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := migrate(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var index geo.Geo
	if cfg.RedisAddr != "" {
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("geo index: redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		index = geo.NewIndex()
		logger.Info("geo index: in-memory")
	}

	var rides ride.Store
	var veh vehicles.Registry
	var ledger earnings.Ledger
	if cfg.PGDSN != "" {
		ps, err := ride.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		rides = ps
		vr, err := vehicles.NewPostgresRegistry(cfg.PGDSN)
		if err != nil {
			logger.Error("vehicle registry unavailable", "error", err)
			os.Exit(1)
		}
		veh = vr
		db, err := sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			logger.Error("ledger db unavailable", "error", err)
			os.Exit(1)
		}
		ledger = earnings.NewPostgresLedger(db)
	} else {
		rides = ride.NewMemoryStore()
		veh = vehicles.NewStatic()
		ledger = earnings.NewMemoryLedger()
		logger.Warn("no PG_DSN set, using in-memory stores")
	}

	var producer location.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		producer = kp
	}

	var pay payments.Processor = payments.Noop{}
	if os.Getenv("STRIPE_API_KEY") != "" {
		pay = payments.NewStripeClient()
	}

	var routeClient routing.Client
	if cfg.OSRMEndpoint != "" {
		routeClient = routing.NewOSRMClient(cfg.OSRMEndpoint)
	}
	resolver := routing.NewResolver(routeClient, cfg.RouteCacheTTL, cfg.DefaultSpeedMps, cfg.TollPerKm)

	var geocoder location.Geocoder
	if cfg.GeocodeEndpoint != "" {
		geocoder = location.NewThrottled(location.NewNominatimClient(cfg.GeocodeEndpoint), cfg.GeocodeInterval)
	}

	manager := realtime.NewManager(logger)
	var sender notify.Sender
	if cfg.FCMServerKey != "" {
		sender = notify.NewFCMClient(cfg.FCMEndpoint, cfg.FCMServerKey, notify.NewStaticTokens())
	}
	pusher := notify.NewFallback(manager, sender, logger)
	pres := presence.NewRegistry(index, veh, logger)
	engine := dispatch.NewEngine(dispatch.Config{
		OfferTimeout:  cfg.OfferTimeout,
		SearchRadiusM: cfg.SearchRadiusM,
		MaxCandidates: cfg.MaxCandidates,
		MaxRounds:     cfg.DispatchRounds,
	}, index, rides, veh, pusher, pres, logger)
	tracker := location.NewTracker(pres, rides, index, pusher, producer, logger)

	srv := httpapi.NewServer(logger)
	srv.Rides = rides
	srv.Engine = engine
	srv.Presence = pres
	srv.Realtime = manager
	srv.Notify = pusher
	srv.Tracker = tracker
	srv.Routes = resolver
	srv.Prices = pricing.NewTable(fareMultipliers(cfg.PriceMultipliers))
	srv.Ledger = ledger
	srv.Payments = pay
	srv.Geocoder = geocoder
	srv.Currency = cfg.PaymentCurrency

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func fareMultipliers(raw map[string]float64) map[models.VehicleClass]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[models.VehicleClass]float64, len(raw))
	for class, m := range raw {
		out[models.VehicleClass(class)] = m
	}
	return out
}

func migrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
