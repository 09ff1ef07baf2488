package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/loomline-systems/loomline/internal/alerts"
	"github.com/loomline-systems/loomline/internal/config"
	"github.com/loomline-systems/loomline/internal/dedup"
	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/handlers"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/messaging/nats"
	"github.com/loomline-systems/loomline/internal/pipeline"
	"github.com/loomline-systems/loomline/internal/repository"
	"github.com/loomline-systems/loomline/internal/scheduler"
	"github.com/loomline-systems/loomline/internal/server"
	"github.com/loomline-systems/loomline/internal/transport"
	"github.com/loomline-systems/loomline/internal/validation"
	"github.com/loomline-systems/loomline/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	var store repository.Store
	switch cfg.Database.Backend {
	case "postgres", "":
		pg := cfg.Database.Postgres
		connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			pg.User, pg.Password, pg.Host, pg.Port, pg.Database, pg.SSLMode)

		m, err := migrate.New("file://migrations", connString)
		if err != nil {
			log.Fatalf("Failed to create migrator: %v", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database migrations applied")

		pgStore, err := repository.NewPostgresStore(context.Background(), connString)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		store = pgStore
	case "memory":
		store = repository.NewMemoryStore()
		log.Println("Using in-memory store; state is lost on restart")
	default:
		log.Fatalf("Unknown database backend: %s (supported: postgres, memory)", cfg.Database.Backend)
	}
	defer store.Close()

	var deduper dedup.Deduper
	switch cfg.Dedup.Backend {
	case "memory", "":
		deduper = dedup.NewMemoryDeduper(cfg.Dedup.TTL)
	case "redis":
		d, err := dedup.NewRedisDeduper(cfg.Redis.URL, cfg.Redis.PoolSize, cfg.Dedup.TTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		deduper = d
		log.Println("Connected to Redis for envelope dedup")
	default:
		log.Fatalf("Unknown dedup backend: %s (supported: memory, redis)", cfg.Dedup.Backend)
	}
	defer deduper.Close()

	natsCfg := nats.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "loomline-" + cfg.Module.Self
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait

	client, err := nats.NewClient(natsCfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	log.Printf("Connected to NATS at %s", cfg.NATS.URL)

	signer := webhook.NewTokenSigner(cfg.Webhook.Secret, cfg.Module.Self, cfg.Webhook.TokenTTL)

	fallback := transport.NewFallbackSender(transport.FallbackConfig{
		Endpoints:      cfg.Transport.Endpoints,
		Attempts:       cfg.Transport.FallbackAttempts,
		InitialBackoff: cfg.Transport.FallbackBackoff,
		Timeout:        cfg.Transport.FallbackTimeout,
	}, signer, logger)

	bus := transport.NewBus(transport.BusConfig{
		Self:           cfg.Module.Self,
		Peers:          cfg.Module.Peers,
		AckWait:        cfg.Transport.AckWait,
		PublishWorkers: cfg.Transport.PublishWorkers,
		QueueSize:      cfg.Transport.QueueSize,
	}, client, fallback, deduper, store, logger)

	alertMgr := alerts.NewManager(store, logger)
	if err := alertMgr.SyncOpenGauge(context.Background()); err != nil {
		logger.Warn("Failed to sync open alert gauge", "error", err)
	}

	orch := validation.NewOrchestrator(validation.Config{
		Self:    cfg.Module.Self,
		Timeout: cfg.Validation.Timeout,
		Grace:   cfg.Validation.GracePeriod,
	}, bus, logger)

	svc := pipeline.NewService(store, orch, bus, logger, cfg.Module.Self)

	// Inbound routing. Alert-worthy kinds include approval_decided, which
	// the orchestrator also consumes to resolve its pending request.
	for _, kind := range alerts.ClassifiedKinds() {
		bus.Subscribe(kind, alertMgr.HandleEvent)
	}
	bus.SubscribeDefault(alertMgr.HandleEvent)
	bus.Subscribe(events.KindMarginCheckResponse, orch.HandleResponse)
	bus.Subscribe(events.KindCapacityCheckResponse, orch.HandleResponse)
	bus.Subscribe(events.KindApprovalDecided, orch.HandleResponse)

	if err := bus.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	log.Println("Event bus started")

	sched := scheduler.NewScheduler(orch, store, alertMgr, logger, scheduler.Config{
		TimeoutSweepInterval: cfg.Scheduler.TimeoutSweepInterval,
		StaleScanInterval:    cfg.Scheduler.StaleScanInterval,
		StaleAfter:           cfg.Scheduler.StaleAfter,
	})
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := handlers.NewHandler(svc, alertMgr, orch, bus, store, signer, logger, cfg.Module.Self)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting loomlined (module %s) on port %d", cfg.Module.Self, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := sched.Stop(); err != nil {
		log.Printf("Scheduler stop: %v", err)
	}

	// Closing the orchestrator first releases every outstanding validation
	// handle, so the service's outcome consumers can drain.
	orch.Close()
	svc.Close()

	if err := bus.Stop(); err != nil {
		log.Printf("Event bus stop: %v", err)
	}
	if err := client.Drain(); err != nil {
		log.Printf("NATS drain: %v", err)
	}

	log.Println("Server stopped gracefully")
}
