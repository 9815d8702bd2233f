package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reportcollab/collabd/internal/api"
	"github.com/reportcollab/collabd/internal/bus"
	"github.com/reportcollab/collabd/internal/config"
	"github.com/reportcollab/collabd/internal/db"
	"github.com/reportcollab/collabd/internal/replica"
	"github.com/reportcollab/collabd/internal/repository"
	"github.com/reportcollab/collabd/internal/services"
	"github.com/reportcollab/collabd/internal/services/collaboration"
	"github.com/reportcollab/collabd/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

/*
Startup order: config, logging, tracing, database, journal sequence, then the
in-memory collaboration core and the HTTP server. Shutdown runs in reverse:
stop accepting requests, flush dirty documents into versions, close
connections, then release the bus, the database and the tracer.
*/

const serviceName = "collabd"

var version = "dev"

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", serviceName).Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)
	logger := log.Logger

	logger.Info().Str("version", version).Str("addr", cfg.Addr()).Msg("starting collaboration server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first so startup work is traced too
	shutdownTracing := func(context.Context) error { return nil }
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitJaeger(serviceName, version, cfg.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing, continuing without it")
		} else {
			shutdownTracing = shutdown
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	database, err := db.NewGorm(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// Repositories
	reportRepo := repository.NewReportRepository(database.DB)
	operationRepo := repository.NewOperationRepository(database.DB)
	versionRepo := repository.NewVersionRepository(database.DB)

	// Operation journal and version snapshots
	tracker := services.NewDirtyTracker()
	locks := services.NewDocumentLocks()
	journal := services.NewJournal(operationRepo, reportRepo, services.NewJournalState(), locks, logger)
	journal.SetChangeTracker(tracker)
	if err := journal.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize operation journal")
	}
	snapshotter := services.NewSnapshotter(reportRepo, versionRepo, locks, logger)

	// Presence, replicas and the relay
	hub := collaboration.NewHub(collaboration.NewRegistryState(), logger)
	hub.StartCleanup(cfg.SessionSweepInterval, cfg.SessionTimeout)

	replicas := replica.NewStore(reportRepo, logger)
	relay := collaboration.NewRelay(hub, replicas, journal, logger)
	relay.SetChangeTracker(tracker)
	relay.SetSyncLimit(cfg.SyncOperationsLimit)

	var fanout bus.Bus = bus.NewLocalBus()
	if cfg.RedisAddr != "" {
		redisBus, err := bus.Dial(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		fanout = redisBus
		logger.Info().Str("instance_id", redisBus.InstanceID()).Msg("cross-instance fan-out enabled")
	}
	defer fanout.Close()
	relay.SetPublisher(fanout)
	if err := fanout.Subscribe(ctx, func(ctx context.Context, msg bus.Message) {
		relay.HandleRemoteDelta(ctx, msg.DocumentID, msg.Payload)
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to fan-out bus")
	}

	autoVersioner := services.NewAutoVersioner(
		tracker,
		snapshotter,
		hub,
		cfg.AutoVersionInterval,
		cfg.VersionWorkers,
		cfg.VersionQueueSize,
		logger,
	)
	autoVersioner.Start()

	wsHandler := collaboration.NewWebSocketHandler(relay, logger)
	handler := api.NewHandler(
		services.NewLockedReportStore(reportRepo, locks),
		journal,
		snapshotter,
		hub,
		hub,
		http.HandlerFunc(wsHandler.HandleConnection),
		cfg.SessionTimeout,
		logger,
	)
	router := api.SetupRoutes(handler)

	// No write timeout: websocket connections are long-lived and the write
	// pump sets its own deadlines.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	// Flush pending edits into versions before connections go away
	autoVersioner.Shutdown()
	hub.Shutdown()

	logger.Info().Msg("server shutdown complete")
}
