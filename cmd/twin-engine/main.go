package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/adapters"
	"github.com/digital-twin-engine/internal/alerts"
	"github.com/digital-twin-engine/internal/api"
	"github.com/digital-twin-engine/internal/config"
	"github.com/digital-twin-engine/internal/domain"
	"github.com/digital-twin-engine/internal/eventstore"
	"github.com/digital-twin-engine/internal/orchestrator"
	"github.com/digital-twin-engine/internal/sanitize"
	"github.com/digital-twin-engine/internal/state"
	"github.com/digital-twin-engine/internal/temporal"
	"github.com/digital-twin-engine/internal/twin"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"backend": cfg.Store.Backend,
		"models":  len(cfg.Models),
	}).Info("Starting twin engine")

	events, cleanup, err := openEventStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open event store")
	}
	defer cleanup()

	snapshots, err := openSnapshotStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open snapshot store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer redisClient.Close()
	}

	aggregator := temporal.NewAggregator(temporal.Config{
		Signals:          cfg.Engine.Signals,
		ShortWindow:      cfg.Engine.ShortWindow,
		MediumWindow:     cfg.Engine.MediumWindow,
		LongWindow:       cfg.Engine.LongWindow,
		BaselineLookback: cfg.Engine.BaselineLookback,
		ZScoreThreshold:  cfg.Engine.ZScoreThreshold,
		MinWindowSamples: cfg.Engine.MinWindowSamples,
	}, logger)

	lkg, err := orchestrator.NewLastKnownGood(cfg.Engine.LKGCacheSize, redisClient, cfg.Redis.TTL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create last-known-good cache")
	}

	services := make([]domain.PredictionService, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		adapter, err := adapters.NewHTTPAdapter(adapters.HTTPConfig{
			Name:      mc.Name,
			BaseURL:   mc.BaseURL,
			Timeout:   mc.Timeout,
			RateLimit: mc.RateLimit,
		})
		if err != nil {
			logger.WithError(err).WithField("model", mc.Name).Fatal("Failed to create model adapter")
		}
		services = append(services, adapter)
	}
	orch := orchestrator.New(orchestrator.Config{
		FailureThreshold: cfg.Engine.FailureThreshold,
		Cooldown:         cfg.Engine.BreakerCooldown,
		ModelTimeout:     cfg.Engine.ModelTimeout,
	}, logger, lkg, services...)

	manager := state.NewManager(events, snapshots, aggregator, logger)
	generator := alerts.NewGenerator(alerts.Config{
		ClinicalWeightThreshold: cfg.Alerts.ClinicalWeightThreshold,
		ConfidenceFloor:         cfg.Alerts.ConfidenceFloor,
		ConfidenceHighMark:      cfg.Alerts.ConfidenceHighMark,
		DegradedFor:             cfg.Alerts.DegradedFor,
		SuppressionWindow:       cfg.Alerts.SuppressionWindow,
	}, logger)
	publisher := alerts.NewPublisher(sanitize.New(), logger, buildSinks(cfg, redisClient, logger)...)

	service := twin.NewService(events, aggregator, orch, manager, generator, publisher, cfg.Engine.RefreshTimeout, logger)
	server := api.NewServer(cfg.Server, service, logger, cfg.Logging.Level == "debug")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Twin engine stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openEventStore(cfg domain.StoreConfig) (domain.EventStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		return eventstore.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := eventstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := eventstore.NewPostgresStoreFromURL(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func openSnapshotStore(cfg domain.StoreConfig) (domain.SnapshotStore, error) {
	if cfg.Backend != "postgres" {
		// The sqlite deployments keep snapshots in memory; the event log
		// carries durability and replay rebuilds state after a restart.
		return state.NewMemorySnapshots(), nil
	}
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	return state.NewPostgresSnapshots(db)
}

func buildSinks(cfg *domain.Config, redisClient *redis.Client, logger *logrus.Logger) []domain.AlertSink {
	sinks := []domain.AlertSink{alerts.NewLogSink(logger)}
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alerts.NewWebhookSink(cfg.Alerts.WebhookURL, 0))
	}
	if cfg.Alerts.WebsocketURL != "" {
		sinks = append(sinks, alerts.NewWebSocketSink(cfg.Alerts.WebsocketURL))
	}
	if redisClient != nil && cfg.Alerts.RedisChannel != "" {
		sinks = append(sinks, alerts.NewRedisSink(redisClient, cfg.Alerts.RedisChannel))
	}
	return sinks
}
