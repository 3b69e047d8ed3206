package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/alert"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/audit"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/config"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/database"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/lock"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/metrics"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/notify"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/retry"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/service"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting idvsync",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer pool.Close()

	migrator, err := database.NewMigratorFromPool(pool, "")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("failed to migrate: %w", err)
	}
	_ = migrator.Close()

	readyChecks := map[string]handler.Pinger{"postgres": pool}

	// Per-subject lock: in-process always, Redis on top when several replicas run
	var locker lock.Locker = lock.NewKeyedMutex()
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		locker = lock.Chain{locker, lock.NewRedisLocker(redisClient, lock.WithLogger(logger))}
		readyChecks["redis"] = redisPinger{redisClient}
		logger.Info("redis subject lock enabled")
	}

	// Notifications
	var sinks notify.Multi
	if cfg.NATSURL != "" {
		natsPub, err := notify.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect nats: %w", err)
		}
		sinks = append(sinks, natsPub)
	}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewHTTPPublisher(cfg.NotifyWebhookURL, []byte(cfg.NotifyWebhookSecret)))
	}
	var publisher notify.Publisher = &notify.NoopPublisher{}
	if len(sinks) > 0 {
		publisher = sinks
	}
	defer func() { _ = publisher.Close() }()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	auditLogger := audit.NewSlogLogger(logger)
	ledger := repository.NewEventLedger(pool)
	records := repository.NewRecordStore(pool)

	ingestService := ingest.NewService(ingest.Config{
		Secrets:        cfg.Secrets(),
		Registry:       webhook.DefaultRegistry(),
		ProcessTimeout: cfg.ProcessTimeout,
		MaxRetries:     cfg.RetryMaxAttempts,
		Backoff: retry.ExponentialBackoff{
			Initial: cfg.RetryInitialBackoff,
			Max:     cfg.RetryMaxBackoff,
		},
	}, ledger, records, locker, logger).
		WithPublisher(publisher).
		WithAudit(auditLogger).
		WithMetrics(m)

	verificationService := service.NewVerificationService(records, ledger, ingestService).
		WithAudit(auditLogger).
		WithLogger(logger)

	// Background workers
	supervisor := retry.NewSupervisor(retry.Config{
		Interval:     cfg.SweepInterval,
		PendingGrace: cfg.PendingGrace,
		BatchSize:    cfg.SweepBatchSize,
		Concurrency:  cfg.SweepConcurrency,
		MaxRetries:   cfg.RetryMaxAttempts,
	}, ledger, ingestService, logger).
		WithPublisher(publisher).
		WithMetrics(m)
	go supervisor.Run(ctx)

	backlog := metrics.NewRepository(pool)
	aggregator := metrics.NewAggregator(backlog, m, logger, cfg.BacklogInterval)
	go aggregator.Start(ctx)

	alertWorker := alert.NewWorker(
		alert.DefaultRules(cfg.AlertPermanentThreshold, cfg.AlertBacklogThreshold, cfg.AlertCooldown),
		backlog, publisher, logger, cfg.AlertInterval,
	)
	go alertWorker.Start(ctx)

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		Ingest:       ingestService,
		Verification: verificationService,
		ReadyChecks:  readyChecks,
		Gatherer:     registry,
		APIKeyHashes: cfg.QueryAPIKeyHashes,
		RateLimit: middleware.RateLimiterConfig{
			Max:    cfg.WebhookRateLimit,
			Window: time.Minute,
		},
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	supervisor.Stop()
	aggregator.Stop()
	alertWorker.Stop()

	// In-flight webhooks finish before the pool closes
	done := make(chan error, 1)
	go func() { done <- router.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown timed out", slog.Duration("timeout", cfg.ShutdownTimeout))
	}

	logger.Info("server stopped")
	return nil
}

// redisPinger adapts the go-redis command API to handler.Pinger.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
