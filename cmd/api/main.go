// Package main is the entry point for the Steward payments webhook server.
//
// It loads configuration, selects the idempotency backend (memory, postgres,
// or redis), wires the signature verifier, replay guard, event handlers, and
// dispatcher into the HTTP chassis, and serves POST /webhooks/payments plus
// GET /health.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"steward/internal/api/handlers"
	"steward/internal/config"
	"steward/internal/core"
	"steward/internal/db"
	"steward/internal/external"
	"steward/internal/metrics"
	"steward/internal/queue"
	"steward/internal/types"
	"steward/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("steward webhook server starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"idempotency_backend", string(cfg.Webhook.IdempotencyBackend),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx := context.Background()

	// Database pool: required for the postgres backend, and used by the
	// donation/subscription repositories and the delivery audit log whenever
	// DATABASE_URL is configured.
	var pool *pgxpool.Pool
	if cfg.Database.URL.Unmask() != "" {
		pool, err = db.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		srv.RegisterCloser(func() error {
			pool.Close()
			return nil
		})
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "database",
			CheckFunc: pool.Ping,
		})
	}

	// Idempotency store selection.
	var store webhook.IdempotencyStore
	switch cfg.Webhook.IdempotencyBackend {
	case config.BackendPostgres:
		if pool == nil {
			return fmt.Errorf("postgres idempotency backend requires DATABASE_URL")
		}
		repo := db.NewProcessedWebhookRepo(pool, logger)
		srv.RegisterCloser(startRetentionPurger(repo, cfg.Webhook.Retention, logger))
		store = repo

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Unmask(),
			DB:       cfg.Redis.DB,
		})
		srv.RegisterCloser(rdb.Close)
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "redis",
			CheckFunc: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		store = webhook.NewRedisStore(rdb, cfg.Webhook.Retention)

	default:
		if cfg.Environment != "local" {
			logger.Warn("memory idempotency backend is single-instance only; " +
				"duplicate suppression does not survive restarts")
		}
		store = webhook.NewMemoryStore(0)
	}

	// Donation and subscription repositories. Without a database (local dev
	// with the memory backend), log-only collaborators keep the endpoint
	// runnable end to end.
	var donations webhook.DonationUpdater
	var subscriptions webhook.SubscriptionUpdater
	if pool != nil {
		donations = db.NewDonationRepo(pool, logger)
		subscriptions = db.NewSubscriptionRepo(pool, logger)
	} else {
		donations = &logDonationUpdater{logger: logger}
		subscriptions = &logSubscriptionUpdater{logger: logger}
	}

	// Delivery audit log, best-effort, only with a database.
	var handlerOpts []handlers.PaymentsWebhookHandlerOption
	if pool != nil {
		auditor, err := db.NewDeliveryLogRepo(pool, logger)
		if err != nil {
			return fmt.Errorf("creating delivery log: %w", err)
		}
		handlerOpts = append(handlerOpts, handlers.WithDeliveryAuditor(auditor))
	}

	// Receipt sender, only when the email provider is configured.
	var receipts webhook.ReceiptSender
	if cfg.Receipts.APIKey.Unmask() != "" {
		receipts = external.NewReceiptClient(
			&http.Client{Timeout: 10 * time.Second},
			external.ReceiptClientConfig{Receipts: cfg.Receipts, Logger: logger},
		)
	} else {
		logger.Info("receipts API key not configured; receipt sending disabled")
	}

	// AWS clients for the automation queue and CloudWatch metrics.
	var automation webhook.AutomationDispatcher
	if cfg.Automation.QueueURL != "" || cfg.Metrics.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS SDK config: %w", err)
		}

		if cfg.Automation.QueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg)
			automation = queue.NewAutomationTrigger(sqsClient, cfg.Automation, logger)
		}

		if cfg.Metrics.Enabled {
			cwClient := cloudwatch.NewFromConfig(awsCfg)
			cw := metrics.NewCloudWatchMetrics(cwClient, cfg.Metrics.Namespace, logger)
			srv.Metrics = cw
			handlerOpts = append(handlerOpts, handlers.WithDeliveryMetrics(cw))
		}
	}

	eventHandlers := webhook.NewHandlers(
		donations,
		subscriptions,
		receipts,
		automation,
		cfg.Receipts.TemplateID,
		logger,
	)
	dispatcher := webhook.NewDispatcher(eventHandlers, logger)

	handlerOpts = append(handlerOpts, handlers.WithRequireTimestamp(cfg.Webhook.RequireTimestamp))

	webhookHandler := handlers.NewPaymentsWebhookHandler(
		webhook.NewHMACVerifier(),
		webhook.NewReplayGuard(cfg.Webhook.ReplayWindow),
		store,
		dispatcher,
		cfg.Webhook.Secret.Unmask(),
		logger,
		handlerOpts...,
	)

	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		webhookHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// retentionPurgeInterval is how often processed-webhook rows outside the
// retention window are removed when the postgres backend is active.
const retentionPurgeInterval = time.Hour

// startRetentionPurger runs the idempotency retention sweep on a fixed
// interval in the background and returns a closer that stops it.
func startRetentionPurger(repo *db.ProcessedWebhookRepo, retention time.Duration, logger *slog.Logger) func() error {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(retentionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				purged, err := repo.PurgeOlderThan(ctx, retention)
				cancel()
				if err != nil {
					logger.Error("idempotency retention purge failed", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("purged expired idempotency records", "count", purged)
				}
			}
		}
	}()

	return func() error {
		close(done)
		return nil
	}
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// =============================================================================
// Log-only collaborators for database-less local runs
// =============================================================================

// logDonationUpdater records donation transitions to the log instead of a
// database. Used only when DATABASE_URL is not configured.
type logDonationUpdater struct {
	logger *slog.Logger
}

func (u *logDonationUpdater) UpdateStatus(ctx context.Context, donationID string, status types.DonationStatus) error {
	u.logger.InfoContext(ctx, "donation status update (no database configured)",
		"donation_id", donationID,
		"status", string(status),
	)
	return nil
}

// logSubscriptionUpdater records subscription transitions to the log instead
// of a database.
type logSubscriptionUpdater struct {
	logger *slog.Logger
}

func (u *logSubscriptionUpdater) Activate(ctx context.Context, subscriptionID string) error {
	u.logger.InfoContext(ctx, "subscription activate (no database configured)",
		"subscription_id", subscriptionID,
	)
	return nil
}

func (u *logSubscriptionUpdater) UpdateStatus(ctx context.Context, subscriptionID string, status types.SubscriptionStatus) error {
	u.logger.InfoContext(ctx, "subscription status update (no database configured)",
		"subscription_id", subscriptionID,
		"status", string(status),
	)
	return nil
}

func (u *logSubscriptionUpdater) UpdateTerms(ctx context.Context, subscriptionID string, amountCents int64, paymentMethod string) error {
	u.logger.InfoContext(ctx, "subscription terms update (no database configured)",
		"subscription_id", subscriptionID,
		"amount_cents", amountCents,
		"payment_method", paymentMethod,
	)
	return nil
}

// Compile-time interface assertions.
var (
	_ webhook.DonationUpdater      = (*logDonationUpdater)(nil)
	_ webhook.SubscriptionUpdater  = (*logSubscriptionUpdater)(nil)
	_ webhook.ReceiptSender        = (*external.ReceiptClient)(nil)
	_ webhook.AutomationDispatcher = (*queue.AutomationTrigger)(nil)
	_ webhook.IdempotencyStore     = (*db.ProcessedWebhookRepo)(nil)
	_ handlers.DeliveryAuditor     = (*db.DeliveryLogRepo)(nil)
	_ core.MetricsCollector        = (*metrics.CloudWatchMetrics)(nil)
)
