// Package main is the entrypoint for the maintenance Lambda function.
//
// EventBridge rules send a scheduler.MaintenancePayload naming the task and
// the handler routes it to the matching job:
//
//	sync_stripe  re-read stale subscriptions from Stripe and repair drift
//	migrate      apply pending database migrations
//
// Run locally with -task to execute a single job against the configured
// database without the Lambda runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"storymagic/internal/billing"
	"storymagic/internal/config"
	"storymagic/internal/db"
	"storymagic/internal/external"
	"storymagic/internal/scheduler"
	"storymagic/internal/telemetry"
)

// StripeSyncService reconciles stored billing state with Stripe.
type StripeSyncService interface {
	SyncStale(ctx context.Context, now time.Time, threshold time.Duration, limit int) (int, error)
}

// MigrationRunner applies pending schema migrations.
type MigrationRunner interface {
	Migrate(ctx context.Context) error
}

// MigrationFunc adapts a function to MigrationRunner.
type MigrationFunc func(ctx context.Context) error

func (f MigrationFunc) Migrate(ctx context.Context) error { return f(ctx) }

// Handler holds the dependencies for the maintenance handler.
type Handler struct {
	StripeSyncer StripeSyncService
	Migrator     MigrationRunner
	Logger       *slog.Logger

	// StaleThreshold and SyncLimit default to the scheduler package values
	// when zero.
	StaleThreshold time.Duration
	SyncLimit      int
}

// Handle routes a MaintenancePayload to its job and returns a short summary
// for the invocation log.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	runID := uuid.New().String()
	taskStr := string(payload.Task)
	logger = logger.With("task", taskStr, "run_id", runID)
	logger.InfoContext(ctx, "maintenance handler invoked",
		"reference_time", now.Format(time.RFC3339),
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	start := time.Now()
	items, err := h.dispatch(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"error", err,
			"items_before_error", items,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"items", items,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskSyncStripe:
		if h.StripeSyncer == nil {
			return 0, errors.New("stripe syncer not configured")
		}
		threshold := h.StaleThreshold
		if threshold <= 0 {
			threshold = scheduler.DefaultStaleThreshold
		}
		limit := h.SyncLimit
		if limit <= 0 {
			limit = scheduler.DefaultSyncBatchLimit
		}
		synced, err := h.StripeSyncer.SyncStale(ctx, now, threshold, limit)
		if err != nil {
			return synced, fmt.Errorf("syncing stripe: %w", err)
		}
		return synced, nil

	case scheduler.TaskMigrate:
		if h.Migrator == nil {
			return 0, errors.New("migrator not configured")
		}
		if err := h.Migrator.Migrate(ctx); err != nil {
			return 0, fmt.Errorf("applying migrations: %w", err)
		}
		return 0, nil

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	task := flag.String("task", "", "run a single task locally instead of starting the Lambda runtime (sync_stripe, migrate)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	handler, cleanup, err := newHandler(logger)
	if err != nil {
		logger.Error("maintenance initialization failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if *task != "" {
		result, err := handler.Handle(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskType(*task)})
		if err != nil {
			logger.Error("task failed", "error", err)
			cleanup()
			os.Exit(1)
		}
		fmt.Println(result)
		return
	}

	logger.Info("maintenance Lambda initialized")
	lambda.Start(handler.Handle)
}

// newHandler loads configuration and wires the jobs. The returned cleanup
// closes the database pool.
func newHandler(logger *slog.Logger) (*Handler, func(), error) {
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database pool: %w", err)
	}

	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("creating client registry: %w", err)
	}

	var metrics telemetry.Metrics = telemetry.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewCloudWatchMetrics(cw, cfg.Observability.MetricNamespace, logger)
	}

	subscriptions := db.NewSubscriptionRepo(pool, logger, db.WithOrderingGuard(cfg.Billing.OrderingGuard))
	reconciler := billing.NewReconciler(subscriptions, metrics, logger)

	logger.Info("maintenance dependencies wired",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"metrics", cfg.Observability.EnableMetrics,
	)

	return &Handler{
		StripeSyncer: scheduler.NewStripeSyncer(subscriptions, registry.Payments, reconciler, metrics, logger),
		Migrator: MigrationFunc(func(ctx context.Context) error {
			return db.Migrate(ctx, pool, logger)
		}),
		Logger: logger,
	}, pool.Close, nil
}
