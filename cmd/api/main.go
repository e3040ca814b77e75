// Package main is the entry point for the StoryMagic billing API.
//
// It loads configuration, opens the database pool, wires the billing
// components into the HTTP chassis and then serves either as a plain HTTP
// server (local, containers) or as a Lambda function behind a Function URL
// or API Gateway HTTP API.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"storymagic/internal/api/handlers"
	"storymagic/internal/auth"
	"storymagic/internal/billing"
	"storymagic/internal/config"
	"storymagic/internal/core"
	"storymagic/internal/db"
	"storymagic/internal/external"
	"storymagic/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// SSM resolution is skipped when APP_ENV=local, so the provider is never
	// contacted during local development.
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("storymagic billing API starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"port", cfg.Server.Port,
		"test_mode", cfg.IsTestMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	deps := dependencies{DB: pool, Pinger: pool}
	if cfg.Observability.EnableMetrics {
		cw, err := newCloudWatchClient(ctx, cfg.AWS)
		if err != nil {
			pool.Close()
			return fmt.Errorf("creating CloudWatch client: %w", err)
		}
		deps.CloudWatch = cw
	}

	srv, err := buildServer(cfg, deps, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("building server: %w", err)
	}
	srv.Closers = append(srv.Closers, pool.Close)

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// dependencies are the process-level resources buildServer wires in. Tests
// substitute fakes.
type dependencies struct {
	DB         db.DBTX
	Pinger     db.Pinger
	CloudWatch telemetry.CloudWatchClient
}

// buildServer assembles the billing components and mounts every route.
func buildServer(cfg *config.Config, deps dependencies, logger *slog.Logger) (*core.Server, error) {
	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating client registry: %w", err)
	}

	var metrics telemetry.Metrics = telemetry.NopMetrics{}
	if cfg.Observability.EnableMetrics && deps.CloudWatch != nil {
		metrics = telemetry.NewCloudWatchMetrics(deps.CloudWatch, cfg.Observability.MetricNamespace, logger)
	}

	customers := db.NewCustomerRepo(deps.DB, logger)
	subscriptions := db.NewSubscriptionRepo(deps.DB, logger, db.WithOrderingGuard(cfg.Billing.OrderingGuard))
	plans := billing.NewStaticPlanCatalog(cfg.Billing.PriceStarter, cfg.Billing.PriceFamily)

	reconciler := billing.NewReconciler(subscriptions, metrics, logger)
	checkout := billing.NewCheckoutHandler(registry.Payments, customers, reconciler, logger)
	dispatcher := billing.NewDispatcher(checkout, reconciler, logger)
	service := billing.NewService(billing.ServiceDeps{
		Provider:      registry.Payments,
		Customers:     customers,
		Subscriptions: subscriptions,
		Plans:         plans,
		AppURL:        cfg.Server.AppURL,
		Logger:        logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = metrics
	srv.Authenticator = auth.NewJWTAuthenticator(cfg.Auth, logger)
	if deps.Pinger != nil {
		srv.HealthProbes = append(srv.HealthProbes, db.NewPoolProbe(deps.Pinger))
	}

	webhookHandler := handlers.NewStripeWebhookHandler(
		registry.WebhookVerifier,
		dispatcher,
		metrics,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	billingHandler := handlers.NewBillingHandler(service, srv.Validator, srv.RequireUser, logger)

	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, billingHandler.RegisterRoutes)
	srv.MountRoutes()

	logger.Info("billing routes mounted",
		"plans", len(plans.Plans()),
		"ordering_guard", cfg.Billing.OrderingGuard,
		"metrics", cfg.Observability.EnableMetrics,
	)
	return srv, nil
}

func newCloudWatchClient(ctx context.Context, cfg config.AWSConfig) (*cloudwatch.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config (region=%s): %w", cfg.Region, err)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	}), nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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
