// Package core provides the HTTP chassis for the StoryMagic billing API.
// It builds a chi router served directly over HTTP (local, container) or
// through the Lambda adapter in cmd/api, and enforces the cross-cutting
// concerns (CORS, logging, metrics, auth, error shape) before requests
// reach the billing handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"storymagic/internal/config"
)

// MetricsCollector records API telemetry. telemetry.CloudWatchMetrics is the
// production implementation.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler's routes onto a router group.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by every route.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// PublicRouteRegistrars are mounted at the root without authentication.
	// The Stripe webhook lives here; it authenticates by signature.
	PublicRouteRegistrars []RouteRegistrar

	// V1RouteRegistrars are mounted under /v1 behind AuthMiddleware.
	V1RouteRegistrars []RouteRegistrar

	// Closers are released in order by Shutdown.
	Closers []func()

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// Callers append registrars and then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests that register ad-hoc routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	done := make(chan struct{})
	go func() {
		for _, c := range s.Closers {
			c()
		}
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info("server shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}
