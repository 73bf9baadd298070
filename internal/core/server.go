// Package core provides the HTTP chassis for the Steward webhook service.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, logging, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"steward/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch
// or equivalent backends.
type MetricsCollector interface {
	// RecordRequest records request metrics including latency and count.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar registers a group of domain routes on the router. Handler
// packages expose registrars so the entry point can mount them without core
// importing handler packages (which would create an import cycle).
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the webhook API, allowing for easy
// injection during testing and distinct configuration per environment.
type Server struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics MetricsCollector

	// HealthProbes are checked by GET /health. Populated by the entry point
	// with probes for the configured backends (database, redis).
	HealthProbes []HealthProbe

	// RouteRegistrars are mounted under the router root by MountRoutes.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux

	// closers are shut down in order during Shutdown (connection pools,
	// clients). Registered by the entry point.
	closers []func() error
}

// NewServer initializes the chassis and prepares the server for route
// mounting. The caller is responsible for populating RouteRegistrars and
// HealthProbes, then calling MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterCloser adds a resource teardown function executed during Shutdown.
func (s *Server) RegisterCloser(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs a graceful termination of server resources: it closes
// registered resources (database pools, redis clients) in registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("closing server resources: %w", firstErr)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
