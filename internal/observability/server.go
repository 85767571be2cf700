// Package observability serves probes and Prometheus metrics on a listener
// separate from the control API, and declares the metrics themselves.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rafaeljc/nornir/internal/config"
)

// Server is the observability listener.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	checkers []Checker
	handler  http.Handler
	srv      *http.Server
}

// NewServer wires the liveness, readiness and metrics routes. Every checker
// takes part in readiness.
func NewServer(logger *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		checkers: checkers,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, middleware.NoCache)
	r.Get(cfg.LivenessPath, s.handleLiveness)
	r.Get(cfg.ReadinessPath, s.handleReadiness)
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	s.handler = r

	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens in the background. Listener errors are logged.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:         net.JoinHostPort("", s.cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  3 * s.cfg.Timeout,
	}

	s.logger.Info("observability server listening",
		slog.String("addr", s.srv.Addr),
		slog.String("metrics_path", s.cfg.MetricsPath),
		slog.Int("checkers", len(s.checkers)),
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server stopped", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown drains the listener. It is a no-op before Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping observability server")
	return s.srv.Shutdown(ctx)
}
