// Package controlapi implements the REST API used to inspect and steer the
// enrollment engine: enrollments, opt-in recipes, feature values, the
// targeting context and the studies switch.
package controlapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/validation"
)

// Syncer triggers an immediate recipe sync.
type Syncer interface {
	Sync(ctx context.Context) error
}

// API serves the control endpoints. Router is ready to mount on an http.Server.
type API struct {
	Router *chi.Mux

	engine *enrollment.Engine
	// syncer may be nil; POST /api/v1/sync then answers 501.
	syncer Syncer
	logger *slog.Logger

	// apiKeyHash is the hex SHA-256 of the accepted bearer token.
	apiKeyHash string
	skipAuth   bool
}

// NewAPI builds an API that requires a bearer token hashing to apiKeyHash.
func NewAPI(logger *slog.Logger, engine *enrollment.Engine, syncer Syncer, apiKeyHash string) *API {
	return NewAPIWithConfig(logger, engine, syncer, apiKeyHash, false)
}

// NewAPIWithConfig is NewAPI with authentication optional. It panics on a
// nil engine or on an empty hash while authentication is on.
func NewAPIWithConfig(logger *slog.Logger, engine *enrollment.Engine, syncer Syncer, apiKeyHash string, skipAuth bool) *API {
	validation.AssertNotNil(engine, "controlapi: enrollment engine")
	validation.Require(skipAuth || apiKeyHash != "", "controlapi: apiKeyHash cannot be empty when authentication is enabled")
	if logger == nil {
		logger = slog.Default()
	}

	a := &API{
		Router:     chi.NewRouter(),
		engine:     engine,
		syncer:     syncer,
		logger:     logger,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.Router
	r.Use(
		middleware.RealIP,
		RequestLogger(a.logger),
		Metrics,
		middleware.Recoverer,
		render.SetContentType(render.ContentTypeJSON),
	)

	r.Get("/health", a.handleHealthCheck)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(a.authenticateAPIKey)

		v1.Get("/enrollments", a.handleListEnrollments)
		v1.Get("/enrollments/{slug}", a.handleGetEnrollment)
		v1.Delete("/enrollments/{slug}", a.handleUnenroll)

		v1.Get("/optin", a.handleListOptIns)
		v1.Post("/optin/{slug}", a.handleOptIn)

		v1.Get("/features/{id}", a.handleGetFeature)
		v1.Get("/targeting", a.handleGetTargeting)
		v1.Put("/studies", a.handleSetStudies)
		v1.Post("/sync", a.handleSync)
	})
}

// handleHealthCheck only proves the listener is up; dependency readiness is
// served by the observability listener.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
