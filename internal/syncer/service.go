// Package syncer implements the background worker that feeds recipes from a
// recipe source into the enrollment engine.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/observability"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/targeting"
	"github.com/rafaeljc/nornir/internal/validation"
)

// Run outcomes reported on nornir_syncer_runs_total.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusSkipped = "skipped"
)

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between sync runs (polling).
	Interval time.Duration

	// RunTimeout bounds a single run.
	RunTimeout time.Duration
}

// Service orchestrates the synchronization process.
type Service struct {
	logger  *slog.Logger
	config  Config
	source  RecipeSource
	engine  *enrollment.Engine
	checker *Checker

	// mu serializes runs; fingerprint belongs to the last successful run.
	mu             sync.Mutex
	fingerprint    uint64
	hasFingerprint bool
}

// New creates a new Syncer service.
func New(l *slog.Logger, cfg Config, source RecipeSource, engine *enrollment.Engine, registry *features.Registry) *Service {
	validation.Require(source != nil, "syncer: recipe source cannot be nil")
	validation.AssertNotNil(engine, "syncer: enrollment engine")

	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Second // Safe default
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}

	l = logger.Component(l, "syncer")

	return &Service{
		logger:  l,
		config:  cfg,
		source:  source,
		engine:  engine,
		checker: NewChecker(l, registry),
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service",
		slog.String("interval", s.config.Interval.String()),
		slog.String("source", s.source.Name()),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if err := s.run(ctx, false); err != nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			if err := s.run(ctx, false); err != nil {
				// We log the error but don't stop the worker.
				// Retry on next tick.
				s.logger.Error("sync run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sync performs one run even if nothing changed since the last one.
func (s *Service) Sync(ctx context.Context) error {
	return s.run(ctx, true)
}

// run fetches the batch and feeds it to the engine. An unchanged batch for
// an unchanged client is skipped unless force is set. A run that fails or
// times out never finalizes, so no enrollment ends because of a partial batch.
func (s *Service) run(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx, s.logger)
	ctx = logger.With(ctx, slog.String("source", s.source.Name()), slog.Bool("forced", force))

	recipes, err := s.source.Fetch(ctx)
	if err != nil {
		observability.SyncerRunsTotal.WithLabelValues(statusFail).Inc()
		return fmt.Errorf("failed to fetch recipes from %s: %w", s.source.Name(), err)
	}

	fp, err := s.fingerprintOf(recipes)
	if err != nil {
		observability.SyncerRunsTotal.WithLabelValues(statusFail).Inc()
		return err
	}
	if !force && s.hasFingerprint && fp == s.fingerprint {
		observability.SyncerRunsTotal.WithLabelValues(statusSkipped).Inc()
		s.logger.Debug("recipes unchanged, skipping run", slog.Int("recipes", len(recipes)))
		return nil
	}

	observability.SyncerRecipes.Set(float64(len(recipes)))

	seen := make([]string, 0, len(recipes))
	failed := 0

	for _, r := range recipes {
		if err := ctx.Err(); err != nil {
			observability.SyncerRunsTotal.WithLabelValues(statusFail).Inc()
			return fmt.Errorf("sync run aborted: %w", err)
		}

		seen = append(seen, r.Slug)
		if err := s.process(ctx, r); err != nil {
			s.logger.Warn("failed to process recipe",
				slog.String("slug", r.Slug),
				slog.String("error", err.Error()),
			)
			failed++
		}
	}

	s.engine.Finalize(ctx, s.source.Name(), seen)

	// The client changed during the run; fingerprint the state the next run
	// will compare against.
	if fp, err = s.fingerprintOf(recipes); err == nil {
		s.fingerprint = fp
		s.hasFingerprint = true
	}

	duration := time.Since(start)
	observability.SyncerRunDuration.Observe(duration.Seconds())
	observability.SyncerRunsTotal.WithLabelValues(statusSuccess).Inc()

	s.logger.Info("sync run completed",
		slog.Int("recipes", len(recipes)),
		slog.Int("errors", failed),
		slog.String("duration", duration.String()),
	)
	return nil
}

// process checks one recipe and hands it to the engine.
func (s *Service) process(ctx context.Context, r *recipe.Recipe) error {
	start := time.Now()
	defer func() {
		observability.RecipeProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	result := s.checker.Check(r, s.engine.TargetingContext())
	return s.engine.OnRecipe(ctx, r, s.source.Name(), result)
}

// fingerprintState is everything a run's decisions depend on.
type fingerprintState struct {
	Recipes        []*recipe.Recipe  `json:"recipes"`
	Client         targeting.Context `json:"client"`
	StudiesEnabled bool              `json:"studiesEnabled"`
}

// fingerprintOf hashes the batch together with the client state with
// murmur3.
func (s *Service) fingerprintOf(recipes []*recipe.Recipe) (uint64, error) {
	data, err := json.Marshal(fingerprintState{
		Recipes:        recipes,
		Client:         s.engine.TargetingContext(),
		StudiesEnabled: s.engine.StudiesEnabled(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fingerprint recipes: %w", err)
	}
	return murmur3.Sum64(data), nil
}
