package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rafaeljc/nornir/internal/cache"
	"github.com/rafaeljc/nornir/internal/config"
	"github.com/rafaeljc/nornir/internal/controlapi"
	"github.com/rafaeljc/nornir/internal/database"
	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/observability"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/store"
	"github.com/rafaeljc/nornir/internal/syncer"
	"github.com/rafaeljc/nornir/internal/telemetry"
)

// badgerDiscardRatio is the value log GC threshold.
const badgerDiscardRatio = 0.5

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enrollment engine, recipe syncer and control API",
		Long: `Runs the enrollment engine as a long lived service.

Configuration is read from NORNIR_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// serve is the composition root. It wires storage, preferences, the engine,
// the syncer and both HTTP servers, then blocks until a shutdown signal.
func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting nornir",
		slog.String("engine_id", cfg.Engine.ID),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("prefs_driver", cfg.Prefs.Driver),
	)

	registry := features.NewRegistry()
	if err := registry.LoadFile(cfg.Engine.FeaturesPath); err != nil {
		return fmt.Errorf("failed to load feature manifest: %w", err)
	}
	log.Info("feature manifest loaded", slog.Int("features", len(registry.IDs())))

	var checkers []observability.Checker

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	db, closeDB, dbChecker, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()
	if dbChecker != nil {
		checkers = append(checkers, dbChecker)
	}

	prefStore, closePrefs, prefsChecker, err := openPrefs(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePrefs()
	if prefsChecker != nil {
		checkers = append(checkers, prefsChecker)
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	clientID := cfg.Engine.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
		log.Warn("no client id configured, generated one for this process; branch assignments will not survive a restart",
			slog.String("client_id", clientID))
	}

	engine := enrollment.New(enrollment.Options{
		ID: cfg.Engine.ID,
		Client: enrollment.Client{
			UserID:     clientID,
			GroupID:    cfg.Engine.GroupID,
			Attributes: cfg.Engine.Attributes,
		},
		Store:          store.New(db),
		Prefs:          prefStore,
		Features:       registry,
		Recorder:       telemetry.NewRecorder(log),
		Logger:         log,
		StudiesEnabled: cfg.Engine.StudiesEnabled,
	})

	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to restore enrollments: %w", err)
	}
	defer engine.Teardown()

	var sync *syncer.Service
	if cfg.Syncer.Enabled {
		source := syncer.NewDirSource(cfg.Syncer.SourceName, cfg.Syncer.RecipesPath)
		sync = syncer.New(log, syncer.Config{
			Interval:   cfg.Syncer.Interval,
			RunTimeout: cfg.Syncer.RunTimeout,
		}, source, engine, registry)

		go func() {
			if err := sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("syncer stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		log.Warn("recipe syncer disabled")
	}

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	api := newControlAPI(log, cfg, engine, sync)
	srv := &http.Server{
		Addr:              cfg.Server.Control.Addr(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("control api listening",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", cfg.Server.Control.TLSEnabled),
		)

		var err error
		if cfg.Server.Control.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.Control.TLSCert, cfg.Server.Control.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control api failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("control api shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("nornir exited")
	return runErr
}

func newControlAPI(log *slog.Logger, cfg *config.Config, engine *enrollment.Engine, sync *syncer.Service) *controlapi.API {
	// A nil *syncer.Service must not become a non-nil interface.
	var s controlapi.Syncer
	if sync != nil {
		s = sync
	}

	control := cfg.Server.Control
	if control.AuthDisabled {
		log.Warn("control api authentication disabled")
	}
	return controlapi.NewAPIWithConfig(log, engine, s, control.APIKeyHash, control.AuthDisabled)
}

// openDatabase opens the enrollment database selected by the storage driver.
// The memory driver returns a nil Database.
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Database, func(), observability.Checker, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		go database.RunPoolMonitor(ctx, pool, cfg.Database.MonitorInterval)
		return store.NewPostgresDatabase(pool), pool.Close, database.NewHealthChecker(pool), nil

	case config.StorageDriverBadger:
		bdb, err := database.OpenBadger(database.BadgerOptions{
			Path:       cfg.Storage.BadgerPath,
			InMemory:   cfg.Storage.BadgerInMemory,
			SyncWrites: true,
			Logger:     logger.Component(log, "badger"),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open badger: %w", err)
		}
		go database.RunBadgerGC(ctx, bdb, cfg.Storage.BadgerGCInterval, badgerDiscardRatio, log)
		closeFn := func() {
			if err := bdb.Close(); err != nil {
				log.Error("failed to close badger", slog.String("error", err.Error()))
			}
		}
		return store.NewBadgerDatabase(bdb), closeFn, database.NewBadgerHealthChecker(bdb), nil

	default:
		log.Warn("enrollments are kept in memory only")
		return nil, func() {}, nil, nil
	}
}

// openPrefs opens the preference store selected by the prefs driver.
func openPrefs(ctx context.Context, cfg *config.Config, log *slog.Logger) (prefs.Store, func(), observability.Checker, error) {
	if cfg.Prefs.Driver != config.PrefsDriverRedis {
		return prefs.NewMemoryStore(), func() {}, nil, nil
	}

	client, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l1, err := prefs.NewL1Cache(cfg.Prefs.L1Capacity, cfg.Prefs.L1TTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to create l1 cache: %w", err)
	}
	go l1.RunMetricsCollector(ctx, cfg.Prefs.MetricsInterval)

	redisCache := cache.NewRedisCache(client)
	rs := prefs.NewRedisStore(logger.Component(log, "prefs"), redisCache, l1)
	go func() {
		if err := rs.Run(ctx); err != nil {
			log.Error("pref change listener failed", slog.String("error", err.Error()))
		}
	}()

	closeFn := func() {
		l1.Close()
		if err := redisCache.Close(); err != nil {
			log.Error("failed to close redis", slog.String("error", err.Error()))
		}
	}
	return rs, closeFn, cache.NewHealthChecker(client), nil
}
