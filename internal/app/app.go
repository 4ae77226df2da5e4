// Package app assembles the lending service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"
	"coopcredit/internal/httpx"
	"coopcredit/internal/lending"
	"coopcredit/internal/membership"
	"coopcredit/internal/scoring"
	"coopcredit/internal/settings"
	"coopcredit/internal/store/memory"
	"coopcredit/internal/store/postgres"
	"coopcredit/internal/store/redisstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(context.Context) error

// App is a fully wired lending service.
type App struct {
	Router     http.Handler
	Lending    lending.Service
	Membership membership.Service
	Settings   *settings.Store

	checks  map[string]Check
	closers []func() error
	logger  *zap.Logger
}

// Build wires repositories, the event store, the optional statistics cache
// and both services according to cfg.
func Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	a := &App{checks: make(map[string]Check), logger: logger}

	initial, err := cfg.Lending.Settings()
	if err != nil {
		return nil, err
	}
	a.Settings = settings.NewStore(initial, logger)

	repo, events, err := a.openStorage(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine := scoring.NewEngine(repo, logger)
	svc := lending.NewService(repo, a.Settings, engine, lending.WithLogger(logger))
	svc = lending.NewAuditedService(svc, events, logger)

	var cached *lending.CachingService
	if cfg.Redis.Enabled {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		cached = lending.NewCachingService(svc, redisstore.NewStatisticsCache(client, cfg.Redis.StatsTTL), logger)
		svc = cached
	}
	a.Lending = svc

	invalidate := func(ctx context.Context) {
		if cached != nil {
			cached.InvalidateStatistics(ctx)
		}
	}
	a.Settings.OnChange(func(ctx context.Context, _ domain.Settings) { invalidate(ctx) })

	a.Membership = membership.NewService(repo, engine,
		membership.WithEventStore(events),
		membership.WithLogger(logger),
		membership.WithChangeHook(invalidate),
	)

	a.Router = a.routes(events)
	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.StorageConfig) (domain.Repository, eventstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)

		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		events := eventstore.NewPostgresStore(db)
		if err := events.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		a.checks["postgres"] = store.Ping
		a.logger.Info("using postgres storage")
		return store, events, nil

	default:
		if cfg.SnapshotPath == "" {
			a.logger.Info("using in-memory storage without persistence")
			return memory.New(), eventstore.NewMemoryStore(), nil
		}
		store, err := memory.Open(cfg.SnapshotPath, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		a.closers = append(a.closers, store.Flush)
		a.logger.Info("using in-memory storage", zap.String("snapshot", cfg.SnapshotPath))
		return store, eventstore.NewMemoryStore(), nil
	}
}

func (a *App) routes(events eventstore.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(a.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)

	lending.NewHandler(a.Lending, events).Register(r)
	membership.NewHandler(a.Membership).Register(r)
	settings.NewHandler(a.Settings).Register(r)
	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			a.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			httpx.WriteError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Close releases connections and flushes the snapshot, in reverse order of
// acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
