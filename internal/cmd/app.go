package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/cache"
	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/joshdurbin/strava-wrapped/internal/render"
	"github.com/joshdurbin/strava-wrapped/internal/report"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// app holds the collaborators every command builds from the same config.
type app struct {
	cfg      *config.Config
	sqlDB    *sql.DB
	queries  *db.Queries
	storage  *auth.Storage
	cache    cache.Cache
	registry *prometheus.Registry
	metrics  *metrics.Manager
	syncer   *syncsvc.Service
	reports  *report.Service
}

// openApp opens the database, seeds tokens from the environment and builds the report stack.
// The sync service is nil when cfg.NoSync is set.
func openApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	log := logging.Logger

	log.Info().Str("path", cfg.DBPath).Msg("opening database")
	sqlDB, err := db.OpenAndMigrate(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, sqlDB: sqlDB, queries: db.New(sqlDB), cache: cache.Noop{}}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	a.storage = auth.NewStorage(a.queries, auth.WithRedirectURI(cfg.Strava.RedirectURI))
	if _, err := a.storage.SeedFromEnv(ctx, cfg.Strava); err != nil {
		return nil, err
	}

	a.registry = metrics.SetupPrometheus()
	a.metrics = metrics.NewManager(metrics.Namespace, metrics.Subsystem, a.registry)

	a.cache, err = cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", cfg.Cache.Backend, err)
	}

	layout, err := render.LoadLayout(cfg.Render.LayoutPath)
	if err != nil {
		return nil, err
	}
	renderer, err := render.NewRenderer(layout, cfg.Render.OutputDir)
	if err != nil {
		return nil, err
	}

	engine, err := wrapped.NewEngine()
	if err != nil {
		return nil, err
	}

	// offline mode still reads stored activities through the service
	svc := syncsvc.NewService(a.queries, a.storage, syncsvc.WithRetryConfig(strava.DefaultRetryConfig()))
	if !cfg.NoSync {
		a.syncer = svc
	}

	a.reports = report.NewService(svc, engine,
		report.WithCache(a.cache, cfg.Cache.TTL),
		report.WithMetrics(a.metrics),
		report.WithRenderer(renderer),
	)

	log.Debug().
		Str("cache", cfg.Cache.Backend).
		Strs("templates", layout.Names()).
		Bool("no_sync", cfg.NoSync).
		Msg("report stack ready")
	return a, nil
}

// Close releases the cache and the database.
func (a *app) Close() error {
	var err error
	if a.cache != nil {
		err = multierr.Append(err, a.cache.Close())
	}
	if a.sqlDB != nil {
		err = multierr.Append(err, a.sqlDB.Close())
	}
	return err
}
