package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/api"
	"github.com/joshdurbin/strava-wrapped/internal/config"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/server"
	"github.com/joshdurbin/strava-wrapped/internal/workers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, MCP endpoint and background sync (default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Serve(cmd.Context(), cfg)
	},
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logging.Logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Serve is the main entry point: it runs the HTTP server, the workers and optionally MCP over
// stdio until a shutdown signal arrives.
func Serve(parent context.Context, cfg *config.Config) (err error) {
	log := logging.Logger

	log.Info().
		Str("db_path", cfg.DBPath).
		Str("addr", cfg.Server.Address).
		Bool("mcp_stdio", cfg.Server.MCPStdio).
		Bool("no_sync", cfg.NoSync).
		Str("cache", cfg.Cache.Backend).
		Dur("sync_interval", cfg.SyncInterval).
		Dur("token_refresh_interval", cfg.TokenRefreshInterval).
		Msg("starting strava-wrapped")

	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	// Check for database lock (another instance running)
	if err := db.CheckLock(a.sqlDB); err != nil {
		return err
	}

	workers.LogDatabaseStats(ctx, a.queries, time.Now())

	if cfg.NoSync {
		log.Info().Msg("running in offline mode (--no-sync), skipping Strava API sync")
	} else if cfg.Validate() != nil {
		if _, err := a.storage.LoadClientConfig(ctx); err != nil {
			log.Warn().Msg("no Strava credentials configured; set STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET or run 'strava-wrapped auth login'")
		}
	}

	// untyped nils keep the optional collaborators optional
	var (
		apiSyncer api.Syncer
		mcpSyncer server.Syncer
	)
	if a.syncer != nil {
		apiSyncer = a.syncer
		mcpSyncer = a.syncer
	}

	srv := server.New(a.reports, mcpSyncer)
	mcpHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return srv.MCPServer()
	}, nil)

	router := api.NewRouter(api.Deps{
		Reports:  a.reports,
		Syncer:   apiSyncer,
		Storage:  a.storage,
		Strava:   cfg.Strava,
		Metrics:  a.metrics,
		Gatherer: a.registry,
		MCP:      mcpHandler,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start background workers with errgroup for graceful shutdown
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, httpServer)
	})

	if a.syncer != nil {
		log.Info().Msg("starting background workers")

		tokenRefresher := workers.NewTokenRefresher(a.storage, cfg.TokenRefreshInterval, a.metrics)
		g.Go(func() error {
			tokenRefresher.Run(gCtx)
			return nil
		})

		activitySyncer := workers.NewActivitySyncer(a.syncer, a.reports, cfg.SyncInterval, a.metrics)
		g.Go(func() error {
			activitySyncer.Run(gCtx)
			return nil
		})
	}

	if cfg.Server.MCPStdio {
		g.Go(func() error {
			log.Info().Msg("MCP server running via stdio")
			if err := srv.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			// stdin closed; stop the rest with it
			cancel()
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("all workers shut down")
	return err
}

// runHTTPServer serves until ctx is done, then shuts the server down.
func runHTTPServer(ctx context.Context, httpServer *http.Server) error {
	log := logging.Logger

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", httpServer.Addr).
			Strs("routes", []string{"/healthz", "/auth", "/exchange_token", "/activities", "/wrapped", "/wrapped/image", "/metrics", "/mcp"}).
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Append(httpServer.Shutdown(shutdownCtx), <-errChan)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
