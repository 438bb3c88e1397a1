package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"eval_harness/internal/cache"
	"eval_harness/internal/config"
	"eval_harness/internal/httpapi"
	"eval_harness/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation HTTP daemon",
	Long: `Start the HTTP daemon exposing POST /v1/eval, /healthz and /metrics.

The providers file is watched for changes and hot reloaded. Periodic
maintenance sweeps expire cache entries and idle session handles.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if providersFile != "" {
		cfg.ProvidersFile = providersFile
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadProviders(cfg.ProvidersFile); err != nil {
		return err
	}

	// Hot reload: a broken edit keeps the last good configuration.
	watcher, err := config.NewWatcher(cfg.ProvidersFile,
		func(pf *config.ProvidersFile) {
			if err := a.engine.SetProviders(pf); err != nil {
				a.logger.Error("Failed to apply reloaded providers", "error", err)
				return
			}
			a.logger.Info("Providers reloaded", "count", len(pf.Providers))
		},
		func(err error) {
			a.logger.Error("Providers reload failed", "error", err)
		},
	)
	if err != nil {
		return err
	}
	defer watcher.Close()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() { a.sweep(ctx) }); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	mux := httpapi.NewRouter(&httpapi.Dependencies{
		APIKeySHA256: cfg.APIKeySHA256,
		Engine:       a.engine,
		Registry:     a.registry,
		Metrics:      a.metrics,
		Logger:       a.logger,
		DB:           a.db,
		ResultWorker: a.worker,
	})

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // vendor calls can be slow
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		a.logger.Info("Evalharness listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server forced to shutdown", "error", err)
	}
	return nil
}

// sweep runs one maintenance pass: expired cache entries and idle sessions.
func (a *app) sweep(ctx context.Context) {
	if mem, ok := a.store.(*cache.MemoryStore); ok {
		if removed := mem.CleanupExpired(); removed > 0 {
			a.logger.Debug("Expired cache entries removed", "count", removed)
		}
	}
	if sq, ok := a.store.(*cache.SQLiteStore); ok {
		if removed, err := sq.CleanupExpired(ctx); err != nil {
			a.logger.Error("Cache cleanup failed", "error", err)
		} else if removed > 0 {
			a.logger.Debug("Expired cache entries removed", "count", removed)
		}
	}
	if a.sessions != nil && a.cfg.Sessions.IdleTTL > 0 {
		if n := a.sessions.SweepIdle(ctx, a.cfg.Sessions.IdleTTL); n > 0 {
			a.logger.Info("Idle sessions torn down", "count", n)
		}
		a.metrics.SetActiveSessions(a.sessions.Len())
	}
	if a.db != nil && a.cfg.Database.ResultRetention > 0 {
		cutoff := time.Now().Add(-a.cfg.Database.ResultRetention)
		if removed, err := storage.NewResultRepository(a.db).DeleteOlderThan(ctx, cutoff); err != nil {
			a.logger.Error("Result retention cleanup failed", "error", err)
		} else if removed > 0 {
			a.logger.Info("Old eval records removed", "count", removed)
		}
	}
}
