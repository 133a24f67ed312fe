package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tabimport/internal/application"
	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/JonMunkholm/tabimport/internal/watch"
	"github.com/JonMunkholm/tabimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver(),
		"import_sync", cfg.Import.Sync,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Async runs and the watcher live until shutdown
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	app, err := application.Open(jobCtx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to open import stack", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	for _, m := range app.Service.Models() {
		slog.Debug("model registered", "key", m.Key, "fields", len(m.Fields))
	}

	server := web.NewServer(app.Service, app.Store, cfg)

	if dir := cfg.Import.WatchDir; dir != "" {
		w, err := watch.New(dir, app.Service, watch.WithLogger(slog.Default()))
		if err != nil {
			slog.Error("failed to start watcher", "dir", dir, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := w.Run(jobCtx); err != nil {
				slog.Error("watcher stopped", "error", err)
			}
		}()
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting uploads before draining runs
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := app.Service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := app.Service.Wait(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else if status.Active > 0 {
			slog.Info("all imports completed")
		}

		cancelJobs()
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		return
	}
	<-done
	slog.Info("server stopped")
}
