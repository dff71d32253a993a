package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/dailydrop/internal/app"
	"github.com/JonMunkholm/dailydrop/internal/config"
	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/JonMunkholm/dailydrop/internal/logging"
	"github.com/JonMunkholm/dailydrop/internal/web"
)

func main() {
	// Load .env file if it exists (overwrites existing env vars)
	if err := config.LoadEnvFiles(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	closer := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		MaxBackups: cfg.Logging.FileMaxBackups,
		MaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	defer closer.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"gate_mode", cfg.Pipeline.GateMode,
		"max_concurrent_runs", cfg.Pipeline.MaxConcurrentRuns,
		"schedule_enabled", cfg.Schedule.Enabled,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := web.NewServer(a.Service, cfg, a.Metrics.Handler())

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Schedule.Enabled {
		if _, err := a.Service.StartScheduler(jobCtx, core.ScheduleConfig{
			Spec:     cfg.Schedule.Cron,
			Generate: cfg.Schedule.Generate,
			NApps:    cfg.Schedule.NApps,
			Seed:     cfg.Schedule.Seed,
		}); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for background runs to finish (with timeout)
		if status := a.Service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
			if err := a.Service.Wait(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time", "error", err)
			} else {
				slog.Info("all runs completed")
			}
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		return
	}
	<-done
}
