package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/app"
	"github.com/JonMunkholm/dailydrop/internal/config"
	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/JonMunkholm/dailydrop/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	nApps := flag.Int("n-apps", 0, "synthetic applications to generate first (0 reads existing files)")
	seed := flag.Int64("seed", 42, "seed for synthetic generation")
	runDate := flag.String("run-date", time.Now().Format(core.RunDateLayout), "run date (YYYY-MM-DD)")
	gate := flag.String("gate", cfg.Pipeline.GateMode, "quality gate: strict, permissive or audit-only")
	flag.StringVar(&cfg.Pipeline.RulesPath, "rules", cfg.Pipeline.RulesPath, "data quality rule document")
	flag.StringVar(&cfg.Pipeline.DimensionsPath, "dimensions", cfg.Pipeline.DimensionsPath, "dimension document")
	flag.StringVar(&cfg.Pipeline.DataDir, "data-dir", cfg.Pipeline.DataDir, "directory holding one folder per run date")
	resume := flag.String("resume", "", "batch id of a failed run to resume")
	cleanup := flag.String("cleanup-batch", "", "batch id whose staged rows are removed")
	flag.Parse()

	closer := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		MaxBackups: cfg.Logging.FileMaxBackups,
		MaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	defer closer.Close()

	mode, err := core.ParseGateMode(*gate)
	if err != nil {
		slog.Error("invalid arguments", "error", err)
		return 1
	}
	if *nApps < 0 {
		slog.Error("invalid arguments", "error", "n-apps must not be negative")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err, "hint", core.FormatUserError(err))
		return 1
	}
	defer a.Close()

	if *cleanup != "" {
		return cleanupBatch(ctx, a.Service, *cleanup)
	}

	ctx, cancel := context.WithTimeout(core.ContextWithTrigger(ctx, core.TriggerCLI), core.RunTimeout)
	defer cancel()

	result, err := a.Service.Run(ctx, core.RunOptions{
		RunDate:       *runDate,
		Generate:      *nApps > 0,
		NApps:         *nApps,
		Seed:          *seed,
		GateMode:      &mode,
		ResumeBatchID: *resume,
	})
	if err != nil {
		slog.Error("run failed", "run_date", *runDate, "error", err, "hint", core.FormatUserError(err))
	}
	if result != nil {
		summarize(result)
	}
	return result.ExitCode()
}

func cleanupBatch(ctx context.Context, svc *core.Service, batchID string) int {
	res, err := svc.CleanupBatch(ctx, batchID)
	if err != nil {
		slog.Error("cleanup failed", "batch_id", batchID, "error", err, "hint", core.FormatUserError(err))
		return 1
	}
	for table, n := range res.RowsDeleted {
		slog.Info("staged rows removed", "table", table, "rows", n)
	}
	slog.Info("cleanup complete", "batch_id", batchID, "recleaned", len(res.Recleaned))
	return 0
}

func summarize(r *core.RunResult) {
	for _, table := range core.Keys() {
		staged, ok := r.Staged[table]
		if !ok {
			continue
		}
		cleaned := r.Cleaned[table]
		slog.Info("table loaded",
			"table", table,
			"excluded", r.Excluded[table],
			"staged", staged.RowsWritten,
			"clean", cleaned.RecordsWritten,
			"rejected", cleaned.Rejected,
		)
	}
	for table, conflict := range r.Conflicts {
		slog.Warn("table not staged", "table", table, "conflict", conflict)
	}
	for _, w := range r.Warnings {
		slog.Warn("run warning", "warning", w)
	}
	slog.Info("run finished",
		"batch_id", r.BatchID,
		"run_date", r.RunDate,
		"gate_mode", r.GateMode,
		"status", r.Status,
		"duration", r.Duration.Round(time.Millisecond),
	)
}
