package core

// scheduler.go triggers the daily run from a cron expression.
//
// The expression has a seconds field ("0 30 2 * * *" is 02:30:00 every day).
// Each firing starts a run for the current local date through StartRun, so
// scheduled runs share the limiter and the per-date running check with API
// triggers. A firing that finds a run in progress is logged and dropped.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is 02:30 every day.
const DefaultSchedule = "0 30 2 * * *"

// ScheduleConfig configures scheduled runs.
type ScheduleConfig struct {
	Spec     string // cron expression with seconds (default: DefaultSchedule)
	Generate bool   // generate synthetic data before each run
	NApps    int
	Seed     int64
}

// StartScheduler registers the daily job and starts the cron runner. The
// runner stops when ctx is cancelled; the returned Cron can also be stopped
// directly.
func (s *Service) StartScheduler(ctx context.Context, cfg ScheduleConfig) (*cron.Cron, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSchedule
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(cfg.Spec, func() {
		s.runScheduled(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Spec, err)
	}

	c.Start()
	slog.Info("run scheduler started", "schedule", cfg.Spec, "generate", cfg.Generate)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("run scheduler stopped")
	}()
	return c, nil
}

// runScheduled starts the run for today.
func (s *Service) runScheduled(ctx context.Context, cfg ScheduleConfig) {
	runDate := s.now().Format(RunDateLayout)
	opts := RunOptions{
		RunDate:  runDate,
		Generate: cfg.Generate && cfg.NApps > 0,
		NApps:    cfg.NApps,
		Seed:     cfg.Seed,
	}

	batchID, err := s.StartRun(ContextWithTrigger(ctx, TriggerSchedule), opts)
	switch {
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrTooManyRuns):
		slog.Warn("scheduled run skipped", "run_date", runDate, "reason", err)
	case err != nil:
		slog.Error("scheduled run not started", "run_date", runDate, "error", err)
	default:
		slog.Info("scheduled run started", "run_date", runDate, "batch_id", batchID)
	}
}

// NextScheduledRun returns the next firing time of spec after t.
func NextScheduledRun(spec string, t time.Time) (time.Time, error) {
	sched, err := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	).Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched.Next(t), nil
}
