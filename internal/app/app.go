// Package app wires the pipeline service from configuration. Both the CLI
// and the HTTP server build their Service here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/dailydrop/internal/config"
	"github.com/JonMunkholm/dailydrop/internal/core"
	_ "github.com/JonMunkholm/dailydrop/internal/core/tables" // Register all tables
	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/JonMunkholm/dailydrop/internal/generate"
	"github.com/JonMunkholm/dailydrop/internal/metrics"
	"github.com/JonMunkholm/dailydrop/internal/notify"
	"github.com/JonMunkholm/dailydrop/internal/reportsink"
	"github.com/JonMunkholm/dailydrop/internal/runlock"
)

// App holds the wired service and everything that must be closed with it.
type App struct {
	Config     *config.Config
	DB         *database.DB
	Service    *core.Service
	Metrics    *metrics.Prometheus
	Dimensions core.Dimensions

	closers []io.Closer
}

// Build opens the database, loads the rule and dimension documents and wires
// the report sink, run lock, event publisher and metrics into a Service.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db)
	slog.Info("connected to database", "driver", db.Dialect().Name())

	rules, dims, err := loadDocuments(cfg.Pipeline.RulesPath, cfg.Pipeline.DimensionsPath)
	if err != nil {
		return nil, err
	}
	a.Dimensions = dims

	gate, err := core.ParseGateMode(cfg.Pipeline.GateMode)
	if err != nil {
		return nil, err
	}

	sink, err := a.reportSink(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.publisher()
	if err != nil {
		return nil, err
	}

	if cfg.Pipeline.RunTimeout > 0 {
		core.RunTimeout = cfg.Pipeline.RunTimeout
	}

	svc, err := core.NewService(ctx, db, core.ServiceOptions{
		Rules:     rules,
		GateMode:  gate,
		DataDir:   cfg.Pipeline.DataDir,
		Workers:   cfg.Pipeline.Workers,
		Reports:   sink,
		Locker:    locker,
		Publisher: publisher,
		Recorder:  a.Metrics,
		Generator: generate.New(dims),
		Limiter:   core.NewRunLimiter(cfg.Pipeline.MaxConcurrentRuns, cfg.Pipeline.MaxWaitTime),
	})
	if err != nil {
		return nil, err
	}
	a.Service = svc

	slog.Info("tables registered", "count", core.TableCount(), "tables", strings.Join(core.Keys(), ","))
	ok = true
	return a, nil
}

// loadDocuments reads the rule catalogue and seeds its enum rules from the
// dimension document.
func loadDocuments(rulesPath, dimensionsPath string) (core.RuleCatalogue, core.Dimensions, error) {
	rules, err := core.LoadRules(rulesPath)
	if err != nil {
		return core.RuleCatalogue{}, core.Dimensions{}, err
	}

	dimCfg, err := core.LoadDimensions(dimensionsPath)
	if err != nil {
		return core.RuleCatalogue{}, core.Dimensions{}, err
	}
	rules, err = dimCfg.SeedEnums(rules)
	if err != nil {
		return core.RuleCatalogue{}, core.Dimensions{}, err
	}
	return rules, dimCfg.Dimensions, nil
}

func (a *App) reportSink(ctx context.Context) (reportsink.Sink, error) {
	rc := a.Config.Reports
	file, err := reportsink.NewFile(rc.Dir)
	if err != nil {
		return nil, err
	}
	if rc.S3Endpoint == "" {
		return file, nil
	}

	store, err := reportsink.NewMinIO(ctx, reportsink.MinIOOptions{
		Endpoint:  rc.S3Endpoint,
		Bucket:    rc.S3Bucket,
		AccessKey: rc.S3AccessKey,
		SecretKey: rc.S3SecretKey,
		UseSSL:    rc.S3UseSSL,
		Prefix:    rc.S3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("report object store: %w", err)
	}
	slog.Info("reports mirrored to object store", "endpoint", rc.S3Endpoint, "bucket", rc.S3Bucket)
	return reportsink.Multi{file, store}, nil
}

func (a *App) locker(ctx context.Context) (runlock.Locker, error) {
	lc := a.Config.Lock
	switch lc.Backend {
	case "", "local":
		return runlock.NewLocal(lc.TTL), nil
	case "redis":
		r, err := runlock.NewRedis(ctx, runlock.RedisOptions{
			Addr:     lc.RedisAddr,
			Password: lc.RedisPassword,
			DB:       lc.RedisDB,
			TTL:      lc.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		a.closers = append(a.closers, r)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", lc.Backend)
	}
}

func (a *App) publisher() (notify.Publisher, error) {
	nc := a.Config.Notify
	if len(nc.KafkaBrokers) == 0 {
		return notify.NewLog(slog.Default()), nil
	}
	k, err := notify.NewKafka(nc.KafkaBrokers, nc.KafkaTopic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, k)
	return k, nil
}

// Close releases the database, lock client and event writer.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
