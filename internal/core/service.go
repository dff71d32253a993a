package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/JonMunkholm/dailydrop/internal/logging"
	"github.com/JonMunkholm/dailydrop/internal/notify"
	"github.com/JonMunkholm/dailydrop/internal/reportsink"
	"github.com/JonMunkholm/dailydrop/internal/runlock"
	"github.com/google/uuid"
)

// RunTimeout is the maximum duration of a run started with StartRun.
var RunTimeout = 30 * time.Minute

// Recorder receives pipeline measurements. metrics.Prometheus implements it.
type Recorder interface {
	ObserveQuality(table string, checked, failed int)
	ObserveStaging(table string, rows, columnsAdded int)
	ObserveCleaning(table string, written, collapsed, rejected int)
	ObserveRun(status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveQuality(string, int, int)       {}
func (nopRecorder) ObserveStaging(string, int, int)       {}
func (nopRecorder) ObserveCleaning(string, int, int, int) {}
func (nopRecorder) ObserveRun(string, time.Duration)      {}

// DataGenerator writes a run date's source files. generate.Generator implements it.
type DataGenerator interface {
	Generate(ctx context.Context, dataDir string, runDate time.Time, nApps int, seed int64) (map[string]int, error)
}

// ReportReader is implemented by sinks that can return stored reports.
type ReportReader interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// ServiceOptions carries the collaborators of a Service. Only Rules is
// required; nil collaborators fall back to in-process defaults.
type ServiceOptions struct {
	Rules     RuleCatalogue
	GateMode  GateMode
	DataDir   string
	Workers   int
	Reports   reportsink.Sink
	Locker    runlock.Locker
	Publisher notify.Publisher
	Recorder  Recorder
	Generator DataGenerator
	Limiter   *RunLimiter
}

// Service runs the daily pipeline and answers queries about past runs.
type Service struct {
	db      *database.DB
	audit   *AuditStore
	schemas *SchemaRegistry
	staging *StagingStore
	cleaner *Cleaner
	engine  *QualityEngine

	rules     RuleCatalogue
	gate      GateMode
	dataDir   string
	sink      reportsink.Sink
	locker    runlock.Locker
	publisher notify.Publisher
	recorder  Recorder
	generator DataGenerator
	limiter   *RunLimiter

	now func() time.Time
}

// NewService wires a Service and creates the audit tables.
func NewService(ctx context.Context, db *database.DB, opts ServiceOptions) (*Service, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if opts.GateMode == "" {
		opts.GateMode = GatePermissive
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Locker == nil {
		opts.Locker = runlock.NewLocal(runlock.DefaultTTL)
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.NewLog(nil)
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRunLimiter(DefaultMaxConcurrentRuns, DefaultMaxWaitTime)
	}

	schemas := NewSchemaRegistry(db.Dialect())
	s := &Service{
		db:        db,
		audit:     NewAuditStore(db),
		schemas:   schemas,
		staging:   NewStagingStore(db, schemas),
		cleaner:   NewCleaner(db, schemas),
		engine:    NewQualityEngine(opts.Workers),
		rules:     opts.Rules,
		gate:      opts.GateMode,
		dataDir:   opts.DataDir,
		sink:      opts.Reports,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		generator: opts.Generator,
		limiter:   opts.Limiter,
		now:       time.Now,
	}

	if err := s.audit.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Audit exposes the audit store for read-only callers.
func (s *Service) Audit() *AuditStore { return s.audit }

// Cleaner exposes the cleaner for read-only callers.
func (s *Service) Cleaner() *Cleaner { return s.cleaner }

// Limiter returns the run limiter used by StartRun.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// GateMode returns the configured default gate mode.
func (s *Service) GateMode() GateMode { return s.gate }

// RunOptions selects what one run does.
type RunOptions struct {
	RunDate string // YYYY-MM-DD

	// Generate writes NApps synthetic applications (and dependents) before ingest.
	Generate bool
	NApps    int
	Seed     int64

	// GateMode overrides the service default when set.
	GateMode *GateMode

	// ResumeBatchID continues a failed run; completed staging steps are skipped.
	ResumeBatchID string

	// BatchID pre-assigns the id of a new run. Empty generates one.
	BatchID string
}

// RunResult is the outcome of one run.
type RunResult struct {
	BatchID   string                     `json:"batch_id"`
	RunDate   string                     `json:"run_date"`
	GateMode  GateMode                   `json:"gate_mode"`
	State     RunState                   `json:"state"`
	Status    RunStatus                  `json:"status"`
	Generated map[string]int             `json:"generated,omitempty"`
	Report    *RunReport                 `json:"-"`
	Excluded  map[string]int             `json:"excluded"`
	Staged    map[string]LoadResult      `json:"staged"`
	Cleaned   map[string]CleanLoadResult `json:"cleaned"`
	Conflicts map[string]string          `json:"conflicts,omitempty"`
	Warnings  []string                   `json:"warnings,omitempty"`
	Duration  time.Duration              `json:"duration"`
}

// ExitCode maps the run status to the process exit code:
// 0 succeeded, 2 partial, 1 anything else.
func (r *RunResult) ExitCode() int {
	if r == nil {
		return 1
	}
	switch r.Status {
	case StatusSucceeded:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

func newRunResult(batchID, runDate string, mode GateMode) *RunResult {
	return &RunResult{
		BatchID:   batchID,
		RunDate:   runDate,
		GateMode:  mode,
		State:     StatePending,
		Status:    StatusRunning,
		Excluded:  make(map[string]int),
		Staged:    make(map[string]LoadResult),
		Cleaned:   make(map[string]CleanLoadResult),
		Conflicts: make(map[string]string),
	}
}

// Run executes one run synchronously: lock the run date, optionally
// generate, ingest and validate every table, publish the report, apply the
// gate, stage and clean. A schema conflict on one table makes the run
// partial without stopping the others; a gate abort or storage failure
// fails it.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	day, err := time.Parse(RunDateLayout, opts.RunDate)
	if err != nil {
		return nil, fmt.Errorf("invalid run date %q: want YYYY-MM-DD", opts.RunDate)
	}
	mode := s.gate
	if opts.GateMode != nil {
		mode = *opts.GateMode
	}

	lease, err := s.locker.Acquire(ctx, lockKey(opts.RunDate))
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, opts.RunDate)
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("release run lock", "run_date", opts.RunDate, "error", err)
		}
	}()

	batchID, done, err := s.beginRun(ctx, opts, mode)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRun(ctx, batchID, opts.RunDate)
	log := logging.FromContext(ctx)
	start := s.now()
	result := newRunResult(batchID, opts.RunDate, mode)

	log.Info("run started", "gate_mode", mode, "resume", opts.ResumeBatchID != "")

	err = s.execute(ctx, opts, day, mode, done, result)
	result.Duration = s.now().Sub(start)
	return s.finish(ctx, result, err)
}

// beginRun creates or resumes the audit record and returns the batch id and
// the steps completed by an earlier attempt.
func (s *Service) beginRun(ctx context.Context, opts RunOptions, mode GateMode) (string, map[string]bool, error) {
	if opts.ResumeBatchID == "" {
		batchID := opts.BatchID
		if batchID == "" {
			batchID = uuid.NewString()
		}
		if err := s.audit.StartRun(ctx, batchID, opts.RunDate, mode, TriggerFromContext(ctx)); err != nil {
			return "", nil, err
		}
		return batchID, map[string]bool{}, nil
	}

	run, err := s.audit.GetRun(ctx, opts.ResumeBatchID)
	if err != nil {
		return "", nil, err
	}
	if run.RunDate != opts.RunDate {
		return "", nil, fmt.Errorf("batch %s belongs to run date %s, not %s", run.BatchID, run.RunDate, opts.RunDate)
	}
	if run.Status == StatusSucceeded || run.Status == StatusRolledBack {
		return "", nil, fmt.Errorf("cannot resume batch %s with status %s", run.BatchID, run.Status)
	}

	done, err := s.audit.CompletedSteps(ctx, run.BatchID)
	if err != nil {
		return "", nil, err
	}
	if err := s.audit.ResumeRun(ctx, run.BatchID); err != nil {
		return "", nil, err
	}
	return run.BatchID, done, nil
}

func (s *Service) execute(ctx context.Context, opts RunOptions, day time.Time, mode GateMode, done map[string]bool, result *RunResult) error {
	log := logging.FromContext(ctx)

	if opts.Generate {
		err := s.step(ctx, result.BatchID, StepGenerate, done, func() error {
			if s.generator == nil {
				return errors.New("no data generator configured")
			}
			counts, err := s.generator.Generate(ctx, s.dataDir, day, opts.NApps, opts.Seed)
			result.Generated = counts
			return err
		})
		if err != nil {
			return err
		}
		result.State = StateGenerated
	}

	// Validation always runs so a resumed run rebuilds the same admitted rows.
	var batches map[string][]*RawRecord
	err := s.step(ctx, result.BatchID, StepValidate, nil, func() error {
		var err error
		result.Report, batches, err = s.validate(ctx, result.BatchID, result.RunDate, mode, !done[StepValidate])
		return err
	})
	if err != nil {
		return err
	}
	result.State = StateValidated

	if s.sink != nil {
		err := s.step(ctx, result.BatchID, StepReport, nil, func() error {
			return s.publishReport(ctx, result.Report)
		})
		if err != nil {
			log.Warn("quality report not stored", "error", err)
			result.Warnings = append(result.Warnings, "report: "+err.Error())
		}
	}

	var decisions []GateDecision
	err = s.step(ctx, result.BatchID, StepGate, nil, func() error {
		var err error
		decisions, err = mode.Apply(result.Report, batches)
		return err
	})
	if err != nil {
		return err
	}

	byTable := make(map[string]GateDecision, len(decisions))
	for _, d := range decisions {
		byTable[d.Table] = d
		result.Excluded[d.Table] = d.Excluded
	}

	stamp := RunStamp{RunDate: result.RunDate, BatchID: result.BatchID, IngestedAt: s.now()}
	var cleanable []string
	for _, def := range All() {
		key := def.Info.Key
		decision, ok := byTable[key]
		if !ok {
			continue
		}

		name := StageStep(StageStaging, key)
		if done[name] {
			if err := s.audit.SkipStep(ctx, result.BatchID, name, "completed by an earlier attempt"); err != nil {
				return err
			}
			cleanable = append(cleanable, key)
			continue
		}

		var loaded LoadResult
		err := s.step(ctx, result.BatchID, name, nil, func() error {
			var err error
			loaded, err = s.staging.Append(ctx, key, Stamp(decision.Admitted, stamp))
			return err
		})
		if IsSchemaConflict(err) {
			log.Warn("staging skipped for table", "table", key, "error", err)
			result.Conflicts[key] = err.Error()
			continue
		}
		if err != nil {
			return err
		}

		result.Staged[key] = loaded
		cleanable = append(cleanable, key)
		s.recorder.ObserveStaging(key, loaded.RowsWritten, len(loaded.ColumnsAdded))
		err = s.audit.RecordLoadStat(ctx, LoadStat{
			BatchID:      result.BatchID,
			TableName:    key,
			Stage:        StageStaging,
			RowCount:     int64(loaded.RowsWritten),
			ColumnsAdded: strings.Join(loaded.ColumnsAdded, ","),
			Rejected:     int64(decision.Excluded),
		})
		if err != nil {
			return err
		}
	}
	result.State = StateStaged

	for _, key := range cleanable {
		var cleaned CleanLoadResult
		err := s.step(ctx, result.BatchID, StageStep(StageCleaning, key), nil, func() error {
			var err error
			cleaned, err = s.cleaner.Clean(ctx, key, result.RunDate)
			return err
		})
		if err != nil {
			return err
		}

		result.Cleaned[key] = cleaned
		s.recorder.ObserveCleaning(key, cleaned.RecordsWritten, cleaned.DuplicatesCollapsed, cleaned.Rejected)
		err = s.audit.RecordLoadStat(ctx, LoadStat{
			BatchID:    result.BatchID,
			TableName:  key,
			Stage:      StageCleaning,
			RowCount:   int64(cleaned.RecordsWritten),
			Duplicates: int64(cleaned.DuplicatesCollapsed),
			Rejected:   int64(cleaned.Rejected),
		})
		if err != nil {
			return err
		}
	}
	result.State = StateCleaned
	return nil
}

// validate ingests and checks every registered table.
func (s *Service) validate(ctx context.Context, batchID, runDate string, mode GateMode, recordStats bool) (*RunReport, map[string][]*RawRecord, error) {
	report := NewRunReport(runDate, batchID, mode)
	batches := make(map[string][]*RawRecord)

	for _, def := range All() {
		key := def.Info.Key
		in, err := IngestTable(ctx, s.dataDir, runDate, def)
		if err != nil {
			return nil, nil, err
		}

		var tr *TableReport
		if in.Missing {
			tr = MissingFileReport(key, in.Path)
		} else {
			tr, err = s.engine.Validate(ctx, key, in.Records, s.rules)
			if err != nil {
				return nil, nil, err
			}
			batches[key] = in.Records
		}
		report.Add(tr)

		s.recorder.ObserveQuality(key, tr.RowsChecked, tr.RowsFailed)
		logging.FromContext(ctx).Info("table validated",
			"table", key,
			"rows", tr.RowsChecked,
			"failed", tr.RowsFailed,
			"issues", len(tr.Issues),
		)

		if !recordStats {
			continue
		}
		err = s.audit.RecordLoadStat(ctx, LoadStat{
			BatchID:   batchID,
			TableName: key,
			Stage:     StageQuality,
			RowCount:  int64(tr.RowsChecked),
			Rejected:  int64(tr.RowsFailed),
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return report, batches, nil
}

// publishReport stores the JSON and CSV renditions of the report.
func (s *Service) publishReport(ctx context.Context, report *RunReport) error {
	body, err := report.JSON()
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	flat, err := report.CSV()
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	name := ReportFileName(report.RunDate)
	return errors.Join(
		s.sink.Put(ctx, name+".json", "application/json", body),
		s.sink.Put(ctx, name+".csv", "text/csv", flat),
	)
}

// step runs fn as a logged step. Steps named in skip are recorded as skipped.
func (s *Service) step(ctx context.Context, batchID, name string, skip map[string]bool, fn func() error) error {
	if skip[name] {
		return s.audit.SkipStep(ctx, batchID, name, "completed by an earlier attempt")
	}

	id, err := s.audit.StartStep(ctx, batchID, name)
	if err != nil {
		return err
	}
	if runErr := fn(); runErr != nil {
		if err := s.audit.FailStep(context.WithoutCancel(ctx), id, runErr); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
	return s.audit.CompleteStep(ctx, id)
}

// finish records the final status, publishes the event and observes metrics.
func (s *Service) finish(ctx context.Context, result *RunResult, runErr error) (*RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx)

	message := ""
	switch {
	case runErr != nil:
		result.Status = StatusFailed
		message = runErr.Error()
	case len(result.Conflicts) > 0:
		result.Status = StatusPartial
		tables := sortedKeys(result.Conflicts)
		message = "schema conflict in " + strings.Join(tables, ", ")
	default:
		result.Status = StatusSucceeded
	}

	if err := s.audit.EndRun(ctx, result.BatchID, result.Status, message); err != nil {
		log.Error("record run end", "error", err)
		if runErr == nil {
			runErr = err
			result.Status = StatusFailed
		}
	}

	if err := s.publisher.Publish(ctx, s.event(result, message)); err != nil {
		log.Warn("run event not published", "error", err)
	}
	s.recorder.ObserveRun(string(result.Status), result.Duration)

	log.Info("run finished",
		"status", result.Status,
		"state", result.State,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, runErr
}

func (s *Service) event(result *RunResult, message string) notify.Event {
	tables := make(map[string]notify.TableCounts)
	for _, def := range All() {
		key := def.Info.Key
		staged, sok := result.Staged[key]
		cleaned, cok := result.Cleaned[key]
		excluded, eok := result.Excluded[key]
		if !sok && !cok && !eok {
			continue
		}
		tables[key] = notify.TableCounts{
			Staged:   staged.RowsWritten,
			Clean:    cleaned.RecordsWritten,
			Rejected: cleaned.Rejected,
			Excluded: excluded,
		}
	}
	return notify.Event{
		Type:       notify.EventRunCompleted,
		BatchID:    result.BatchID,
		RunDate:    result.RunDate,
		Status:     string(result.Status),
		Message:    message,
		OccurredAt: s.now().UTC(),
		Tables:     tables,
	}
}

// StartRun starts Run in the background and returns its batch id. It waits
// for a limiter slot and fails fast when the run date already has a
// running batch.
func (s *Service) StartRun(ctx context.Context, opts RunOptions) (string, error) {
	if _, err := time.Parse(RunDateLayout, opts.RunDate); err != nil {
		return "", fmt.Errorf("invalid run date %q: want YYYY-MM-DD", opts.RunDate)
	}
	if opts.ResumeBatchID == "" {
		running, err := s.audit.RunningFor(ctx, opts.RunDate)
		if err != nil {
			return "", err
		}
		if len(running) > 0 {
			return "", fmt.Errorf("%w: %s (batch %s)", ErrRunInProgress, opts.RunDate, running[0])
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	batchID := opts.ResumeBatchID
	if batchID == "" {
		if opts.BatchID == "" {
			opts.BatchID = uuid.NewString()
		}
		batchID = opts.BatchID
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RunTimeout)
	go func() {
		defer s.limiter.Release()
		defer cancel()

		if _, err := s.Run(runCtx, opts); err != nil {
			slog.Error("background run failed", "batch_id", batchID, "run_date", opts.RunDate, "error", err)
		}
	}()
	return batchID, nil
}

// Wait blocks until background runs finish or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ListTables returns the registered tables in pipeline order.
func (s *Service) ListTables() []TableInfo {
	defs := All()
	infos := make([]TableInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// RunDetail is a run with its step log and load statistics.
type RunDetail struct {
	Run       *RunRecord   `json:"run"`
	Steps     []StepRecord `json:"steps"`
	LoadStats []LoadStat   `json:"load_stats"`
}

// GetRunDetail returns everything recorded about one batch.
func (s *Service) GetRunDetail(ctx context.Context, batchID string) (*RunDetail, error) {
	run, err := s.audit.GetRun(ctx, batchID)
	if err != nil {
		return nil, err
	}
	steps, err := s.audit.Steps(ctx, batchID)
	if err != nil {
		return nil, err
	}
	stats, err := s.audit.LoadStats(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Steps: steps, LoadStats: stats}, nil
}

// ListRuns returns the most recent runs first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.audit.ListRuns(ctx, limit)
}

// ReadClean returns the clean rows of a table for one run date.
func (s *Service) ReadClean(ctx context.Context, table, runDate string) ([]map[string]any, error) {
	if _, err := time.Parse(RunDateLayout, runDate); err != nil {
		return nil, fmt.Errorf("invalid run date %q: want YYYY-MM-DD", runDate)
	}
	return s.cleaner.ReadClean(ctx, table, runDate)
}

// Report returns a stored report rendition; format is "json" or "csv".
func (s *Service) Report(ctx context.Context, runDate, format string) ([]byte, error) {
	if _, err := time.Parse(RunDateLayout, runDate); err != nil {
		return nil, fmt.Errorf("invalid run date %q: want YYYY-MM-DD", runDate)
	}
	if format != "json" && format != "csv" {
		return nil, fmt.Errorf("invalid report format %q (want json or csv)", format)
	}
	reader, ok := s.sink.(ReportReader)
	if !ok {
		return nil, fmt.Errorf("%w: no readable report store configured", reportsink.ErrNotFound)
	}
	return reader.Get(ctx, ReportFileName(runDate)+"."+format)
}

func lockKey(runDate string) string {
	return "dailydrop:run:" + runDate
}
