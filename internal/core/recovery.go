package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/dailydrop/internal/runlock"
	"github.com/jmoiron/sqlx"
)

// Step statuses in pipeline_execution_log.
const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Step names. Per-table steps are "<stage>:<table>".
const (
	StepGenerate = "generate"
	StepValidate = "validate"
	StepReport   = "report"
	StepGate     = "gate"
)

// StageStep names the step of stage for one table, e.g. "stage:applications".
func StageStep(stage, table string) string { return stage + ":" + table }

// StepRecord is one row of pipeline_execution_log.
type StepRecord struct {
	ID           int64   `db:"id" json:"id"`
	BatchID      string  `db:"batch_id" json:"batch_id"`
	StepName     string  `db:"step_name" json:"step_name"`
	Status       string  `db:"status" json:"status"`
	StartTime    string  `db:"start_time" json:"start_time"`
	EndTime      *string `db:"end_time" json:"end_time,omitempty"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
}

// StartStep logs a started step and returns its id.
func (a *AuditStore) StartStep(ctx context.Context, batchID, step string) (int64, error) {
	now := FormatTimestamp(a.now())
	var id int64
	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := tx.Rebind(`INSERT INTO pipeline_execution_log (batch_id, step_name, status, start_time) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, batchID, step, StepStarted, now); err != nil {
			return err
		}
		// LastInsertId is not supported by pgx, so read the id back.
		lookup := tx.Rebind(`SELECT MAX(id) FROM pipeline_execution_log WHERE batch_id = ? AND step_name = ?`)
		return tx.GetContext(ctx, &id, lookup, batchID, step)
	})
	if err != nil {
		return 0, storageErr("start step "+step, "pipeline_execution_log", err)
	}
	return id, nil
}

// CompleteStep marks a step completed.
func (a *AuditStore) CompleteStep(ctx context.Context, id int64) error {
	return a.finishStep(ctx, id, StepCompleted, "")
}

// FailStep marks a step failed with the error text.
func (a *AuditStore) FailStep(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return a.finishStep(ctx, id, StepFailed, msg)
}

// SkipStep logs a step that was not executed.
func (a *AuditStore) SkipStep(ctx context.Context, batchID, step, reason string) error {
	now := FormatTimestamp(a.now())
	query := a.db.Rebind(`INSERT INTO pipeline_execution_log (batch_id, step_name, status, start_time, end_time, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := a.db.ExecContext(ctx, query, batchID, step, StepSkipped, now, now, nullString(reason))
	return storageErr("skip step "+step, "pipeline_execution_log", err)
}

func (a *AuditStore) finishStep(ctx context.Context, id int64, status, msg string) error {
	query := a.db.Rebind(`UPDATE pipeline_execution_log SET status = ?, end_time = ?, error_message = ? WHERE id = ?`)
	_, err := a.db.ExecContext(ctx, query, status, FormatTimestamp(a.now()), nullString(msg), id)
	return storageErr("finish step", "pipeline_execution_log", err)
}

// Steps returns the step log of a batch in execution order.
func (a *AuditStore) Steps(ctx context.Context, batchID string) ([]StepRecord, error) {
	steps := []StepRecord{}
	query := a.db.Rebind(`SELECT id, batch_id, step_name, status, start_time, end_time, error_message
		FROM pipeline_execution_log WHERE batch_id = ? ORDER BY id`)
	if err := a.db.SelectContext(ctx, &steps, query, batchID); err != nil {
		return nil, storageErr("list steps", "pipeline_execution_log", err)
	}
	return steps, nil
}

// CompletedSteps returns the names of the batch's completed steps.
func (a *AuditStore) CompletedSteps(ctx context.Context, batchID string) (map[string]bool, error) {
	var names []string
	query := a.db.Rebind(`SELECT DISTINCT step_name FROM pipeline_execution_log WHERE batch_id = ? AND status = ?`)
	if err := a.db.SelectContext(ctx, &names, query, batchID, StepCompleted); err != nil {
		return nil, storageErr("completed steps", "pipeline_execution_log", err)
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}

// FailedStep returns the most recent failed step of a batch.
func (a *AuditStore) FailedStep(ctx context.Context, batchID string) (StepRecord, bool, error) {
	var step StepRecord
	query := a.db.Rebind(`SELECT id, batch_id, step_name, status, start_time, end_time, error_message
		FROM pipeline_execution_log WHERE batch_id = ? AND status = ? ORDER BY id DESC LIMIT 1`)
	err := a.db.GetContext(ctx, &step, query, batchID, StepFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return StepRecord{}, false, nil
	}
	if err != nil {
		return StepRecord{}, false, storageErr("failed step", "pipeline_execution_log", err)
	}
	return step, true, nil
}

// CleanupResult reports what CleanupBatch removed and rebuilt.
type CleanupResult struct {
	BatchID     string            `json:"batch_id"`
	RowsDeleted map[string]int64  `json:"rows_deleted"`
	Recleaned   []CleanLoadResult `json:"recleaned"`
}

// CleanupBatch removes a failed batch's staged rows and rebuilds the clean
// rows of every run date it touched. This is a maintenance operation outside
// the append-only staging path; succeeded runs are refused.
//
// The run dates involved are locked like a run locks them, so cleanup never
// interleaves with a run of the same date. The deletes share one transaction.
// A failed rebuild leaves the batch failed; the next run of the date cleans
// from what is staged.
func (s *Service) CleanupBatch(ctx context.Context, batchID string) (*CleanupResult, error) {
	run, err := s.audit.GetRun(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := cleanupAllowed(run); err != nil {
		return nil, err
	}

	release, err := s.lockRunDates(ctx, []string{run.RunDate})
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock: a resume may have finished in between.
	if run, err = s.audit.GetRun(ctx, batchID); err != nil {
		return nil, err
	}
	if err := cleanupAllowed(run); err != nil {
		return nil, err
	}

	affected, err := s.batchRunDates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var extra []string
	for _, day := range allDates(affected) {
		if day != run.RunDate {
			extra = append(extra, day)
		}
	}
	if len(extra) > 0 {
		releaseExtra, err := s.lockRunDates(ctx, extra)
		if err != nil {
			return nil, err
		}
		defer releaseExtra()
	}

	log := slog.With("batch_id", batchID)
	result := &CleanupResult{BatchID: batchID, RowsDeleted: make(map[string]int64)}

	d := s.db.Dialect()
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, def := range All() {
			dates, ok := affected[def.Info.Key]
			if !ok {
				continue
			}
			stg := def.StagingTable()
			del := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Quote(stg), d.Quote(ColBatchID)))
			res, err := tx.ExecContext(ctx, del, batchID)
			if err != nil {
				return storageErr("delete batch rows", stg, err)
			}
			n, _ := res.RowsAffected()
			result.RowsDeleted[def.Info.Key] = n
			log.Info("removed staged rows", "table", stg, "rows", n, "run_dates", strings.Join(sortedKeys(dates), ","))
		}
		return nil
	})
	if err != nil {
		result.RowsDeleted = make(map[string]int64)
		return result, err
	}

	for _, def := range All() {
		for _, day := range sortedKeys(affected[def.Info.Key]) {
			res, err := s.cleaner.Clean(ctx, def.Info.Key, day)
			if err != nil {
				return result, err
			}
			result.Recleaned = append(result.Recleaned, res)
		}
	}

	if err := s.audit.EndRun(ctx, batchID, StatusRolledBack, "staged rows removed by cleanup"); err != nil {
		return result, err
	}
	return result, nil
}

func cleanupAllowed(run *RunRecord) error {
	if run.Status == StatusSucceeded || run.Status == StatusRunning {
		return fmt.Errorf("cannot clean up batch %s with status %s", run.BatchID, run.Status)
	}
	return nil
}

// batchRunDates maps each table holding rows of batchID to their run dates.
func (s *Service) batchRunDates(ctx context.Context, batchID string) (map[string]map[string]bool, error) {
	d := s.db.Dialect()
	affected := make(map[string]map[string]bool)
	for _, def := range All() {
		stg := def.StagingTable()
		schema, err := s.schemas.Schema(ctx, s.db, stg)
		if err != nil {
			return nil, storageErr("read schema", stg, err)
		}
		if !schema.Exists() {
			continue
		}

		var dates []string
		sel := s.db.Rebind(fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = ?",
			d.Quote(ColRunDate), d.Quote(stg), d.Quote(ColBatchID)))
		if err := s.db.SelectContext(ctx, &dates, sel, batchID); err != nil {
			return nil, storageErr("find batch rows", stg, err)
		}
		if len(dates) == 0 {
			continue
		}
		affected[def.Info.Key] = make(map[string]bool, len(dates))
		for _, day := range dates {
			affected[def.Info.Key][day] = true
		}
	}
	return affected, nil
}

func allDates(affected map[string]map[string]bool) []string {
	set := make(map[string]bool)
	for _, dates := range affected {
		for day := range dates {
			set[day] = true
		}
	}
	return sortedKeys(set)
}

// lockRunDates takes the run lock of every date, in order, or none of them.
// The returned func releases what was taken.
func (s *Service) lockRunDates(ctx context.Context, dates []string) (func(), error) {
	var leases []runlock.Lease
	release := func() {
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("release run lock", "key", leases[i].Key(), "error", err)
			}
		}
	}

	for _, day := range dates {
		lease, err := s.locker.Acquire(ctx, lockKey(day))
		if err != nil {
			release()
			if errors.Is(err, runlock.ErrLocked) {
				return nil, fmt.Errorf("%w: %s", ErrRunInProgress, day)
			}
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		leases = append(leases, lease)
	}
	return release, nil
}
