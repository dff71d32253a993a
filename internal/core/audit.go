package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/database"
)

// Load stages recorded in etl_load_stats.
const (
	StageQuality  = "quality"
	StageStaging  = "staging"
	StageCleaning = "cleaning"
)

// RunRecord is one row of etl_runs.
type RunRecord struct {
	BatchID     string    `db:"batch_id" json:"batch_id"`
	RunDate     string    `db:"run_date" json:"run_date"`
	GateMode    string    `db:"gate_mode" json:"gate_mode"`
	TriggeredBy string    `db:"triggered_by" json:"triggered_by"`
	StartedAt   string    `db:"started_at" json:"started_at"`
	EndedAt     *string   `db:"ended_at" json:"ended_at,omitempty"`
	Status      RunStatus `db:"status" json:"status"`
	Message     *string   `db:"message" json:"message,omitempty"`
}

// LoadStat is one row of etl_load_stats.
type LoadStat struct {
	ID           int64  `db:"id" json:"id"`
	BatchID      string `db:"batch_id" json:"batch_id"`
	TableName    string `db:"table_name" json:"table_name"`
	Stage        string `db:"stage" json:"stage"`
	RowCount     int64  `db:"row_count" json:"row_count"`
	ColumnsAdded string `db:"columns_added" json:"columns_added"`
	Duplicates   int64  `db:"duplicates" json:"duplicates"`
	Rejected     int64  `db:"rejected" json:"rejected"`
	CreatedAt    string `db:"created_at" json:"created_at"`
}

// AuditStore records runs, per-table load statistics and pipeline steps.
type AuditStore struct {
	db  *database.DB
	now func() time.Time
}

// NewAuditStore creates an audit store. Call EnsureSchema before use.
func NewAuditStore(db *database.DB) *AuditStore {
	return &AuditStore{db: db, now: time.Now}
}

// EnsureSchema creates the audit tables when missing.
func (a *AuditStore) EnsureSchema(ctx context.Context) error {
	d := a.db.Dialect()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS etl_runs (
			batch_id VARCHAR(64) PRIMARY KEY,
			run_date VARCHAR(10) NOT NULL,
			gate_mode VARCHAR(16) NOT NULL,
			triggered_by VARCHAR(64) NOT NULL,
			started_at VARCHAR(40) NOT NULL,
			ended_at VARCHAR(40),
			status VARCHAR(16) NOT NULL,
			message TEXT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS etl_load_stats (
			%s,
			batch_id VARCHAR(64) NOT NULL,
			table_name VARCHAR(64) NOT NULL,
			stage VARCHAR(16) NOT NULL,
			row_count BIGINT NOT NULL,
			columns_added TEXT,
			duplicates BIGINT NOT NULL,
			rejected BIGINT NOT NULL,
			created_at VARCHAR(40) NOT NULL
		)`, d.SerialPrimaryKey("id")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipeline_execution_log (
			%s,
			batch_id VARCHAR(64) NOT NULL,
			step_name VARCHAR(128) NOT NULL,
			status VARCHAR(16) NOT NULL,
			start_time VARCHAR(40) NOT NULL,
			end_time VARCHAR(40),
			error_message TEXT
		)`, d.SerialPrimaryKey("id")),
	}

	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("create audit schema", "", err)
		}
	}
	return nil
}

// StartRun inserts a running etl_runs row.
func (a *AuditStore) StartRun(ctx context.Context, batchID, runDate string, mode GateMode, triggeredBy string) error {
	if triggeredBy == "" {
		triggeredBy = TriggerCLI
	}
	query := a.db.Rebind(`INSERT INTO etl_runs (batch_id, run_date, gate_mode, triggered_by, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := a.db.ExecContext(ctx, query, batchID, runDate, string(mode), triggeredBy, FormatTimestamp(a.now()), string(StatusRunning))
	return storageErr("start run", "etl_runs", err)
}

// ResumeRun marks an existing run as running again.
func (a *AuditStore) ResumeRun(ctx context.Context, batchID string) error {
	query := a.db.Rebind(`UPDATE etl_runs SET status = ?, ended_at = NULL, message = NULL WHERE batch_id = ?`)
	res, err := a.db.ExecContext(ctx, query, string(StatusRunning), batchID)
	if err != nil {
		return storageErr("resume run", "etl_runs", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, batchID)
	}
	return nil
}

// EndRun stores the final status of a run.
func (a *AuditStore) EndRun(ctx context.Context, batchID string, status RunStatus, message string) error {
	query := a.db.Rebind(`UPDATE etl_runs SET ended_at = ?, status = ?, message = ? WHERE batch_id = ?`)
	_, err := a.db.ExecContext(ctx, query, FormatTimestamp(a.now()), string(status), nullString(message), batchID)
	return storageErr("end run", "etl_runs", err)
}

// RecordLoadStat appends one etl_load_stats row.
func (a *AuditStore) RecordLoadStat(ctx context.Context, stat LoadStat) error {
	stat.CreatedAt = FormatTimestamp(a.now())
	query := a.db.Rebind(`INSERT INTO etl_load_stats
		(batch_id, table_name, stage, row_count, columns_added, duplicates, rejected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := a.db.ExecContext(ctx, query,
		stat.BatchID, stat.TableName, stat.Stage, stat.RowCount,
		stat.ColumnsAdded, stat.Duplicates, stat.Rejected, stat.CreatedAt)
	return storageErr("record load stat", "etl_load_stats", err)
}

// GetRun returns one run by batch id.
func (a *AuditStore) GetRun(ctx context.Context, batchID string) (*RunRecord, error) {
	var run RunRecord
	query := a.db.Rebind(`SELECT batch_id, run_date, gate_mode, triggered_by, started_at, ended_at, status, message
		FROM etl_runs WHERE batch_id = ?`)
	if err := a.db.GetContext(ctx, &run, query, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, batchID)
		}
		return nil, storageErr("get run", "etl_runs", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (a *AuditStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	runs := []RunRecord{}
	query := a.db.Rebind(`SELECT batch_id, run_date, gate_mode, triggered_by, started_at, ended_at, status, message
		FROM etl_runs ORDER BY started_at DESC, batch_id DESC LIMIT ?`)
	if err := a.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, storageErr("list runs", "etl_runs", err)
	}
	return runs, nil
}

// LoadStats returns the load statistics of a run in insertion order.
func (a *AuditStore) LoadStats(ctx context.Context, batchID string) ([]LoadStat, error) {
	stats := []LoadStat{}
	query := a.db.Rebind(`SELECT id, batch_id, table_name, stage, row_count, COALESCE(columns_added, '') AS columns_added,
		duplicates, rejected, created_at
		FROM etl_load_stats WHERE batch_id = ? ORDER BY id`)
	if err := a.db.SelectContext(ctx, &stats, query, batchID); err != nil {
		return nil, storageErr("load stats", "etl_load_stats", err)
	}
	return stats, nil
}

// RunningFor returns the batch ids still marked running for a run date.
func (a *AuditStore) RunningFor(ctx context.Context, runDate string) ([]string, error) {
	var ids []string
	query := a.db.Rebind(`SELECT batch_id FROM etl_runs WHERE run_date = ? AND status = ? ORDER BY started_at`)
	if err := a.db.SelectContext(ctx, &ids, query, runDate, string(StatusRunning)); err != nil {
		return nil, storageErr("running runs", "etl_runs", err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
