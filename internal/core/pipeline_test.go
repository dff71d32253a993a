package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/core"
	_ "github.com/JonMunkholm/dailydrop/internal/core/tables"
	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/JonMunkholm/dailydrop/internal/generate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineRules = `{
  "applications": [
    {"type": "required", "columns": ["application_id", "decision"]},
    {"type": "enum", "column": "decision", "values": ["approved", "declined"]},
    {"type": "range", "column": "bureau_score", "min": 300, "max": 850},
    {"type": "unique_key", "columns": ["application_id"]}
  ],
  "accounts": [
    {"type": "date_format", "column": "activation_date", "pattern": "%Y-%m-%d"},
    {"type": "unique_key", "columns": ["account_id"]}
  ],
  "delinquency": [
    {"type": "enum", "column": "days_past_due", "values": ["0", "30", "60", "90"]}
  ]
}`

func newPipeline(t *testing.T) *core.Service {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, t.TempDir()+"/pipeline.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rules, err := core.ParseRules([]byte(pipelineRules))
	require.NoError(t, err)

	svc, err := core.NewService(ctx, db, core.ServiceOptions{
		Rules:     rules,
		DataDir:   t.TempDir(),
		Generator: generate.New(core.Dimensions{}),
	})
	require.NoError(t, err)
	return svc
}

func TestPipeline_GenerateAndLoad(t *testing.T) {
	ctx := context.Background()
	svc := newPipeline(t)

	opts := core.RunOptions{RunDate: "2024-03-01", Generate: true, NApps: 40, Seed: 42}
	first, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, core.StatusSucceeded, first.Status)
	require.Equal(t, 40, first.Generated["applications"])

	for _, table := range core.Keys() {
		n := first.Generated[table]
		assert.Equal(t, n, first.Staged[table].RowsWritten, "staged %s", table)
		assert.Equal(t, n, first.Cleaned[table].RecordsWritten, "cleaned %s", table)
		assert.Zero(t, first.Excluded[table], "excluded %s", table)
	}

	// Same seed, same date: the files are identical, staging grows and the
	// clean tables keep one row per key.
	second, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, core.StatusSucceeded, second.Status)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	for _, table := range core.Keys() {
		n := first.Generated[table]
		cleaned := second.Cleaned[table]
		assert.Equal(t, 2*n, cleaned.RowsRead, "staged rows of %s read back", table)
		assert.Equal(t, n, cleaned.RecordsWritten, "clean %s", table)
		assert.Equal(t, n, cleaned.DuplicatesCollapsed, "collapsed %s", table)
	}

	rows, err := svc.Cleaner().ReadClean(ctx, "applications", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 40)
	for _, row := range rows {
		assert.Equal(t, second.BatchID, row[core.ColBatchID], "latest batch wins")
	}

	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPipeline_Deterministic(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	gen := generate.New(core.Dimensions{})
	a, err := gen.Generate(ctx, t.TempDir(), day, 25, 7)
	require.NoError(t, err)
	b, err := gen.Generate(ctx, t.TempDir(), day, 25, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
