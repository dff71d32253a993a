package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/dailydrop/internal/config"
	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `{
  "applications": [
    {"type": "required", "columns": ["application_id", "product"]},
    {"type": "range", "column": "bureau_score", "min": 300, "max": 850},
    {"type": "unique_key", "columns": ["application_id"]}
  ],
  "payments": [
    {"type": "non_negative", "column": "amount"}
  ]
}`

const testDimensions = `
dimensions:
  products: [classic, gold]
  channels: [online, branch]
  segments: [mass]
  scorecard_versions: [v1]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	rules := filepath.Join(dir, "rules.json")
	dims := filepath.Join(dir, "dims.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(testRules), 0o644))
	require.NoError(t, os.WriteFile(dims, []byte(testDimensions), 0o644))

	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(dir, "dailydrop.db")},
		Pipeline: config.PipelineConfig{
			DataDir:           filepath.Join(dir, "data"),
			RulesPath:         rules,
			DimensionsPath:    dims,
			GateMode:          "permissive",
			Workers:           2,
			MaxConcurrentRuns: 1,
		},
		Reports: config.ReportConfig{Dir: filepath.Join(dir, "reports")},
		Lock:    config.LockConfig{Backend: "local"},
		Notify:  config.NotifyConfig{KafkaTopic: "dailydrop.runs"},
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, []string{"classic", "gold"}, a.Dimensions.Products)
	assert.Equal(t, core.GatePermissive, a.Service.GateMode())
	assert.NotEmpty(t, a.Service.ListTables())

	res, err := a.Service.Run(ctx, core.RunOptions{RunDate: "2024-01-15", Generate: true, NApps: 20, Seed: 42})
	require.NoError(t, err)
	assert.NotEqual(t, core.StatusFailed, res.Status)
	assert.Equal(t, 20, res.Generated["applications"])

	report, err := a.Service.Report(ctx, "2024-01-15", "json")
	require.NoError(t, err)
	assert.Contains(t, string(report), res.BatchID)

	families, err := a.Metrics.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing rules", func(c *config.Config) { c.Pipeline.RulesPath = "/nonexistent/rules.json" }, "rules"},
		{"missing dimensions", func(c *config.Config) { c.Pipeline.DimensionsPath = "/nonexistent/dims.yaml" }, "dimensions"},
		{"bad gate", func(c *config.Config) { c.Pipeline.GateMode = "lenient" }, "invalid gate mode"},
		{"bad lock backend", func(c *config.Config) { c.Lock.Backend = "etcd" }, "unknown lock backend"},
		{"bad driver", func(c *config.Config) { c.Database.Driver = "oracle" }, "open database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			a, err := Build(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
