package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(NewHandler(&buf, "debug", "json")))
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContext_RunFields(t *testing.T) {
	buf := captureDefault(t)

	ctx := WithRun(context.Background(), "batch-1", "2024-01-15")
	ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-9")
	FromContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["batch_id"] != "batch-1" {
		t.Errorf("batch_id = %v, want batch-1", line["batch_id"])
	}
	if line["run_date"] != "2024-01-15" {
		t.Errorf("run_date = %v, want 2024-01-15", line["run_date"])
	}
	if line["request_id"] != "req-9" {
		t.Errorf("request_id = %v, want req-9", line["request_id"])
	}
}

func TestWithFields(t *testing.T) {
	buf := captureDefault(t)

	WithFields(context.Background(), "table", "applications").Info("staged", "rows", 3)
	if !strings.Contains(buf.String(), `"table":"applications"`) {
		t.Errorf("log line missing table field: %s", buf.String())
	}
}

func TestSetup_WritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "pipeline.log")
	closer := Setup(Options{Level: "info", Format: "text", File: path})
	slog.Info("to file", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q, want the message", data)
	}
}
