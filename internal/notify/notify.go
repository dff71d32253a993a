// Package notify publishes run events for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventRunCompleted is sent once per finished run, whatever its status.
const EventRunCompleted = "run.completed"

// TableCounts summarizes one table of a run.
type TableCounts struct {
	Staged   int `json:"staged"`
	Clean    int `json:"clean"`
	Rejected int `json:"rejected"`
	Excluded int `json:"excluded"`
}

// Event is the message body.
type Event struct {
	Type       string                 `json:"type"`
	BatchID    string                 `json:"batch_id"`
	RunDate    string                 `json:"run_date"`
	Status     string                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Tables     map[string]TableCounts `json:"tables"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Log writes events to the structured log. It is the fallback when no
// broker is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log publisher; nil uses the default logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Publish implements Publisher.
func (l *Log) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Tables)
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "run event",
		"type", ev.Type,
		"batch_id", ev.BatchID,
		"run_date", ev.RunDate,
		"status", ev.Status,
		"tables", string(body),
	)
	return nil
}
