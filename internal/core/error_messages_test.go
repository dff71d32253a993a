package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "run in progress",
			err:      fmt.Errorf("%w: 2024-01-15", ErrRunInProgress),
			wantCode: "RUN001",
		},
		{
			name:     "too many runs",
			err:      ErrTooManyRuns,
			wantCode: "RUN002",
		},
		{
			name:     "run not found",
			err:      fmt.Errorf("%w: abc", ErrRunNotFound),
			wantCode: "RUN003",
		},
		{
			name:     "gate aborted",
			err:      fmt.Errorf("%w: failures in applications", ErrGateAborted),
			wantCode: "DQ001",
		},
		{
			name:     "unknown rule",
			err:      fmt.Errorf("applications rule 2: %w %q", ErrUnknownRule, "regex"),
			wantCode: "DQ002",
		},
		{
			name:     "validation failure value",
			err:      ValidationFailure{Rule: "range(bureau_score)", RowIdentifier: "applications.csv:3"},
			wantCode: "DQ003",
		},
		{
			name:     "schema conflict",
			err:      &SchemaEvolutionConflict{Table: "stg_accounts", Column: "_batch_id", Reason: "reserved"},
			wantCode: "STG001",
		},
		{
			name:     "unknown table",
			err:      fmt.Errorf("%w: ledgers", ErrUnknownTable),
			wantCode: "STG002",
		},
		{
			name:     "coercion failure",
			err:      &CoercionFailure{Table: "payments", Column: "amount", Value: "x"},
			wantCode: "CLN001",
		},
		{
			name:     "storage failure with driver cause",
			err:      storageErr("insert", "stg_payments", errors.New("dial tcp: connection refused")),
			wantCode: "DB002",
		},
		{
			name:     "storage failure with sqlite busy",
			err:      storageErr("insert", "stg_payments", errors.New("database is locked (5) (SQLITE_BUSY)")),
			wantCode: "DB003",
		},
		{
			name:     "plain storage failure",
			err:      storageErr("insert", "stg_payments", errors.New("no such column")),
			wantCode: "DB001",
		},
		{
			name:     "cancelled inside storage failure",
			err:      storageErr("insert", "stg_payments", context.Canceled),
			wantCode: "RUN004",
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("clean: %w", context.DeadlineExceeded),
			wantCode: "RUN005",
		},
		{
			name:     "invalid run date",
			err:      errors.New(`invalid run date "15/01/2024": want YYYY-MM-DD`),
			wantCode: "RUN006",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DEADLOCK detected"),
			wantCode: "DB004",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyRuns)

	expected := "The pipeline is busy with other runs (Code: RUN002). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrGateAborted, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: 2024-01-15", ErrRunInProgress)
		userErr := NewUserError(techErr)

		if userErr.Error() != "Another run is in progress for this run date" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrRunInProgress) {
			t.Error("Unwrap() should return original error")
		}
	})
}
