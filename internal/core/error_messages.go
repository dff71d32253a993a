package core

// error_messages.go maps pipeline errors to operator-facing messages with a
// stable code. Operators quote the code; the log line with the same batch id
// carries the technical error.
//
// # Storage (DB001-DB099)
//
//	DB001 - Storage failure: a database operation failed
//	DB002 - Connection refused: the database is unreachable
//	DB003 - Database busy: a lock or busy timeout was hit
//	DB004 - Deadlock: conflicting transactions were aborted
//	DB005 - Duplicate key: a unique constraint was violated
//
// # Data quality (DQ001-DQ099)
//
//	DQ001 - Gate aborted: strict mode found failing rows or missing files
//	DQ002 - Unknown rule: the rule document names an unsupported type
//	DQ003 - Validation failure: a row failed a rule
//	DQ004 - Invalid rule document: the rule document could not be parsed
//
// # Staging (STG001-STG099)
//
//	STG001 - Schema conflict: a source column cannot be added or stored
//	STG002 - Unknown table: the table is not registered
//
// # Cleaning (CLN001-CLN099)
//
//	CLN001 - Coercion failure: a staged value cannot be typed
//
// # Orchestration (RUN001-RUN099)
//
//	RUN001 - Run in progress: the run date is locked by another run
//	RUN002 - Too many runs: every run slot is busy
//	RUN003 - Run not found: the batch id has no audit record
//	RUN004 - Cancelled: the run or request was cancelled
//	RUN005 - Timed out: the run or request exceeded its deadline
//	RUN006 - Invalid run date: the run date is not YYYY-MM-DD
//	RUN007 - Invalid gate mode: the gate mode is not recognized
//
// Fallback:
//
//	ERR000 - Unknown error: check the logs for the technical error
//
// Typed errors are matched first with errors.Is / errors.As. Anything else
// falls through to case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgStorage = UserMessage{
		Message: "A database operation failed",
		Action:  "Check database connectivity and retry the run with --resume",
		Code:    "DB001",
	}
	msgGateAborted = UserMessage{
		Message: "The quality gate aborted the run",
		Action:  "Review the quality report, or rerun in permissive mode",
		Code:    "DQ001",
	}
	msgUnknownRule = UserMessage{
		Message: "The rule document names an unsupported rule type",
		Action:  "Use required, enum, range, non_negative, date_format or unique_key",
		Code:    "DQ002",
	}
	msgValidation = UserMessage{
		Message: "A row failed a data quality rule",
		Action:  "Review the quality report for the failing rows",
		Code:    "DQ003",
	}
	msgSchemaConflict = UserMessage{
		Message: "A source column conflicts with the staging table",
		Action:  "Rename the column in the source file or fix the staging table",
		Code:    "STG001",
	}
	msgUnknownTable = UserMessage{
		Message: "Unknown table",
		Action:  "Use one of the registered tables",
		Code:    "STG002",
	}
	msgCoercion = UserMessage{
		Message: "A staged value could not be converted to its declared type",
		Action:  "Correct the value in the source file and rerun the date",
		Code:    "CLN001",
	}
	msgRunInProgress = UserMessage{
		Message: "Another run is in progress for this run date",
		Action:  "Wait for it to finish before starting a new run",
		Code:    "RUN001",
	}
	msgTooManyRuns = UserMessage{
		Message: "The pipeline is busy with other runs",
		Action:  "Please wait a moment and try again",
		Code:    "RUN002",
	}
	msgRunNotFound = UserMessage{
		Message: "Run not found",
		Action:  "Check the batch id",
		Code:    "RUN003",
	}
	msgCancelled = UserMessage{
		Message: "The run was cancelled",
		Action:  "Resume it with its batch id",
		Code:    "RUN004",
	}
	msgTimeout = UserMessage{
		Message: "The run timed out",
		Action:  "Resume it with its batch id or raise the run timeout",
		Code:    "RUN005",
	}
)

// errorPattern defines a pattern to match and its corresponding message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that arrive untyped, mostly from drivers.
// Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "The database is busy",
			Action:  "Retry the run; raise DB_BUSY_TIMEOUT if this repeats",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check the table for a unique constraint added outside the pipeline",
			Code:    "DB005",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check the table for a unique constraint added outside the pipeline",
			Code:    "DB005",
		},
	},
	{
		pattern: "invalid rule document",
		msg: UserMessage{
			Message: "The rule document could not be parsed",
			Action:  "Fix the JSON in the data quality schema file",
			Code:    "DQ004",
		},
	},
	{
		pattern: "invalid run date",
		msg: UserMessage{
			Message: "Invalid run date",
			Action:  "Use the YYYY-MM-DD format",
			Code:    "RUN006",
		},
	},
	{
		pattern: "invalid gate mode",
		msg: UserMessage{
			Message: "Invalid gate mode",
			Action:  "Use strict, permissive or audit-only",
			Code:    "RUN007",
		},
	},
	{
		pattern: "timeout",
		msg:     msgTimeout,
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the pipeline logs for details",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message. Typed errors are
// checked before the driver patterns so a wrapped cause does not hide the
// pipeline stage it came from.
//
//	msg := MapError(err)
//	// msg.Code == "RUN001" for a locked run date
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		conflict   *SchemaEvolutionConflict
		coercion   *CoercionFailure
		validation ValidationFailure
		storage    *StorageFailure
	)
	switch {
	case errors.Is(err, ErrRunInProgress):
		return msgRunInProgress
	case errors.Is(err, ErrTooManyRuns):
		return msgTooManyRuns
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound
	case errors.Is(err, ErrGateAborted):
		return msgGateAborted
	case errors.Is(err, ErrUnknownRule):
		return msgUnknownRule
	case errors.Is(err, ErrUnknownTable):
		return msgUnknownTable
	case errors.As(err, &conflict):
		return msgSchemaConflict
	case errors.As(err, &coercion):
		return msgCoercion
	case errors.As(err, &validation):
		return msgValidation
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.As(err, &storage) {
		return msgStorage
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its operator-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err; nil stays nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
