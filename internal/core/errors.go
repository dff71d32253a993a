package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the pipeline.
var (
	// ErrGateAborted is returned when strict gate mode stops a run.
	ErrGateAborted = errors.New("quality gate aborted run")

	// ErrRunInProgress is returned when another run holds the lock for the run date.
	ErrRunInProgress = errors.New("run already in progress for run date")

	// ErrUnknownTable is returned for a table that is not registered.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownRule is returned by the rule loader for an unknown rule type.
	ErrUnknownRule = errors.New("unknown rule type")

	// ErrRunNotFound is returned when a batch id has no audit record.
	ErrRunNotFound = errors.New("run not found")
)

// ValidationFailure is one failing rule instance for one row.
// It is reported, never raised, unless the gate turns it into an abort.
type ValidationFailure struct {
	Rule          string `json:"rule"`
	RowIdentifier string `json:"row_identifier"`
	Detail        string `json:"detail"`
}

func (f ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed: %s at %s: %s", f.Rule, f.RowIdentifier, f.Detail)
}

// SchemaEvolutionConflict is fatal to staging of one table only.
type SchemaEvolutionConflict struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaEvolutionConflict) Error() string {
	return fmt.Sprintf("schema conflict on %s.%s: %s", e.Table, e.Column, e.Reason)
}

// CoercionFailure records a staged row that could not be typed for the clean table.
type CoercionFailure struct {
	Table  string `json:"table"`
	Key    string `json:"key,omitempty"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (e *CoercionFailure) Error() string {
	return fmt.Sprintf("coercion failed for %s.%s value %q: %s", e.Table, e.Column, e.Value, e.Reason)
}

// StorageFailure wraps an error from the persistence layer.
type StorageFailure struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageFailure) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage failure during %s on %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageFailure) Unwrap() error {
	return e.Err
}

// storageErr wraps err as a StorageFailure unless it already is one.
func storageErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var sf *StorageFailure
	if errors.As(err, &sf) {
		return err
	}
	return &StorageFailure{Op: op, Table: table, Err: err}
}

// IsStorageFailure reports whether err is or wraps a StorageFailure.
func IsStorageFailure(err error) bool {
	var sf *StorageFailure
	return errors.As(err, &sf)
}

// IsSchemaConflict reports whether err is or wraps a SchemaEvolutionConflict.
func IsSchemaConflict(err error) bool {
	var sc *SchemaEvolutionConflict
	return errors.As(err, &sc)
}
