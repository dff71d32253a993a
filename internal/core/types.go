package core

import (
	"strings"
	"time"
)

// FieldType is the declared business type of a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldInteger
	FieldDecimal
	FieldBool
)

func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldInteger:
		return "integer"
	case FieldDecimal:
		return "decimal"
	case FieldBool:
		return "bool"
	default:
		return "string"
	}
}

// FieldSpec describes one business column of an entity.
type FieldSpec struct {
	Name       string              // Column name as it appears in the source file (lower case)
	Type       FieldType           // Declared business type
	Required   bool                // Coercion failure rejects the row instead of storing NULL
	EnumValues []string            // Allowed values for FieldEnum
	Normalizer func(string) string // Optional transformation applied before coercion
}

// TableInfo contains descriptive information about an entity.
type TableInfo struct {
	Key         string   // Entity name: "applications"
	Label       string   // Display name: "Applications"
	FileName    string   // Source file inside the run directory: "applications.csv"
	Order       int      // Position in the pipeline
	BusinessKey []string // Natural key used for dedup
	Columns     []string // Business column names
}

// TableDefinition contains everything the pipeline needs to process an entity.
type TableDefinition struct {
	Info       TableInfo
	FieldSpecs []FieldSpec
}

// StagingTable is the name of the append-only staging table.
func (t TableDefinition) StagingTable() string { return "stg_" + t.Info.Key }

// CleanTable is the name of the deduplicated, typed table.
func (t TableDefinition) CleanTable() string { return "clean_" + t.Info.Key }

// Spec returns the field spec for a column.
func (t TableDefinition) Spec(name string) (FieldSpec, bool) {
	for _, s := range t.FieldSpecs {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return FieldSpec{}, false
}

// IsKey reports whether col is part of the business key.
func (t TableDefinition) IsKey(col string) bool {
	for _, k := range t.Info.BusinessKey {
		if strings.EqualFold(k, col) {
			return true
		}
	}
	return false
}

// Metadata columns stamped on every staged and clean row.
const (
	ColRunDate    = "_run_date"
	ColSourceFile = "_source_file"
	ColIngestedAt = "_ingested_at"
	ColBatchID    = "_batch_id"

	// colStageSeq is the storage-level insertion sequence of staging tables.
	colStageSeq = "_stg_seq"
)

// MetadataColumns in the order they are written.
var MetadataColumns = []string{ColRunDate, ColSourceFile, ColIngestedAt, ColBatchID}

// RunDateLayout is the format of run dates and of directory partitions.
const RunDateLayout = "2006-01-02"

// TimestampLayout is a fixed-width UTC layout so text ordering matches time ordering.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RawRecord is one source row: an ordered mapping from column name to an
// untyped scalar (string, number or nil).
type RawRecord struct {
	Table      string
	SourceFile string
	Line       int

	columns []string
	values  map[string]any
}

// NewRawRecord creates an empty record for a table and source location.
func NewRawRecord(table, sourceFile string, line int) *RawRecord {
	return &RawRecord{
		Table:      table,
		SourceFile: sourceFile,
		Line:       line,
		values:     make(map[string]any),
	}
}

// Set assigns a column value, appending the column on first use.
func (r *RawRecord) Set(col string, v any) *RawRecord {
	if _, ok := r.values[col]; !ok {
		r.columns = append(r.columns, col)
	}
	r.values[col] = v
	return r
}

// Get returns the value of col and whether the column is present.
func (r *RawRecord) Get(col string) (any, bool) {
	v, ok := r.values[col]
	return v, ok
}

// Columns returns the column names in source order.
func (r *RawRecord) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// ID identifies the row in reports: "<file>:<line>".
func (r *RawRecord) ID() string {
	name := baseName(r.SourceFile)
	if name == "" {
		name = r.Table
	}
	return name + ":" + itoa(r.Line)
}

// baseName strips any directory from a source path, whichever separator it uses.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// StagedRow is a raw record plus the ingestion metadata stamped by the caller.
type StagedRow struct {
	Record     *RawRecord
	RunDate    string
	SourceFile string
	IngestedAt time.Time
	BatchID    string
}

// RunStamp is the metadata shared by every row of one run.
type RunStamp struct {
	RunDate    string
	BatchID    string
	IngestedAt time.Time
}

// Stamp attaches run metadata to records.
func Stamp(records []*RawRecord, stamp RunStamp) []StagedRow {
	rows := make([]StagedRow, len(records))
	for i, rec := range records {
		rows[i] = StagedRow{
			Record:     rec,
			RunDate:    stamp.RunDate,
			SourceFile: baseName(rec.SourceFile),
			IngestedAt: stamp.IngestedAt,
			BatchID:    stamp.BatchID,
		}
	}
	return rows
}

// LoadResult is the outcome of one staging append.
type LoadResult struct {
	Table        string   `json:"table"`
	RowsWritten  int      `json:"rows_written"`
	ColumnsAdded []string `json:"columns_added,omitempty"`
}

// CleanLoadResult is the outcome of cleaning one table for one run date.
type CleanLoadResult struct {
	Table               string            `json:"table"`
	RunDate             string            `json:"run_date"`
	RowsRead            int               `json:"rows_read"`
	RecordsWritten      int               `json:"records_written"`
	DuplicatesCollapsed int               `json:"duplicates_collapsed"`
	Rejected            int               `json:"rejected"`
	Rejections          []CoercionFailure `json:"rejections,omitempty"`
}

// RunState is the position of a run in its lifecycle.
type RunState string

const (
	StatePending   RunState = "pending"
	StateGenerated RunState = "generated"
	StateValidated RunState = "validated"
	StateStaged    RunState = "staged"
	StateCleaned   RunState = "cleaned"
)

// RunStatus is the final outcome of a run.
type RunStatus string

const (
	StatusRunning    RunStatus = "running"
	StatusSucceeded  RunStatus = "succeeded"
	StatusPartial    RunStatus = "partial"
	StatusFailed     RunStatus = "failed"
	StatusRolledBack RunStatus = "rolled_back"
)

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
