package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"time"
)

// Severity of a table-level issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// TableIssue is a finding about a table as a whole rather than about a row.
type TableIssue struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// TableReport aggregates the validation outcomes of one table.
type TableReport struct {
	Table             string              `json:"-"`
	RowsChecked       int                 `json:"rows_checked"`
	RowsPassed        int                 `json:"rows_passed"`
	RowsFailed        int                 `json:"rows_failed"`
	RuleFailureCounts map[string]int      `json:"rule_failure_counts"`
	Failures          []ValidationFailure `json:"failures"`
	Issues            []TableIssue        `json:"issues"`
	Duration          time.Duration       `json:"-"`

	// Outcomes is index-aligned with the validated rows.
	Outcomes []RecordOutcome `json:"-"`
}

func newTableReport(table string, outcomes []RecordOutcome) *TableReport {
	r := &TableReport{
		Table:             table,
		RowsChecked:       len(outcomes),
		RuleFailureCounts: make(map[string]int),
		Failures:          []ValidationFailure{},
		Issues:            []TableIssue{},
		Outcomes:          outcomes,
	}
	for _, o := range outcomes {
		if o.Passed() {
			r.RowsPassed++
			continue
		}
		r.RowsFailed++
		for _, res := range o.Results {
			if res.Passed {
				continue
			}
			r.RuleFailureCounts[res.Rule]++
			r.Failures = append(r.Failures, ValidationFailure{
				Rule:          res.Rule,
				RowIdentifier: o.RowIdentifier,
				Detail:        res.Detail,
			})
		}
	}
	return r
}

// MissingFileReport is the report of a table whose source file is absent.
func MissingFileReport(table, path string) *TableReport {
	r := newTableReport(table, nil)
	r.addIssue("file_exists", SeverityError, "missing source file "+path)
	return r
}

func (r *TableReport) addIssue(check string, sev Severity, detail string) {
	r.Issues = append(r.Issues, TableIssue{Check: check, Severity: sev, Detail: detail})
}

// HasErrors reports whether the table has an ERROR issue.
func (r *TableReport) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Passed reports whether no row failed and no ERROR issue was raised.
func (r *TableReport) Passed() bool {
	return r.RowsFailed == 0 && !r.HasErrors()
}

// Partition splits rows by outcome. rows must be the batch that was validated.
func (r *TableReport) Partition(rows []*RawRecord) (passed, failed []*RawRecord) {
	for i, rec := range rows {
		if i < len(r.Outcomes) && !r.Outcomes[i].Passed() {
			failed = append(failed, rec)
			continue
		}
		passed = append(passed, rec)
	}
	return passed, failed
}

// RunReport is the quality report of one run.
type RunReport struct {
	RunDate     string                  `json:"run_date"`
	BatchID     string                  `json:"batch_id"`
	GateMode    GateMode                `json:"gate_mode"`
	GeneratedAt time.Time               `json:"generated_at"`
	Passed      bool                    `json:"passed"`
	Tables      map[string]*TableReport `json:"tables"`
}

// NewRunReport creates an empty report for a run.
func NewRunReport(runDate, batchID string, mode GateMode) *RunReport {
	return &RunReport{
		RunDate:     runDate,
		BatchID:     batchID,
		GateMode:    mode,
		GeneratedAt: time.Now().UTC(),
		Passed:      true,
		Tables:      make(map[string]*TableReport),
	}
}

// Add records a table report and updates the overall verdict.
func (r *RunReport) Add(t *TableReport) {
	r.Tables[t.Table] = t
	if !t.Passed() {
		r.Passed = false
	}
}

// TableNames returns the reported tables, sorted.
func (r *RunReport) TableNames() []string {
	return sortedKeys(r.Tables)
}

// JSON renders the report document.
func (r *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// CSV renders one line per failure and per issue:
// table, rule, row_identifier, detail. Issues use "issue:<check>" as rule.
func (r *RunReport) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"table", "rule", "row_identifier", "detail"}); err != nil {
		return nil, err
	}

	for _, name := range r.TableNames() {
		t := r.Tables[name]
		for _, issue := range t.Issues {
			if err := w.Write([]string{name, "issue:" + issue.Check, "", string(issue.Severity) + " " + issue.Detail}); err != nil {
				return nil, err
			}
		}

		failures := append([]ValidationFailure(nil), t.Failures...)
		sort.SliceStable(failures, func(i, j int) bool {
			if failures[i].Rule != failures[j].Rule {
				return failures[i].Rule < failures[j].Rule
			}
			return failures[i].RowIdentifier < failures[j].RowIdentifier
		})
		for _, f := range failures {
			if err := w.Write([]string{name, f.Rule, f.RowIdentifier, f.Detail}); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReportFileName is the base name of a run's report, without extension.
func ReportFileName(runDate string) string {
	return "dq_report_" + runDate
}
