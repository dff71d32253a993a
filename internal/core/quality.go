package core

// quality.go evaluates a batch of raw records against a table's rules.
//
// Validation happens at two levels:
//  1. Record rules (required, enum, range, non_negative, date_format) look at
//     one record at a time and run in parallel over chunks of the batch.
//  2. Batch rules (unique_key) group the whole batch and run afterwards.
//
// The engine never mutates its input. Each worker owns a disjoint slice of the
// outcome array, so merging is plain concatenation and the aggregate counts do
// not depend on scheduling.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default parallelism for record evaluation.
const DefaultWorkers = 4

// minChunk keeps tiny batches on a single goroutine.
const minChunk = 256

// RuleResult is the result of one rule on one record.
type RuleResult struct {
	Rule   string
	Passed bool
	Detail string
}

// RecordOutcome is every rule result for one record.
type RecordOutcome struct {
	RowIdentifier string
	Results       []RuleResult
}

// Passed reports whether every rule passed.
func (o RecordOutcome) Passed() bool {
	for _, r := range o.Results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// QualityEngine validates record batches.
type QualityEngine struct {
	workers int
}

// NewQualityEngine creates an engine that evaluates records on up to workers goroutines.
func NewQualityEngine(workers int) *QualityEngine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &QualityEngine{workers: workers}
}

// Validate evaluates rows against the catalogue's rules for table.
func (e *QualityEngine) Validate(ctx context.Context, table string, rows []*RawRecord, rules RuleCatalogue) (*TableReport, error) {
	start := time.Now()
	tableRules := rules.For(table)

	recordRules, batchRules, err := splitRules(tableRules)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		described := make([]string, len(tableRules))
		for i, r := range tableRules {
			described[i] = describeRule(r)
		}
		slog.DebugContext(ctx, "validating table", "table", table, "rows", len(rows), "rules", described)
	}

	outcomes := make([]RecordOutcome, len(rows))
	if err := e.evaluateRecords(ctx, rows, recordRules, outcomes); err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}
	for _, uk := range batchRules {
		applyUniqueKey(uk, rows, outcomes)
	}

	report := newTableReport(table, outcomes)
	if !rules.Has(table) {
		report.addIssue("table_in_schema", SeverityError, "no rules declared for table")
	}
	if extra := extraColumns(rows, tableRules); len(extra) > 0 {
		report.addIssue("extra_columns_present", SeverityInfo, strings.Join(extra, ", "))
	}
	report.Duration = time.Since(start)

	return report, nil
}

// splitRules separates per-record rules from batch rules.
func splitRules(rules []Rule) (record []Rule, batch []UniqueKey, err error) {
	for _, r := range rules {
		switch rule := r.(type) {
		case RequiredColumns, EnumConstraint, RangeConstraint, NonNegative, DateFormat:
			record = append(record, r)
		case UniqueKey:
			batch = append(batch, rule)
		default:
			return nil, nil, fmt.Errorf("%w %T", ErrUnknownRule, r)
		}
	}
	return record, batch, nil
}

// evaluateRecords fills outcomes[i] for rows[i], fanning out over chunks.
func (e *QualityEngine) evaluateRecords(ctx context.Context, rows []*RawRecord, rules []Rule, outcomes []RecordOutcome) error {
	chunk := (len(rows) + e.workers - 1) / e.workers
	if chunk < minChunk {
		chunk = minChunk
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for lo := 0; lo < len(rows); lo += chunk {
		lo := lo
		hi := min(lo+chunk, len(rows))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out := RecordOutcome{
					RowIdentifier: rows[i].ID(),
					Results:       make([]RuleResult, 0, len(rules)),
				}
				for _, r := range rules {
					res, err := evaluateRecord(r, rows[i])
					if err != nil {
						return err
					}
					out.Results = append(out.Results, res)
				}
				outcomes[i] = out
			}
			return nil
		})
	}

	return g.Wait()
}

// evaluateRecord applies one record-level rule.
func evaluateRecord(r Rule, rec *RawRecord) (RuleResult, error) {
	res := RuleResult{Rule: r.Name(), Passed: true}

	switch rule := r.(type) {
	case RequiredColumns:
		var missing, empty []string
		for _, col := range rule.Cols {
			v, ok := rec.Get(col)
			if !ok {
				missing = append(missing, col)
				continue
			}
			if _, null := textOf(v); null {
				empty = append(empty, col)
			}
		}
		if len(missing) > 0 || len(empty) > 0 {
			res.Passed = false
			res.Detail = requiredDetail(missing, empty)
		}

	case EnumConstraint:
		v, _ := rec.Get(rule.Column)
		s, null := textOf(v)
		if null {
			break
		}
		if !contains(rule.Allowed, s) {
			res.Passed = false
			res.Detail = fmt.Sprintf("value %q not in {%s}", s, strings.Join(rule.Allowed, ", "))
		}

	case RangeConstraint:
		res.Passed, res.Detail = checkRange(rec, rule.Column, rule.Min, rule.Max)

	case NonNegative:
		lo, hi := rule.Bounds()
		res.Passed, res.Detail = checkRange(rec, rule.Column, lo, hi)

	case DateFormat:
		v, _ := rec.Get(rule.Column)
		s, null := textOf(v)
		if null {
			break
		}
		if _, err := time.Parse(rule.Layout, s); err != nil {
			res.Passed = false
			res.Detail = fmt.Sprintf("invalid date %q for layout %s", s, rule.Layout)
		}

	case UniqueKey:
		return res, fmt.Errorf("unique_key is a batch rule")

	default:
		return res, fmt.Errorf("%w %T", ErrUnknownRule, r)
	}

	return res, nil
}

func checkRange(rec *RawRecord, col string, lo, hi *float64) (bool, string) {
	v, _ := rec.Get(col)
	s, null := textOf(v)
	if null {
		return true, ""
	}

	f, err := numericValue(s)
	if err != nil {
		return false, fmt.Sprintf("type mismatch: %q is not numeric", s)
	}
	if lo != nil && f < *lo {
		return false, fmt.Sprintf("value %v below minimum %v", f, *lo)
	}
	if hi != nil && f > *hi {
		return false, fmt.Sprintf("value %v above maximum %v", f, *hi)
	}
	return true, ""
}

// applyUniqueKey appends the unique_key result to every outcome. Records with
// a null key component pass; presence is the job of RequiredColumns.
func applyUniqueKey(rule UniqueKey, rows []*RawRecord, outcomes []RecordOutcome) {
	groups := make(map[string][]int)
	keys := make([]string, len(rows))
	for i, rec := range rows {
		key, ok := keyOf(rec, rule.Cols)
		if !ok {
			continue
		}
		keys[i] = key
		groups[key] = append(groups[key], i)
	}

	name := rule.Name()
	for i := range rows {
		res := RuleResult{Rule: name, Passed: true}
		if members := groups[keys[i]]; keys[i] != "" && len(members) > 1 {
			ids := make([]string, len(members))
			for j, m := range members {
				ids[j] = rows[m].ID()
			}
			res.Passed = false
			res.Detail = fmt.Sprintf("duplicate key (%s) in rows %s", displayKey(keys[i]), strings.Join(ids, ", "))
		}
		outcomes[i].Results = append(outcomes[i].Results, res)
	}
}

// extraColumns lists source columns no required rule mentions. Without a
// required rule there is no expected header and nothing is reported.
func extraColumns(rows []*RawRecord, rules []Rule) []string {
	expected := make(map[string]bool)
	hasRequired := false
	for _, r := range rules {
		if req, ok := r.(RequiredColumns); ok {
			hasRequired = true
			for _, c := range req.Cols {
				expected[c] = true
			}
		}
	}
	if !hasRequired {
		return nil
	}

	seen := make(map[string]bool)
	var extra []string
	for _, rec := range rows {
		for _, c := range rec.Columns() {
			if !expected[c] && !seen[c] {
				seen[c] = true
				extra = append(extra, c)
			}
		}
	}
	sort.Strings(extra)
	return extra
}

func requiredDetail(missing, empty []string) string {
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing column "+strings.Join(missing, ", "))
	}
	if len(empty) > 0 {
		parts = append(parts, "null value in "+strings.Join(empty, ", "))
	}
	return strings.Join(parts, "; ")
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
