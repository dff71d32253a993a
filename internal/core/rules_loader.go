package core

// rules_loader.go reads the data quality schema document.
//
// Two shapes are accepted per table. The list form carries one object per
// rule with a "type" discriminator:
//
//	{"applications": [
//	    {"type": "required", "columns": ["application_id", "decision"]},
//	    {"type": "enum", "column": "decision", "values": ["approved", "declined"]},
//	    {"type": "range", "column": "bureau_score", "min": 300, "max": 850},
//	    {"type": "non_negative", "column": "amount"},
//	    {"type": "date_format", "column": "activation_date", "pattern": "%Y-%m-%d"},
//	    {"type": "unique_key", "columns": ["application_id"]}
//	]}
//
// The object form is the older per-table layout with one key per check
// (required, enums, ranges, non_negative, date_cols, dup_id_cols). It is
// converted to the same rules; each dup_id_cols entry becomes its own
// unique_key rule.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cast"
)

type ruleDoc struct {
	Type    string   `json:"type"`
	Column  string   `json:"column"`
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Pattern string   `json:"pattern"`
}

type legacyTableDoc struct {
	Required    []string               `json:"required"`
	Enums       map[string][]any       `json:"enums"`
	Ranges      map[string][2]*float64 `json:"ranges"`
	NonNegative []string               `json:"non_negative"`
	DateCols    []string               `json:"date_cols"`
	DateFormat  string                 `json:"date_format"`
	DupIDCols   []string               `json:"dup_id_cols"`
}

// LoadRules reads and parses a rule document from path.
func LoadRules(path string) (RuleCatalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleCatalogue{}, fmt.Errorf("read rules: %w", err)
	}
	cat, err := ParseRules(data)
	if err != nil {
		return RuleCatalogue{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return cat, nil
}

// ParseRules parses a rule document. All problems are reported at once.
func ParseRules(data []byte) (RuleCatalogue, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return RuleCatalogue{}, fmt.Errorf("invalid rule document: %w", err)
	}

	tables := make([]string, 0, len(doc))
	for t := range doc {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	rules := make(map[string][]Rule, len(doc))
	var errs []error
	for _, table := range tables {
		raw := bytes.TrimSpace(doc[table])
		var (
			rs  []Rule
			err error
		)
		switch {
		case len(raw) > 0 && raw[0] == '[':
			rs, err = parseRuleList(table, raw)
		case len(raw) > 0 && raw[0] == '{':
			rs, err = parseLegacyTable(table, raw)
		default:
			err = fmt.Errorf("table %s: rules must be a list or an object", table)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules[table] = rs
	}

	if len(errs) > 0 {
		return RuleCatalogue{}, joinErrors(errs)
	}
	return NewRuleCatalogue(rules), nil
}

func parseRuleList(table string, raw []byte) ([]Rule, error) {
	var docs []ruleDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}

	rules := make([]Rule, 0, len(docs))
	var errs []error
	for i, d := range docs {
		r, err := d.toRule()
		if err != nil {
			errs = append(errs, fmt.Errorf("table %s rule %d: %w", table, i, err))
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return rules, nil
}

func (d ruleDoc) toRule() (Rule, error) {
	switch RuleKind(d.Type) {
	case KindRequired:
		cols, err := normalizeColumns(d.Columns)
		if err != nil {
			return nil, err
		}
		return RequiredColumns{Cols: cols}, nil

	case KindEnum:
		col, err := normalizeColumn(d.Column)
		if err != nil {
			return nil, err
		}
		allowed, err := enumValues(d.Values)
		if err != nil {
			return nil, err
		}
		return EnumConstraint{Column: col, Allowed: allowed}, nil

	case KindRange:
		col, err := normalizeColumn(d.Column)
		if err != nil {
			return nil, err
		}
		if d.Min == nil && d.Max == nil {
			return nil, fmt.Errorf("range on %s needs min or max", col)
		}
		if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
			return nil, fmt.Errorf("range on %s has min %v > max %v", col, *d.Min, *d.Max)
		}
		return RangeConstraint{Column: col, Min: d.Min, Max: d.Max}, nil

	case KindNonNegative:
		col, err := normalizeColumn(d.Column)
		if err != nil {
			return nil, err
		}
		return NonNegative{Column: col}, nil

	case KindDateFormat:
		col, err := normalizeColumn(d.Column)
		if err != nil {
			return nil, err
		}
		layout, err := DateLayout(d.Pattern)
		if err != nil {
			return nil, err
		}
		return DateFormat{Column: col, Layout: layout}, nil

	case KindUniqueKey:
		cols, err := normalizeColumns(d.Columns)
		if err != nil {
			return nil, err
		}
		return UniqueKey{Cols: cols}, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRule, d.Type)
	}
}

func parseLegacyTable(table string, raw []byte) ([]Rule, error) {
	var d legacyTableDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}

	var docs []ruleDoc
	if len(d.Required) > 0 {
		docs = append(docs, ruleDoc{Type: string(KindRequired), Columns: d.Required})
	}
	for _, col := range sortedKeys(d.Enums) {
		docs = append(docs, ruleDoc{Type: string(KindEnum), Column: col, Values: d.Enums[col]})
	}
	for _, col := range sortedKeys(d.Ranges) {
		bounds := d.Ranges[col]
		docs = append(docs, ruleDoc{Type: string(KindRange), Column: col, Min: bounds[0], Max: bounds[1]})
	}
	for _, col := range d.NonNegative {
		docs = append(docs, ruleDoc{Type: string(KindNonNegative), Column: col})
	}
	for _, col := range d.DateCols {
		docs = append(docs, ruleDoc{Type: string(KindDateFormat), Column: col, Pattern: d.DateFormat})
	}
	for _, col := range d.DupIDCols {
		docs = append(docs, ruleDoc{Type: string(KindUniqueKey), Columns: []string{col}})
	}

	rules := make([]Rule, 0, len(docs))
	var errs []error
	for _, rd := range docs {
		r, err := rd.toRule()
		if err != nil {
			errs = append(errs, fmt.Errorf("table %s %s: %w", table, rd.Type, err))
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return rules, nil
}

func normalizeColumn(col string) (string, error) {
	name := NormalizeColumn(col)
	if name == "" {
		return "", fmt.Errorf("column is required")
	}
	if !validIdentifier(name) {
		return "", fmt.Errorf("invalid column name %q", col)
	}
	return name, nil
}

func normalizeColumns(cols []string) ([]string, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("columns are required")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		n, err := normalizeColumn(c)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func enumValues(values []any) ([]string, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("enum needs at least one value")
	}
	out := make([]string, len(values))
	for i, v := range values {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("enum value %v: %w", v, err)
		}
		out[i] = s
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// joinErrors formats several errors the way config validation does.
func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "multiple errors:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return &multiError{msg: msg, errs: errs}
}

type multiError struct {
	msg  string
	errs []error
}

func (e *multiError) Error() string   { return e.msg }
func (e *multiError) Unwrap() []error { return e.errs }
