package core

// rules.go defines the closed set of validation rules.
//
// Rule is sealed: only the six types in this file implement it, and every
// evaluator switches over them explicitly with a default that reports
// ErrUnknownRule. Adding a rule kind means touching each switch.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RuleKind is the discriminator used in rule documents.
type RuleKind string

const (
	KindRequired    RuleKind = "required"
	KindEnum        RuleKind = "enum"
	KindRange       RuleKind = "range"
	KindNonNegative RuleKind = "non_negative"
	KindDateFormat  RuleKind = "date_format"
	KindUniqueKey   RuleKind = "unique_key"
)

// Rule is one declarative validation rule.
type Rule interface {
	Kind() RuleKind
	// Name identifies the rule instance in reports, e.g. "range(bureau_score)".
	Name() string
	// Columns lists the columns the rule reads.
	Columns() []string
	sealed()
}

// RequiredColumns fails a record where any listed column is absent or null.
type RequiredColumns struct {
	Cols []string
}

// EnumConstraint fails a non-null value outside the allowed set.
type EnumConstraint struct {
	Column  string
	Allowed []string
}

// RangeConstraint fails a numeric value outside [Min, Max]. Either bound may be nil.
type RangeConstraint struct {
	Column string
	Min    *float64
	Max    *float64
}

// NonNegative is RangeConstraint with Min = 0.
type NonNegative struct {
	Column string
}

// DateFormat fails a value that does not parse with Layout (a Go time layout).
type DateFormat struct {
	Column string
	Layout string
}

// UniqueKey fails every record whose key tuple occurs more than once in the batch.
type UniqueKey struct {
	Cols []string
}

func (RequiredColumns) Kind() RuleKind { return KindRequired }
func (EnumConstraint) Kind() RuleKind  { return KindEnum }
func (RangeConstraint) Kind() RuleKind { return KindRange }
func (NonNegative) Kind() RuleKind     { return KindNonNegative }
func (DateFormat) Kind() RuleKind      { return KindDateFormat }
func (UniqueKey) Kind() RuleKind       { return KindUniqueKey }

func (r RequiredColumns) Name() string { return ruleName(KindRequired, r.Cols...) }
func (r EnumConstraint) Name() string  { return ruleName(KindEnum, r.Column) }
func (r RangeConstraint) Name() string { return ruleName(KindRange, r.Column) }
func (r NonNegative) Name() string     { return ruleName(KindNonNegative, r.Column) }
func (r DateFormat) Name() string      { return ruleName(KindDateFormat, r.Column) }
func (r UniqueKey) Name() string       { return ruleName(KindUniqueKey, r.Cols...) }

func (r RequiredColumns) Columns() []string { return r.Cols }
func (r EnumConstraint) Columns() []string  { return []string{r.Column} }
func (r RangeConstraint) Columns() []string { return []string{r.Column} }
func (r NonNegative) Columns() []string     { return []string{r.Column} }
func (r DateFormat) Columns() []string      { return []string{r.Column} }
func (r UniqueKey) Columns() []string       { return r.Cols }

func (RequiredColumns) sealed() {}
func (EnumConstraint) sealed()  {}
func (RangeConstraint) sealed() {}
func (NonNegative) sealed()     {}
func (DateFormat) sealed()      {}
func (UniqueKey) sealed()       {}

func ruleName(kind RuleKind, cols ...string) string {
	return string(kind) + "(" + strings.Join(cols, ",") + ")"
}

// Bounds returns the effective bounds of a range-like rule.
func (r RangeConstraint) Bounds() (lo, hi *float64) { return r.Min, r.Max }

// Bounds returns the effective bounds of a range-like rule.
func (r NonNegative) Bounds() (lo, hi *float64) { return Float(0), nil }

// Float returns a pointer to f, for building range bounds.
func Float(f float64) *float64 { return &f }

// RuleCatalogue maps table name to its ordered rules. It is immutable once built.
type RuleCatalogue struct {
	rules map[string][]Rule
}

// NewRuleCatalogue builds a catalogue, copying the input.
func NewRuleCatalogue(rules map[string][]Rule) RuleCatalogue {
	c := RuleCatalogue{rules: make(map[string][]Rule, len(rules))}
	for t, rs := range rules {
		c.rules[t] = append([]Rule(nil), rs...)
	}
	return c
}

// For returns a copy of the rules for table.
func (c RuleCatalogue) For(table string) []Rule {
	return append([]Rule(nil), c.rules[table]...)
}

// Has reports whether the catalogue declares table.
func (c RuleCatalogue) Has(table string) bool {
	_, ok := c.rules[table]
	return ok
}

// Tables returns the declared table names, sorted.
func (c RuleCatalogue) Tables() []string {
	out := make([]string, 0, len(c.rules))
	for t := range c.rules {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of rules.
func (c RuleCatalogue) Len() int {
	n := 0
	for _, rs := range c.rules {
		n += len(rs)
	}
	return n
}

// With returns a new catalogue with extra rules appended to table.
func (c RuleCatalogue) With(table string, extra ...Rule) RuleCatalogue {
	next := NewRuleCatalogue(c.rules)
	next.rules[table] = append(next.rules[table], extra...)
	return next
}

// describeRule renders a rule's parameters for logs.
func describeRule(r Rule) string {
	switch rule := r.(type) {
	case RequiredColumns:
		return "required " + strings.Join(rule.Cols, ", ")
	case EnumConstraint:
		return fmt.Sprintf("%s in {%s}", rule.Column, strings.Join(rule.Allowed, ", "))
	case RangeConstraint:
		return fmt.Sprintf("%s in [%s, %s]", rule.Column, boundString(rule.Min, "-inf"), boundString(rule.Max, "+inf"))
	case NonNegative:
		return rule.Column + " >= 0"
	case DateFormat:
		return fmt.Sprintf("%s matches %s", rule.Column, rule.Layout)
	case UniqueKey:
		return "unique " + strings.Join(rule.Cols, ", ")
	default:
		return fmt.Sprintf("%T", r)
	}
}

func boundString(b *float64, open string) string {
	if b == nil {
		return open
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

// strftimeTokens maps the strftime directives used in rule documents to Go layouts.
var strftimeTokens = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'H': "15", 'I': "03",
	'M': "04", 'S': "05", 'p': "PM", 'b': "Jan", 'B': "January",
	'a': "Mon", 'A': "Monday", 'f': "000000", 'z': "-0700", 'Z': "MST",
	'j': "002", '%': "%",
}

// DateLayout converts a pattern to a Go time layout. Patterns containing '%'
// are read as strftime; anything else is taken as a Go layout already.
func DateLayout(pattern string) (string, error) {
	if pattern == "" {
		return RunDateLayout, nil
	}
	if !strings.Contains(pattern, "%") {
		return pattern, nil
	}

	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			b.WriteByte(pattern[i])
			continue
		}
		if i+1 >= len(pattern) {
			return "", fmt.Errorf("date pattern %q ends with %%", pattern)
		}
		tok, ok := strftimeTokens[pattern[i+1]]
		if !ok {
			return "", fmt.Errorf("date pattern %q: unsupported directive %%%c", pattern, pattern[i+1])
		}
		b.WriteString(tok)
		i++
	}
	return b.String(), nil
}
