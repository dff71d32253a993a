package core

// convert.go turns staged text into business-typed values.
//
// Staged values are whatever the source file held, so the converters accept
// the usual mess: several date layouts, currency symbols and thousands
// separators in numbers, accounting negatives, yes/no booleans and Excel
// formula prefixes. The ToPg* helpers return pgtype values with Valid=false
// for empty or unparseable input; Coerce maps those onto the driver values
// written to the clean tables.

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/spf13/cast"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling.
// ISO comes first since that is what the daily drop files carry.
var (
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
)

var (
	errEmpty          = errors.New("required field is empty")
	errInvalidDate    = errors.New("invalid date")
	errInvalidNumber  = errors.New("invalid number")
	errInvalidInteger = errors.New("invalid number: not an integer")
	errInvalidBool    = errors.New("invalid boolean")
	errInvalidEnum    = errors.New("invalid enum value")
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a string to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with pivot.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: t, Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

// ToPgNumeric converts a string to pgtype.Numeric.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ToPgNumeric(s string) pgtype.Numeric {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ToPgBool converts a string to pgtype.Bool.
// Accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ToPgBool(s string) pgtype.Bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return pgtype.Bool{Bool: true, Valid: true}
	case "false", "f", "no", "n", "0":
		return pgtype.Bool{Bool: false, Valid: true}
	default:
		return pgtype.Bool{Valid: false}
	}
}

// Coerce converts a staged value to the value stored in the clean table for
// spec's declared type. A nil result with a nil error means NULL.
//
// Stored forms: text and enum as string, date as YYYY-MM-DD, integer and bool
// as int64, decimal as float64.
func Coerce(spec FieldSpec, raw any) (any, error) {
	s, null := textOf(raw)
	if null {
		return nil, nil
	}
	if spec.Normalizer != nil {
		s = spec.Normalizer(s)
	}

	switch spec.Type {
	case FieldText:
		v := ToPgText(s)
		if !v.Valid {
			return nil, nil
		}
		return v.String, nil

	case FieldEnum:
		for _, allowed := range spec.EnumValues {
			if strings.EqualFold(s, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("%w %q", errInvalidEnum, s)

	case FieldDate:
		d := ToPgDate(s)
		if !d.Valid {
			return nil, fmt.Errorf("%w %q", errInvalidDate, s)
		}
		return d.Time.Format(RunDateLayout), nil

	case FieldInteger:
		f, err := numericValue(s)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return nil, fmt.Errorf("%w %q", errInvalidInteger, s)
		}
		return int64(f), nil

	case FieldDecimal:
		return numericValue(s)

	case FieldBool:
		b := ToPgBool(s)
		if !b.Valid {
			return nil, fmt.Errorf("%w %q", errInvalidBool, s)
		}
		if b.Bool {
			return int64(1), nil
		}
		return int64(0), nil

	default:
		return nil, fmt.Errorf("unsupported field type %d", spec.Type)
	}
}

func numericValue(s string) (float64, error) {
	n := ToPgNumeric(s)
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("%w %q", errInvalidNumber, s)
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return 0, fmt.Errorf("%w %q", errInvalidNumber, s)
	}
	return f.Float64, nil
}

// textOf renders an untyped scalar as cleaned text. Empty text counts as null.
func textOf(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		s = fmt.Sprint(v)
	}
	s = CleanCell(s)
	return s, s == ""
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased for case-insensitive matching; the first occurrence wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := NormalizeColumn(h)
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
