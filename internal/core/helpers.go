package core

import (
	"regexp"
	"strings"
)

// identifierRegex is the set of column names the stores accept.
// Anything else would need quoting tricks that differ per engine.
var identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var (
	edgeJunkRegex  = regexp.MustCompile(`^_*[^a-z0-9_]+_*|_*[^a-z0-9_]+_*$`)
	innerJunkRegex = regexp.MustCompile(`_*[^a-z0-9_]+_*`)
)

// maxColumnName is the longest identifier every supported engine accepts.
const maxColumnName = 63

// NormalizeColumn turns a source header into a column name: cleaned,
// lower case, inner whitespace and dashes folded to underscores. Any other
// character outside [a-z0-9_] becomes an underscore, a leading digit gets a
// "col_" prefix and the result is cut to maxColumnName bytes, so a non-empty
// result is always a valid identifier.
func NormalizeColumn(header string) string {
	s := strings.ToLower(CleanCell(header))
	s = strings.Join(strings.Fields(s), "_")
	s = strings.ReplaceAll(s, "-", "_")
	if identifierRegex.MatchString(s) && len(s) <= maxColumnName {
		return s
	}

	s = edgeJunkRegex.ReplaceAllString(s, "")
	s = innerJunkRegex.ReplaceAllString(s, "_")
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "col_" + s
	}
	if len(s) > maxColumnName {
		s = strings.TrimRight(s[:maxColumnName], "_")
	}
	return s
}

// validIdentifier reports whether name can be used as a column name.
func validIdentifier(name string) bool {
	return len(name) <= maxColumnName && identifierRegex.MatchString(name)
}

// isReservedColumn reports whether name belongs to the pipeline rather than
// to the source data.
func isReservedColumn(name string) bool {
	switch name {
	case ColRunDate, ColSourceFile, ColIngestedAt, ColBatchID, colStageSeq:
		return true
	}
	return false
}

// keyOf joins the values of cols into one grouping key.
// The second result is false when any component is null.
func keyOf(rec *RawRecord, cols []string) (string, bool) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		v, _ := rec.Get(c)
		s, null := textOf(v)
		if null {
			return "", false
		}
		parts[i] = s
	}
	return strings.Join(parts, "\x1f"), true
}

// displayKey renders a grouping key for humans.
func displayKey(key string) string {
	return strings.ReplaceAll(key, "\x1f", ", ")
}
