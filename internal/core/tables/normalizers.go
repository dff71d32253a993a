package tables

import "strings"

// flagValues maps the spellings seen in flag columns to 0/1.
var flagValues = map[string]string{
	"1": "1", "true": "1", "t": "1", "yes": "1", "y": "1",
	"0": "0", "false": "0", "f": "0", "no": "0", "n": "0",
}

// NormalizeFlag converts yes/no style flags to "1" or "0".
// Unrecognized input is returned unchanged so coercion can reject it.
func NormalizeFlag(s string) string {
	if v, ok := flagValues[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v
	}
	return s
}

// NormalizeDaysPastDue accepts "current" for 0 and strips a "dpd" or
// "days" suffix, e.g. "30 days" or "60dpd".
func NormalizeDaysPastDue(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "current" {
		return "0"
	}
	for _, suffix := range []string{"days", "day", "dpd", "+"} {
		s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
	}
	return s
}

// NormalizeID trims braces and whitespace around identifiers exported by
// tools that wrap GUIDs, e.g. "{3f2b...}".
func NormalizeID(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "{}"))
}
