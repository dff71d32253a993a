package core

import (
	"fmt"
	"strings"
)

// GateMode decides what validation failures do to a run.
type GateMode string

const (
	// GateStrict aborts the run on any failed row or ERROR issue.
	GateStrict GateMode = "strict"
	// GatePermissive stages only rows that passed every rule.
	GatePermissive GateMode = "permissive"
	// GateAuditOnly stages every row and only reports failures.
	GateAuditOnly GateMode = "audit-only"
)

// ParseGateMode accepts the mode names case-insensitively; "audit_only" is
// accepted as a spelling of audit-only.
func ParseGateMode(s string) (GateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return GateStrict, nil
	case "permissive", "":
		return GatePermissive, nil
	case "audit-only", "audit_only", "audit":
		return GateAuditOnly, nil
	default:
		return "", fmt.Errorf("invalid gate mode %q (want strict, permissive or audit-only)", s)
	}
}

func (m GateMode) String() string { return string(m) }

// GateDecision is the result of applying a gate to one validated table.
type GateDecision struct {
	Table    string
	Admitted []*RawRecord
	Excluded int
}

// Apply decides which rows of every table proceed to staging.
// In strict mode any failure returns ErrGateAborted and no decisions.
// Tables with an ERROR issue (no file) have nothing to admit and are skipped.
func (m GateMode) Apply(report *RunReport, batches map[string][]*RawRecord) ([]GateDecision, error) {
	names := report.TableNames()

	if m == GateStrict {
		var failing []string
		for _, name := range names {
			if !report.Tables[name].Passed() {
				failing = append(failing, name)
			}
		}
		if len(failing) > 0 {
			return nil, fmt.Errorf("%w: failures in %s", ErrGateAborted, strings.Join(failing, ", "))
		}
	}

	decisions := make([]GateDecision, 0, len(names))
	for _, name := range names {
		t := report.Tables[name]
		rows := batches[name]
		if t.HasErrors() && len(rows) == 0 {
			continue
		}

		d := GateDecision{Table: name}
		switch m {
		case GatePermissive:
			passed, failed := t.Partition(rows)
			d.Admitted = passed
			d.Excluded = len(failed)
		case GateAuditOnly, GateStrict:
			d.Admitted = rows
		default:
			return nil, fmt.Errorf("invalid gate mode %q", string(m))
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
