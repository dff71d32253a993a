package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// gateFixture validates 10 application rows of which the last fails.
func gateFixture(t *testing.T) (*RunReport, map[string][]*RawRecord) {
	t.Helper()
	cat := NewRuleCatalogue(map[string][]Rule{
		"applications": {RangeConstraint{Column: "bureau_score", Min: Float(300), Max: Float(850)}},
	})

	var rows []*RawRecord
	for i := 0; i < 10; i++ {
		score := "700"
		if i == 9 {
			score = "900"
		}
		rows = append(rows, rec("applications", i+2, "application_id", fmt.Sprintf("A%d", i), "bureau_score", score))
	}

	tr, err := NewQualityEngine(0).Validate(context.Background(), "applications", rows, cat)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	report := NewRunReport("2024-01-15", "b1", GatePermissive)
	report.Add(tr)
	report.Add(MissingFileReport("accounts", "accounts.csv"))
	return report, map[string][]*RawRecord{"applications": rows}
}

func TestGate_Apply(t *testing.T) {
	tests := []struct {
		mode         GateMode
		wantErr      error
		wantAdmitted int
		wantExcluded int
	}{
		{GateStrict, ErrGateAborted, 0, 0},
		{GatePermissive, nil, 9, 1},
		{GateAuditOnly, nil, 10, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			report, batches := gateFixture(t)
			decisions, err := tt.mode.Apply(report, batches)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if decisions != nil {
					t.Errorf("decisions = %v, want none on abort", decisions)
				}
				return
			}

			// accounts has no file and is skipped.
			if len(decisions) != 1 || decisions[0].Table != "applications" {
				t.Fatalf("decisions = %+v, want applications only", decisions)
			}
			if got := len(decisions[0].Admitted); got != tt.wantAdmitted {
				t.Errorf("admitted = %d, want %d", got, tt.wantAdmitted)
			}
			if decisions[0].Excluded != tt.wantExcluded {
				t.Errorf("excluded = %d, want %d", decisions[0].Excluded, tt.wantExcluded)
			}
		})
	}
}

func TestGate_StrictPassesCleanBatch(t *testing.T) {
	cat := NewRuleCatalogue(map[string][]Rule{
		"applications": {NonNegative{Column: "bureau_score"}},
	})
	rows := scores("1", "2")
	tr, err := NewQualityEngine(0).Validate(context.Background(), "applications", rows, cat)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	report := NewRunReport("2024-01-15", "b1", GateStrict)
	report.Add(tr)

	decisions, err := GateStrict.Apply(report, map[string][]*RawRecord{"applications": rows})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(decisions) != 1 || len(decisions[0].Admitted) != 2 {
		t.Errorf("decisions = %+v, want both rows admitted", decisions)
	}
}

func TestGate_TableWithoutRules(t *testing.T) {
	rows := scores("1", "2")
	tr, err := NewQualityEngine(0).Validate(context.Background(), "applications", rows, NewRuleCatalogue(nil))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	batches := map[string][]*RawRecord{"applications": rows}

	report := NewRunReport("2024-01-15", "b1", GateStrict)
	report.Add(tr)
	if _, err := GateStrict.Apply(report, batches); !errors.Is(err, ErrGateAborted) {
		t.Errorf("strict Apply() error = %v, want %v", err, ErrGateAborted)
	}

	decisions, err := GatePermissive.Apply(report, batches)
	if err != nil {
		t.Fatalf("permissive Apply: %v", err)
	}
	if len(decisions) != 1 || len(decisions[0].Admitted) != 2 || decisions[0].Excluded != 0 {
		t.Errorf("decisions = %+v, want both rows admitted", decisions)
	}
}

func TestParseGateMode(t *testing.T) {
	tests := []struct {
		in      string
		want    GateMode
		wantErr bool
	}{
		{"strict", GateStrict, false},
		{"PERMISSIVE", GatePermissive, false},
		{"", GatePermissive, false},
		{"audit-only", GateAuditOnly, false},
		{"audit_only", GateAuditOnly, false},
		{"lenient", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGateMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseGateMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGateMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
