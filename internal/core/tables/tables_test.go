package tables

import (
	"testing"

	"github.com/JonMunkholm/dailydrop/internal/core"
)

func TestRegisteredTables(t *testing.T) {
	want := []string{"applications", "accounts", "transactions", "payments", "delinquency"}
	got := core.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, def := range core.All() {
		for _, k := range def.Info.BusinessKey {
			spec, ok := def.Spec(k)
			if !ok {
				t.Errorf("%s: key column %s has no field spec", def.Info.Key, k)
				continue
			}
			if !spec.Required {
				t.Errorf("%s: key column %s should be required", def.Info.Key, k)
			}
		}
	}
}

func TestNormalizeFlag(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1", "1"},
		{"Yes", "1"},
		{" true ", "1"},
		{"N", "0"},
		{"false", "0"},
		{"maybe", "maybe"},
	}
	for _, tt := range tests {
		if got := NormalizeFlag(tt.in); got != tt.want {
			t.Errorf("NormalizeFlag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDaysPastDue(t *testing.T) {
	tests := []struct{ in, want string }{
		{"30", "30"},
		{"Current", "0"},
		{"60 days", "60"},
		{"90dpd", "90"},
		{"90+", "90"},
	}
	for _, tt := range tests {
		if got := NormalizeDaysPastDue(tt.in); got != tt.want {
			t.Errorf("NormalizeDaysPastDue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDelinquencyCoercion(t *testing.T) {
	def, ok := core.Get("delinquency")
	if !ok {
		t.Fatal("delinquency not registered")
	}
	spec, _ := def.Spec("default_flag")
	got, err := core.Coerce(spec, "yes")
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if got != int64(1) {
		t.Errorf("Coerce(default_flag, yes) = %v, want 1", got)
	}
}

func TestNormalizeID(t *testing.T) {
	if got := NormalizeID(" {abc-123} "); got != "abc-123" {
		t.Errorf("NormalizeID = %q, want abc-123", got)
	}
}
