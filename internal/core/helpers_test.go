package core

import "testing"

func TestNormalizeColumn(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"application_id", "application_id"},
		{"  Application_ID ", "application_id"},
		{"Bureau Score", "bureau_score"},
		{"days-past-due", "days_past_due"},
		{`="amount"`, "amount"},
		{"Promo Code (2024)", "promo_code_2024"},
		{"(2024) promo", "col_2024_promo"},
		{"Amount ($)", "amount"},
		{"rate%/yr", "rate_yr"},
		{"2col", "col_2col"},
		{"???", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeColumn(tt.input); got != tt.want {
			t.Errorf("NormalizeColumn(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if got := NormalizeColumn(tt.input); got != "" && !validIdentifier(got) {
			t.Errorf("NormalizeColumn(%q) = %q, not a valid identifier", tt.input, got)
		}
	}
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"amount", true},
		{"_batch_id", true},
		{"col2", true},
		{"2col", false},
		{"Amount", false},
		{"drop table", false},
		{"a;b", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := validIdentifier(tt.name); got != tt.want {
			t.Errorf("validIdentifier(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsReservedColumn(t *testing.T) {
	for _, c := range MetadataColumns {
		if !isReservedColumn(c) {
			t.Errorf("isReservedColumn(%q) = false, want true", c)
		}
	}
	if isReservedColumn("amount") {
		t.Error("isReservedColumn(amount) = true, want false")
	}
}

func TestKeyOf(t *testing.T) {
	rec := NewRawRecord("t", "t.csv", 2).Set("a", "x").Set("b", 7).Set("c", nil)

	key, ok := keyOf(rec, []string{"a", "b"})
	if !ok {
		t.Fatal("keyOf(a,b) reported null")
	}
	if got := displayKey(key); got != "x, 7" {
		t.Errorf("displayKey = %q, want %q", got, "x, 7")
	}

	if _, ok := keyOf(rec, []string{"a", "c"}); ok {
		t.Error("keyOf with null component should report false")
	}
	if _, ok := keyOf(rec, []string{"missing"}); ok {
		t.Error("keyOf with absent column should report false")
	}
}

func TestRawRecordID(t *testing.T) {
	rec := NewRawRecord("applications", "data/2024-01-15/applications.csv", 12)
	if got := rec.ID(); got != "applications.csv:12" {
		t.Errorf("ID() = %q, want %q", got, "applications.csv:12")
	}

	bare := NewRawRecord("accounts", "", 3)
	if got := bare.ID(); got != "accounts:3" {
		t.Errorf("ID() = %q, want %q", got, "accounts:3")
	}
}
