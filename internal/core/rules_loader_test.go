package core

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseRules_ListForm(t *testing.T) {
	doc := `{
	  "applications": [
	    {"type": "required", "columns": ["Application ID", "decision"]},
	    {"type": "enum", "column": "decision", "values": ["approved", "declined"]},
	    {"type": "range", "column": "bureau_score", "min": 300, "max": 850},
	    {"type": "unique_key", "columns": ["application_id"]}
	  ],
	  "payments": [
	    {"type": "non_negative", "column": "amount"},
	    {"type": "date_format", "column": "payment_date", "pattern": "%Y-%m-%d"},
	    {"type": "range", "column": "amount", "max": 10000}
	  ]
	}`

	cat, err := ParseRules([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	if got := cat.Tables(); !reflect.DeepEqual(got, []string{"applications", "payments"}) {
		t.Errorf("Tables() = %v", got)
	}
	if cat.Len() != 7 {
		t.Errorf("Len() = %d, want 7", cat.Len())
	}

	apps := cat.For("applications")
	req, ok := apps[0].(RequiredColumns)
	if !ok || !reflect.DeepEqual(req.Cols, []string{"application_id", "decision"}) {
		t.Errorf("rule 0 = %#v, want normalized required columns", apps[0])
	}
	rng, ok := apps[2].(RangeConstraint)
	if !ok || *rng.Min != 300 || *rng.Max != 850 {
		t.Errorf("rule 2 = %#v", apps[2])
	}

	pays := cat.For("payments")
	if df, ok := pays[1].(DateFormat); !ok || df.Layout != "2006-01-02" {
		t.Errorf("date rule = %#v, want Go layout", pays[1])
	}
	if r, ok := pays[2].(RangeConstraint); !ok || r.Min != nil || *r.Max != 10000 {
		t.Errorf("open range = %#v", pays[2])
	}
}

func TestParseRules_LegacyForm(t *testing.T) {
	doc := `{
	  "transactions": {
	    "required": ["transaction_id", "amount"],
	    "enums": {"channel": ["web", "branch"]},
	    "ranges": {"amount": [0, null]},
	    "non_negative": ["amount"],
	    "date_cols": ["transaction_date"],
	    "date_format": "%Y-%m-%d",
	    "dup_id_cols": ["transaction_id", "reference"]
	  }
	}`

	cat, err := ParseRules([]byte(doc))
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}

	var kinds []RuleKind
	for _, r := range cat.For("transactions") {
		kinds = append(kinds, r.Kind())
	}
	want := []RuleKind{KindRequired, KindEnum, KindRange, KindNonNegative, KindDateFormat, KindUniqueKey, KindUniqueKey}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}

	// Each dup_id_cols entry is its own key.
	rules := cat.For("transactions")
	if uk := rules[6].(UniqueKey); !reflect.DeepEqual(uk.Cols, []string{"reference"}) {
		t.Errorf("last unique key = %v", uk.Cols)
	}
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantIs  error
		wantMsg string
	}{
		{
			name:   "unknown rule type",
			doc:    `{"applications": [{"type": "regex", "column": "x"}]}`,
			wantIs: ErrUnknownRule,
		},
		{
			name:    "min greater than max",
			doc:     `{"applications": [{"type": "range", "column": "s", "min": 9, "max": 1}]}`,
			wantMsg: "table applications rule 0: range on s has min 9 > max 1",
		},
		{
			name:    "empty enum",
			doc:     `{"applications": [{"type": "enum", "column": "d", "values": []}]}`,
			wantMsg: "enum needs at least one value",
		},
		{
			name:    "missing column",
			doc:     `{"payments": [{"type": "non_negative"}]}`,
			wantMsg: "column is required",
		},
		{
			name:    "bad date directive",
			doc:     `{"payments": [{"type": "date_format", "column": "d", "pattern": "%Q"}]}`,
			wantMsg: "unsupported directive",
		},
		{
			name:    "not a list or object",
			doc:     `{"payments": 3}`,
			wantMsg: "must be a list or an object",
		},
		{
			name:    "invalid json",
			doc:     `{`,
			wantMsg: "invalid rule document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			if err == nil {
				t.Fatal("ParseRules() expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseRules_ReportsAllProblems(t *testing.T) {
	doc := `{
	  "a": [{"type": "regex"}],
	  "b": [{"type": "range", "column": "x"}]
	}`
	_, err := ParseRules([]byte(doc))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "table a rule 0") || !strings.Contains(err.Error(), "table b rule 0") {
		t.Errorf("error = %q, want both tables reported", err)
	}
	if !errors.Is(err, ErrUnknownRule) {
		t.Error("joined error should unwrap to ErrUnknownRule")
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(`{"payments": [{"type": "non_negative", "column": "amount"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if !cat.Has("payments") {
		t.Error("catalogue should have payments")
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadRules(missing) expected error")
	}
}

func TestRuleCatalogue_Immutable(t *testing.T) {
	cat := NewRuleCatalogue(map[string][]Rule{"payments": {NonNegative{Column: "amount"}}})

	rules := cat.For("payments")
	rules[0] = NonNegative{Column: "changed"}
	if got := cat.For("payments")[0].(NonNegative).Column; got != "amount" {
		t.Errorf("For() leaked internal slice: %s", got)
	}

	extended := cat.With("payments", UniqueKey{Cols: []string{"payment_id"}})
	if cat.Len() != 1 || extended.Len() != 2 {
		t.Errorf("Len() = %d/%d, want 1/2", cat.Len(), extended.Len())
	}
}

func TestDateLayout(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "2006-01-02", false},
		{"%Y-%m-%d", "2006-01-02", false},
		{"%d/%m/%Y %H:%M", "02/01/2006 15:04", false},
		{"2006-01-02", "2006-01-02", false},
		{"%Y-%", "", true},
	}
	for _, tt := range tests {
		got, err := DateLayout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DateLayout(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DateLayout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDescribeRule(t *testing.T) {
	tests := []struct {
		rule Rule
		want string
	}{
		{RequiredColumns{Cols: []string{"application_id", "decision"}}, "required application_id, decision"},
		{EnumConstraint{Column: "decision", Allowed: []string{"approved", "declined"}}, "decision in {approved, declined}"},
		{RangeConstraint{Column: "bureau_score", Min: Float(300), Max: Float(850)}, "bureau_score in [300, 850]"},
		{RangeConstraint{Column: "amount", Min: Float(0.5)}, "amount in [0.5, +inf]"},
		{NonNegative{Column: "amount"}, "amount >= 0"},
		{DateFormat{Column: "paid_on", Layout: RunDateLayout}, "paid_on matches 2006-01-02"},
		{UniqueKey{Cols: []string{"payment_id"}}, "unique payment_id"},
	}

	for _, tt := range tests {
		if got := describeRule(tt.rule); got != tt.want {
			t.Errorf("describeRule(%#v) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}
