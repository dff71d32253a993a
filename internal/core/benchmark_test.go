package core

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkToPgNumeric benchmarks numeric string conversion.
// This is a hot path during cleaning for amount columns.
func BenchmarkToPgNumeric(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"$1,234.56",
		"(123.45)",     // Accounting negative
		"1,234,567.89", // Thousands separators
		"  999.99  ",   // Whitespace
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ToPgNumeric(tc)
		}
	}
}

// BenchmarkToPgDate benchmarks date string parsing.
func BenchmarkToPgDate(b *testing.B) {
	testCases := []string{
		"2024-01-15",
		"01/15/2024",
		"Jan 15, 2024",
		"20240115",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ToPgDate(tc)
		}
	}
}

// BenchmarkCoerce benchmarks typed coercion of staged text values.
func BenchmarkCoerce(b *testing.B) {
	specs := []FieldSpec{
		{Name: "amount", Type: FieldDecimal},
		{Name: "payment_date", Type: FieldDate},
		{Name: "days_past_due", Type: FieldInteger},
		{Name: "autopay", Type: FieldBool},
	}
	values := []string{"1,234.56", "2024-01-15", "30", "yes"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j, spec := range specs {
			_, _ = Coerce(spec, values[j])
		}
	}
}

// ============================================================================
// Validation Benchmarks
// ============================================================================

func benchmarkRows(n int) []*RawRecord {
	rows := make([]*RawRecord, n)
	for i := range rows {
		rows[i] = NewRawRecord("applications", "applications.csv", i+2).
			Set("application_id", "APP"+strconv.Itoa(i)).
			Set("decision", "approved").
			Set("bureau_score", strconv.Itoa(300+i%600)).
			Set("activation_date", "2024-01-15")
	}
	return rows
}

var benchmarkRules = NewRuleCatalogue(map[string][]Rule{
	"applications": {
		RequiredColumns{Cols: []string{"application_id", "decision"}},
		EnumConstraint{Column: "decision", Allowed: []string{"approved", "declined"}},
		RangeConstraint{Column: "bureau_score", Min: Float(300), Max: Float(850)},
		DateFormat{Column: "activation_date", Layout: RunDateLayout},
		UniqueKey{Cols: []string{"application_id"}},
	},
})

// BenchmarkQualityEngine_Validate benchmarks a full rule set over 10k rows.
func BenchmarkQualityEngine_Validate(b *testing.B) {
	rows := benchmarkRows(10000)
	ctx := context.Background()

	for _, workers := range []int{1, 4} {
		b.Run("workers="+strconv.Itoa(workers), func(b *testing.B) {
			engine := NewQualityEngine(workers)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := engine.Validate(ctx, "applications", rows, benchmarkRules); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// ============================================================================
// Ingest Benchmarks
// ============================================================================

// BenchmarkReadRecords benchmarks CSV parsing into raw records.
func BenchmarkReadRecords(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("payment_id,account_id,payment_date,amount\n")
	for i := 0; i < 10000; i++ {
		sb.WriteString("P" + strconv.Itoa(i) + ",AC" + strconv.Itoa(i%500) + ",2024-01-15,125.50\n")
	}
	data := sb.String()
	ctx := context.Background()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src, _ := WrapSource(strings.NewReader(data))
		if _, _, err := ReadRecords(ctx, src, "payments", "payments.csv"); err != nil {
			b.Fatal(err)
		}
	}
}
