package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// withTables replaces the registry for one test and restores it afterwards.
func withTables(t *testing.T, defs ...TableDefinition) {
	t.Helper()
	saved := All()
	Clear()
	for _, d := range defs {
		Register(d)
	}
	t.Cleanup(func() {
		Clear()
		for _, d := range saved {
			Register(d)
		}
	})
}

func applicationsDef() TableDefinition {
	return TableDefinition{
		Info: TableInfo{Key: "applications", Order: 1, BusinessKey: []string{"application_id"}},
		FieldSpecs: []FieldSpec{
			{Name: "application_id", Type: FieldText, Required: true},
			{Name: "decision", Type: FieldEnum, EnumValues: []string{"approved", "declined"}},
			{Name: "bureau_score", Type: FieldInteger, Required: true},
			{Name: "product", Type: FieldText},
		},
	}
}

func paymentsDef() TableDefinition {
	return TableDefinition{
		Info: TableInfo{Key: "payments", Order: 2, BusinessKey: []string{"payment_id"}},
		FieldSpecs: []FieldSpec{
			{Name: "payment_id", Type: FieldText, Required: true},
			{Name: "account_id", Type: FieldText, Required: true},
			{Name: "payment_date", Type: FieldDate, Required: true},
			{Name: "amount", Type: FieldDecimal, Required: true},
		},
	}
}

// rec builds a record from alternating column/value pairs.
func rec(table string, line int, kv ...any) *RawRecord {
	r := NewRawRecord(table, table+".csv", line)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

// writeDrop writes CSV files under dataDir/runDate.
func writeDrop(t *testing.T, dataDir, runDate string, files map[string]string) {
	t.Helper()
	dir := RunDir(dataDir, runDate)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		body = strings.TrimLeft(body, "\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}
