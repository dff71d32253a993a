package core

// cleaning.go builds clean_<table> for one run date from its staged rows.
//
// Steps for Clean(table, runDate):
//  1. read every staged row of the run date in insertion order
//  2. coerce each declared column; a failure on a required or key column
//     rejects the row, a failure elsewhere stores NULL
//  3. sort by business key, then _ingested_at, _batch_id and _stg_seq
//     descending, and keep the first row of each key
//  4. in one transaction delete the run date's clean rows and insert the
//     winners in key order
//
// The output depends only on the staged rows, so a rerun without new staged
// rows rewrites identical content.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"
)

// Cleaner writes the clean tables.
type Cleaner struct {
	db       *database.DB
	registry *SchemaRegistry
}

// NewCleaner creates a cleaner sharing registry with the staging store.
func NewCleaner(db *database.DB, registry *SchemaRegistry) *Cleaner {
	if registry == nil {
		registry = NewSchemaRegistry(db.Dialect())
	}
	return &Cleaner{db: db, registry: registry}
}

// stagedRecord is one staged row after coercion.
type stagedRecord struct {
	key        string
	seq        int64
	ingestedAt string
	batchID    string
	sourceFile string
	values     []any
}

// Clean rebuilds the clean rows of table for runDate.
func (c *Cleaner) Clean(ctx context.Context, table, runDate string) (CleanLoadResult, error) {
	result := CleanLoadResult{Table: table, RunDate: runDate}

	def, ok := Get(table)
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	stg, clean := def.StagingTable(), def.CleanTable()
	specs := cleanSpecs(def)

	stgSchema, err := c.registry.Schema(ctx, c.db, stg)
	if err != nil {
		return result, storageErr("read schema", stg, err)
	}

	var staged []stagedRecord
	if stgSchema.Exists() {
		staged, err = c.readStaged(ctx, stg, runDate, def, specs, &result)
		if err != nil {
			return result, err
		}
	}

	winners := latestPerKey(staged)
	result.RecordsWritten = len(winners)
	result.DuplicatesCollapsed = len(staged) - len(winners)

	var evolved *TableSchema
	err = c.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		schema, err := c.registry.Schema(ctx, tx, clean)
		if err != nil {
			return storageErr("read schema", clean, err)
		}
		if !schema.Exists() && len(winners) == 0 {
			return nil
		}
		if err := c.ensureCleanTable(ctx, tx, schema, specs); err != nil {
			return err
		}
		evolved = schema

		d := c.db.Dialect()
		del := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Quote(clean), d.Quote(ColRunDate)))
		if _, err := tx.ExecContext(ctx, del, runDate); err != nil {
			return storageErr("delete run date", clean, err)
		}
		return c.insertClean(ctx, tx, clean, runDate, specs, winners)
	})
	if err != nil {
		c.registry.Invalidate(clean)
		result.RecordsWritten = 0
		return result, storageErr("clean", clean, err)
	}
	if evolved != nil {
		c.registry.Store(evolved)
	}

	slog.Debug("cleaned table",
		"table", clean,
		"run_date", runDate,
		"read", result.RowsRead,
		"written", result.RecordsWritten,
		"collapsed", result.DuplicatesCollapsed,
		"rejected", result.Rejected,
	)
	return result, nil
}

// cleanSpecs is the clean table's data columns: declared fields, plus text
// fields for business key columns without a declaration.
func cleanSpecs(def TableDefinition) []FieldSpec {
	specs := make([]FieldSpec, 0, len(def.FieldSpecs)+len(def.Info.BusinessKey))
	for _, k := range def.Info.BusinessKey {
		if _, ok := def.Spec(k); !ok {
			specs = append(specs, FieldSpec{Name: strings.ToLower(k), Type: FieldText, Required: true})
		}
	}
	for _, s := range def.FieldSpecs {
		s.Name = strings.ToLower(s.Name)
		specs = append(specs, s)
	}
	return specs
}

func (c *Cleaner) readStaged(ctx context.Context, stg, runDate string, def TableDefinition, specs []FieldSpec, result *CleanLoadResult) ([]stagedRecord, error) {
	d := c.db.Dialect()
	query := c.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s",
		d.Quote(stg), d.Quote(ColRunDate), d.Quote(colStageSeq)))

	rows, err := c.db.QueryxContext(ctx, query, runDate)
	if err != nil {
		return nil, storageErr("read staged rows", stg, err)
	}
	defer rows.Close()

	keyIdx := make([]int, len(def.Info.BusinessKey))
	for i, k := range def.Info.BusinessKey {
		for j, s := range specs {
			if strings.EqualFold(s.Name, k) {
				keyIdx[i] = j
			}
		}
	}

	var staged []stagedRecord
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, storageErr("scan staged row", stg, err)
		}
		m = lowerKeys(m)
		result.RowsRead++

		rec, failure := coerceStaged(def.Info.Key, m, specs, def, keyIdx)
		if failure != nil {
			result.Rejected++
			result.Rejections = append(result.Rejections, *failure)
			continue
		}
		staged = append(staged, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read staged rows", stg, err)
	}
	return staged, nil
}

// coerceStaged types one staged row. The returned failure is the first
// required or key column that could not be coerced.
func coerceStaged(table string, m map[string]any, specs []FieldSpec, def TableDefinition, keyIdx []int) (stagedRecord, *CoercionFailure) {
	rec := stagedRecord{values: make([]any, len(specs))}
	rec.seq = cast.ToInt64(m[colStageSeq])
	rec.ingestedAt, _ = textOf(m[ColIngestedAt])
	rec.batchID, _ = textOf(m[ColBatchID])
	rec.sourceFile, _ = textOf(m[ColSourceFile])

	for i, spec := range specs {
		raw := m[spec.Name]
		v, err := Coerce(spec, raw)
		mandatory := spec.Required || def.IsKey(spec.Name)
		if err == nil && v == nil && mandatory {
			err = errEmpty
		}
		if err != nil {
			if mandatory {
				s, _ := textOf(raw)
				return rec, &CoercionFailure{
					Table:  table,
					Key:    stagedKeyText(m, def),
					Column: spec.Name,
					Value:  s,
					Reason: err.Error(),
				}
			}
			v = nil
		}
		rec.values[i] = v
	}

	parts := make([]string, len(keyIdx))
	for i, idx := range keyIdx {
		parts[i] = cast.ToString(rec.values[idx])
	}
	rec.key = strings.Join(parts, "\x1f")
	return rec, nil
}

func stagedKeyText(m map[string]any, def TableDefinition) string {
	parts := make([]string, len(def.Info.BusinessKey))
	for i, k := range def.Info.BusinessKey {
		parts[i], _ = textOf(m[strings.ToLower(k)])
	}
	return strings.Join(parts, ", ")
}

// latestPerKey sorts records by key then recency and keeps the first of each key.
// _ingested_at is fixed-width UTC text so string order is time order.
func latestPerKey(recs []stagedRecord) []stagedRecord {
	sorted := append([]stagedRecord(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.key != b.key {
			return a.key < b.key
		}
		if a.ingestedAt != b.ingestedAt {
			return a.ingestedAt > b.ingestedAt
		}
		if a.batchID != b.batchID {
			return a.batchID > b.batchID
		}
		return a.seq > b.seq
	})

	out := sorted[:0:0]
	for i, r := range sorted {
		if i > 0 && r.key == sorted[i-1].key {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Cleaner) ensureCleanTable(ctx context.Context, tx *sqlx.Tx, schema *TableSchema, specs []FieldSpec) error {
	d := c.db.Dialect()
	text := d.ColumnType(database.KindText)

	if !schema.Exists() {
		var defs []string
		for _, s := range specs {
			typ := d.ColumnType(fieldKind(s.Type))
			defs = append(defs, d.Quote(s.Name)+" "+typ)
			schema.add(database.Column{Name: s.Name, Type: typ})
		}
		for _, m := range MetadataColumns {
			defs = append(defs, d.Quote(m)+" "+text)
			schema.add(database.Column{Name: m, Type: text})
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(schema.Name), strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return storageErr("create table", schema.Name, err)
		}
		return nil
	}

	for _, s := range specs {
		if _, ok := schema.Lookup(s.Name); ok {
			continue
		}
		typ := d.ColumnType(fieldKind(s.Type))
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Quote(schema.Name), d.Quote(s.Name), typ)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return storageErr("add column "+s.Name, schema.Name, err)
		}
		schema.add(database.Column{Name: s.Name, Type: typ})
	}
	return nil
}

func (c *Cleaner) insertClean(ctx context.Context, tx *sqlx.Tx, clean, runDate string, specs []FieldSpec, winners []stagedRecord) error {
	if len(winners) == 0 {
		return nil
	}
	d := c.db.Dialect()

	cols := make([]string, 0, len(specs)+len(MetadataColumns))
	for _, s := range specs {
		cols = append(cols, d.Quote(s.Name))
	}
	for _, m := range MetadataColumns {
		cols = append(cols, d.Quote(m))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(clean), strings.Join(cols, ", "), marks))
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return storageErr("prepare insert", clean, err)
	}
	defer stmt.Close()

	for _, w := range winners {
		args := make([]any, 0, len(cols))
		args = append(args, w.values...)
		args = append(args, runDate, w.sourceFile, w.ingestedAt, w.batchID)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return storageErr("insert", clean, err)
		}
	}
	return nil
}

func fieldKind(t FieldType) database.ColumnKind {
	switch t {
	case FieldInteger, FieldBool:
		return database.KindInteger
	case FieldDecimal:
		return database.KindDecimal
	default:
		return database.KindText
	}
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// ReadClean returns the clean rows of table for runDate ordered by business key.
// Used by the API and by tests.
func (c *Cleaner) ReadClean(ctx context.Context, table, runDate string) ([]map[string]any, error) {
	def, ok := Get(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	clean := def.CleanTable()

	schema, err := c.registry.Schema(ctx, c.db, clean)
	if err != nil {
		return nil, storageErr("read schema", clean, err)
	}
	if !schema.Exists() {
		return nil, nil
	}

	d := c.db.Dialect()
	order := make([]string, len(def.Info.BusinessKey))
	for i, k := range def.Info.BusinessKey {
		order[i] = d.Quote(strings.ToLower(k))
	}
	query := c.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY %s",
		d.Quote(clean), d.Quote(ColRunDate), strings.Join(order, ", ")))

	rows, err := c.db.QueryxContext(ctx, query, runDate)
	if err != nil {
		return nil, storageErr("read clean rows", clean, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, storageErr("scan clean row", clean, err)
		}
		out = append(out, lowerKeys(m))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read clean rows", clean, err)
	}
	return out, nil
}
