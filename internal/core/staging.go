package core

// staging.go appends stamped rows to stg_<table>.
//
// Staging tables are append-only and schema-drift tolerant. Every data
// column is created as text; a column that appears in a later drop is added
// with ALTER TABLE before the insert, in the same transaction, so readers
// never observe a half-evolved table. Existing columns are never altered or
// dropped, and rows written before a column existed read it as NULL.
//
// Layout:
//
//	_stg_seq      serial primary key, insertion order
//	_run_date     YYYY-MM-DD
//	_source_file  base name of the source file
//	_ingested_at  fixed-width UTC timestamp, text ordering is time ordering
//	_batch_id     run identifier
//	<data...>     one text column per source column

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/jmoiron/sqlx"
)

// StagingStore writes to the staging tables.
type StagingStore struct {
	db       *database.DB
	registry *SchemaRegistry
}

// NewStagingStore creates a store that shares registry with other writers of db.
func NewStagingStore(db *database.DB, registry *SchemaRegistry) *StagingStore {
	if registry == nil {
		registry = NewSchemaRegistry(db.Dialect())
	}
	return &StagingStore{db: db, registry: registry}
}

// Append writes rows to the staging table of table. The call commits fully or
// not at all. A SchemaEvolutionConflict leaves the table untouched; any other
// database error is returned as a StorageFailure.
func (s *StagingStore) Append(ctx context.Context, table string, rows []StagedRow) (LoadResult, error) {
	result := LoadResult{Table: table}
	if len(rows) == 0 {
		return result, nil
	}

	stg := "stg_" + table
	incoming, err := incomingColumns(stg, rows)
	if err != nil {
		return result, err
	}

	var evolved *TableSchema
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		schema, err := s.registry.Schema(ctx, tx, stg)
		if err != nil {
			return storageErr("read schema", stg, err)
		}

		added, err := s.evolve(ctx, tx, schema, incoming, rows)
		if err != nil {
			return err
		}

		if err := s.insert(ctx, tx, schema, incoming, rows); err != nil {
			return err
		}

		evolved = schema
		result.ColumnsAdded = added
		result.RowsWritten = len(rows)
		return nil
	})
	if err != nil {
		s.registry.Invalidate(stg)
		if IsSchemaConflict(err) {
			return LoadResult{Table: table}, err
		}
		return LoadResult{Table: table}, storageErr("append", stg, err)
	}

	s.registry.Store(evolved)

	slog.Debug("staged rows",
		"table", stg,
		"rows", result.RowsWritten,
		"columns_added", len(result.ColumnsAdded),
	)
	return result, nil
}

// incomingColumns is the union of the rows' columns in first-seen order.
// Names are lower-cased; names that are not identifiers, that belong to the
// pipeline, or that collide once lower-cased are conflicts.
func incomingColumns(stg string, rows []StagedRow) ([]string, error) {
	seen := make(map[string]string)
	var cols []string
	for _, row := range rows {
		for _, raw := range row.Record.Columns() {
			name := strings.ToLower(raw)
			if prev, ok := seen[name]; ok {
				if prev != raw {
					return nil, &SchemaEvolutionConflict{Table: stg, Column: raw, Reason: fmt.Sprintf("collides with %q", prev)}
				}
				continue
			}
			if isReservedColumn(name) {
				return nil, &SchemaEvolutionConflict{Table: stg, Column: raw, Reason: "reserved metadata column"}
			}
			if !validIdentifier(name) {
				return nil, &SchemaEvolutionConflict{Table: stg, Column: raw, Reason: "invalid column name"}
			}
			seen[name] = raw
			cols = append(cols, raw)
		}
	}
	return cols, nil
}

// evolve creates the table or adds missing columns, extending schema in place.
func (s *StagingStore) evolve(ctx context.Context, tx *sqlx.Tx, schema *TableSchema, incoming []string, rows []StagedRow) ([]string, error) {
	d := s.db.Dialect()
	text := d.ColumnType(database.KindText)

	if !schema.Exists() {
		defs := []string{d.SerialPrimaryKey(colStageSeq)}
		cols := []database.Column{{Name: colStageSeq, Type: d.ColumnType(database.KindInteger)}}
		for _, c := range MetadataColumns {
			defs = append(defs, d.Quote(c)+" "+text)
			cols = append(cols, database.Column{Name: c, Type: text})
		}
		for _, c := range incoming {
			name := strings.ToLower(c)
			defs = append(defs, d.Quote(name)+" "+text)
			cols = append(cols, database.Column{Name: name, Type: text})
		}

		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(schema.Name), strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, storageErr("create table", schema.Name, err)
		}
		for _, c := range cols {
			schema.add(c)
		}
		return lowerAll(incoming), nil
	}

	var added []string
	for _, c := range incoming {
		name := strings.ToLower(c)
		existing, ok := schema.Lookup(name)
		if ok {
			if err := checkTypedColumn(schema.Name, existing, c, rows); err != nil {
				return nil, err
			}
			continue
		}

		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Quote(schema.Name), d.Quote(name), text)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return nil, storageErr("add column "+name, schema.Name, err)
		}
		schema.add(database.Column{Name: name, Type: text})
		added = append(added, name)
	}
	return added, nil
}

// checkTypedColumn rejects values that an existing non-text column cannot hold.
func checkTypedColumn(table string, col database.Column, source string, rows []StagedRow) error {
	if database.IsTextType(col.Type) {
		return nil
	}
	integer := database.IsIntegerType(col.Type)

	for _, row := range rows {
		v, _ := row.Record.Get(source)
		s, null := textOf(v)
		if null {
			continue
		}
		var err error
		if integer {
			_, err = stagedInt(s)
		} else {
			_, err = stagedFloat(s)
		}
		if err != nil {
			return &SchemaEvolutionConflict{
				Table:  table,
				Column: col.Name,
				Reason: fmt.Sprintf("existing %s column cannot hold %q from %s", col.Type, s, row.Record.ID()),
			}
		}
	}
	return nil
}

func (s *StagingStore) insert(ctx context.Context, tx *sqlx.Tx, schema *TableSchema, incoming []string, rows []StagedRow) error {
	d := s.db.Dialect()

	names := append([]string(nil), MetadataColumns...)
	names = append(names, lowerAll(incoming)...)
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
		marks[i] = "?"
	}

	query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(schema.Name), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return storageErr("prepare insert", schema.Name, err)
	}
	defer stmt.Close()

	kinds := make([]database.ColumnKind, len(incoming))
	for i, c := range incoming {
		col, _ := schema.Lookup(c)
		kinds[i] = storageKind(col.Type)
	}

	args := make([]any, len(names))
	for _, row := range rows {
		args[0] = row.RunDate
		args[1] = row.SourceFile
		args[2] = FormatTimestamp(row.IngestedAt)
		args[3] = row.BatchID
		for i, c := range incoming {
			v, _ := row.Record.Get(c)
			args[len(MetadataColumns)+i] = stagedValue(v, kinds[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return storageErr("insert", schema.Name, fmt.Errorf("%s: %w", row.Record.ID(), err))
		}
	}
	return nil
}

func storageKind(declared string) database.ColumnKind {
	switch {
	case database.IsTextType(declared):
		return database.KindText
	case database.IsIntegerType(declared):
		return database.KindInteger
	default:
		return database.KindDecimal
	}
}

// stagedValue converts a raw value for a column of kind. Values were checked
// by checkTypedColumn, so conversion errors cannot happen for typed columns.
func stagedValue(v any, kind database.ColumnKind) any {
	s, null := textOf(v)
	if null {
		return nil
	}
	switch kind {
	case database.KindInteger:
		n, _ := stagedInt(s)
		return n
	case database.KindDecimal:
		f, _ := stagedFloat(s)
		return f
	default:
		if str, ok := v.(string); ok {
			return str
		}
		return s
	}
}

// stagedInt parses s in base 10 only; "010" is ten, not eight.
func stagedInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// stagedFloat accepts plain decimal notation with an optional exponent.
func stagedFloat(s string) (float64, error) {
	if !numericRegex.MatchString(s) {
		return 0, fmt.Errorf("%w %q", errInvalidNumber, s)
	}
	return strconv.ParseFloat(s, 64)
}

func lowerAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return out
}
