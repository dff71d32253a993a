package core

import (
	"context"
	"strings"
	"sync"

	"github.com/JonMunkholm/dailydrop/internal/database"
	"github.com/jmoiron/sqlx"
)

// TableSchema is the known column set of one physical table.
type TableSchema struct {
	Name    string
	Columns []database.Column
	index   map[string]int // lower-case name -> position
}

func newTableSchema(name string, cols []database.Column) *TableSchema {
	s := &TableSchema{Name: name, index: make(map[string]int, len(cols))}
	for _, c := range cols {
		s.add(c)
	}
	return s
}

func (s *TableSchema) add(c database.Column) {
	s.index[strings.ToLower(c.Name)] = len(s.Columns)
	s.Columns = append(s.Columns, c)
}

// Exists reports whether the table has been created.
func (s *TableSchema) Exists() bool { return len(s.Columns) > 0 }

// Lookup finds a column case-insensitively.
func (s *TableSchema) Lookup(name string) (database.Column, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return database.Column{}, false
	}
	return s.Columns[i], true
}

// clone returns a copy that can be extended without touching the cached value.
func (s *TableSchema) clone() *TableSchema {
	return newTableSchema(s.Name, s.Columns)
}

// SchemaRegistry caches the column sets of staging and clean tables.
//
// Writers read a schema, extend a clone inside their transaction and Store
// it only after commit. A failed write calls Invalidate so the next reader
// goes back to the catalogue. Runs are serialized per run date; the mutex
// only protects the map.
type SchemaRegistry struct {
	dialect database.Dialect

	mu     sync.Mutex
	tables map[string]*TableSchema
}

// NewSchemaRegistry creates an empty registry for a dialect.
func NewSchemaRegistry(dialect database.Dialect) *SchemaRegistry {
	return &SchemaRegistry{
		dialect: dialect,
		tables:  make(map[string]*TableSchema),
	}
}

// Schema returns a private copy of the table's schema, loading it from the
// catalogue through q on a cache miss.
func (r *SchemaRegistry) Schema(ctx context.Context, q sqlx.QueryerContext, table string) (*TableSchema, error) {
	r.mu.Lock()
	cached, ok := r.tables[table]
	r.mu.Unlock()
	if ok {
		return cached.clone(), nil
	}

	cols, err := r.dialect.Columns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	s := newTableSchema(table, cols)

	if s.Exists() {
		r.mu.Lock()
		r.tables[table] = s
		r.mu.Unlock()
	}
	return s.clone(), nil
}

// Store replaces the cached schema after a committed change.
func (r *SchemaRegistry) Store(s *TableSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[s.Name] = s.clone()
}

// Invalidate drops a table from the cache.
func (r *SchemaRegistry) Invalidate(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, table)
}
