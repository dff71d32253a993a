package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ColumnKind is the portable storage class of a column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindDecimal
)

// Column is one column of an existing table as reported by the engine.
type Column struct {
	Name string
	Type string
}

// Dialect covers the DDL and catalogue differences between engines.
type Dialect interface {
	Name() string
	DriverName() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// ColumnType is the column type used for kind.
	ColumnType(kind ColumnKind) string

	// SerialPrimaryKey is a full column definition for an auto-incrementing key.
	SerialPrimaryKey(col string) string

	// Columns lists the columns of table in ordinal order.
	// A missing table yields an empty slice and no error.
	Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error)

	dsn(cfg Config) (string, error)
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// IsTextType reports whether a declared column type stores free text.
// Staging columns are created as text; anything else was created by hand.
func IsTextType(declared string) bool {
	t := strings.ToUpper(strings.TrimSpace(declared))
	if t == "" {
		return true // sqlite columns without a declared type
	}
	for _, prefix := range []string{"TEXT", "VARCHAR", "CHAR", "CHARACTER", "CLOB", "NVARCHAR", "NCHAR", "STRING", "MEDIUMTEXT", "LONGTEXT", "TINYTEXT"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// IsIntegerType reports whether a declared column type holds integers.
func IsIntegerType(declared string) bool {
	t := strings.ToUpper(strings.TrimSpace(declared))
	return strings.Contains(t, "INT")
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string { return doubleQuote(ident) }

func (sqliteDialect) ColumnType(kind ColumnKind) string {
	switch kind {
	case KindInteger:
		return "INTEGER"
	case KindDecimal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) SerialPrimaryKey(col string) string {
	return doubleQuote(col) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (sqliteDialect) Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", doubleQuote(table)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   sql.NullString
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: ctype.String})
	}
	return cols, rows.Err()
}

func (sqliteDialect) dsn(cfg Config) (string, error) { return sqliteDSN(cfg) }

// ---------------------------------------------------------------------------
// PostgreSQL
// ---------------------------------------------------------------------------

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Quote(ident string) string { return doubleQuote(ident) }

func (postgresDialect) ColumnType(kind ColumnKind) string {
	switch kind {
	case KindInteger:
		return "BIGINT"
	case KindDecimal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (postgresDialect) SerialPrimaryKey(col string) string {
	return doubleQuote(col) + " BIGSERIAL PRIMARY KEY"
}

func (postgresDialect) Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	const query = `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`
	return scanColumns(ctx, q, query, table)
}

func (postgresDialect) dsn(cfg Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return "", fmt.Errorf("postgres connection string required")
	}
	return cfg.DSN, nil
}

// ---------------------------------------------------------------------------
// MySQL
// ---------------------------------------------------------------------------

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) ColumnType(kind ColumnKind) string {
	switch kind {
	case KindInteger:
		return "BIGINT"
	case KindDecimal:
		return "DOUBLE"
	default:
		return "TEXT"
	}
}

func (d mysqlDialect) SerialPrimaryKey(col string) string {
	return d.Quote(col) + " BIGINT AUTO_INCREMENT PRIMARY KEY"
}

func (mysqlDialect) Columns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	const query = `SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
	return scanColumns(ctx, q, query, table)
}

func (mysqlDialect) dsn(cfg Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return "", fmt.Errorf("mysql connection string required")
	}
	return cfg.DSN, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func scanColumns(ctx context.Context, q sqlx.QueryerContext, query, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("list columns %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan column %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
