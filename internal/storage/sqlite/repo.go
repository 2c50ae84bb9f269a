// Package sqlite registers the SQLite backend (modernc.org/sqlite, pure Go).
//
// SQLite has no TRUNCATE and a single writer; the pool is capped at one
// connection so concurrent workers queue instead of failing with SQLITE_BUSY.
package sqlite

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite"

	"tabload/internal/storage"
	"tabload/internal/storage/sqldb"
)

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqldb.Open(ctx, "sqlite", cfg, Dialect{}, 1)
}

// Dialect is the SQLite flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

// QuoteIdent uses SQLite's "quoted identifiers".
func (Dialect) QuoteIdent(name string) string { return sqldb.DoubleQuote(name) }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(logical string) string {
	switch logical {
	case storage.TypeInt, storage.TypeBigInt:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		// Timestamps are stored as text with TEXT affinity.
		return "TEXT"
	}
}

// PrimaryKeyDef maps identity types to "INTEGER PRIMARY KEY", which SQLite
// treats as the rowid alias.
func (Dialect) PrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	if sqldb.IdentityKind(pk.Type) != "" {
		return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqldb.DoubleQuote(pk.Name))
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", sqldb.DoubleQuote(pk.Name), pk.Type)
}

func (d Dialect) CreateTableSQL(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqldb.QualifiedIdent(d, table), defs)
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqldb.QualifiedIdent(d, table)
}

func (d Dialect) TruncateSQL(table string) string {
	return "DELETE FROM " + sqldb.QualifiedIdent(d, table)
}

func (Dialect) TableExistsQuery(schema, table string) (string, []any) {
	master := "sqlite_master"
	if schema != "" {
		master = sqldb.DoubleQuote(schema) + ".sqlite_master"
	}
	return "SELECT COUNT(*) FROM " + master + " WHERE type = 'table' AND name = ?", []any{table}
}

func (Dialect) ColumnsQuery(schema, table string) (string, []any) {
	if schema != "" {
		return "SELECT name FROM pragma_table_info(?, ?) ORDER BY cid", []any{table, schema}
	}
	return "SELECT name FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

// MaxParams uses the conservative historical SQLITE_MAX_VARIABLE_NUMBER.
func (Dialect) MaxParams() int { return 999 }

func (Dialect) MaxIdentifierLength() int { return 0 }

var _ sqldb.Dialect = Dialect{}
