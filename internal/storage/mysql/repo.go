// Package mysql registers the MySQL / MariaDB backend.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"tabload/internal/storage"
	"tabload/internal/storage/sqldb"
)

const defaultMaxOpenConns = 16

func init() {
	storage.Register("mysql", New)
}

// New parses cfg.DSN with the driver's own parser so malformed DSNs fail
// before any network I/O.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	return sqldb.Wrap(ctx, sql.OpenDB(connector), cfg, Dialect{}, defaultMaxOpenConns)
}

// Dialect is the MySQL flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "mysql" }

// QuoteIdent backtick-quotes name, escaping '`' as '``'.
func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(logical string) string {
	switch logical {
	case storage.TypeInt:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE"
	case storage.TypeTimestamp:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (d Dialect) PrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	switch sqldb.IdentityKind(pk.Type) {
	case "int":
		return fmt.Sprintf("%s INT AUTO_INCREMENT PRIMARY KEY", d.QuoteIdent(pk.Name))
	case "bigint":
		return fmt.Sprintf("%s BIGINT AUTO_INCREMENT PRIMARY KEY", d.QuoteIdent(pk.Name))
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", d.QuoteIdent(pk.Name), pk.Type)
	}
}

func (d Dialect) CreateTableSQL(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqldb.QualifiedIdent(d, table), defs)
}

func (d Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqldb.QualifiedIdent(d, table)
}

func (d Dialect) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + sqldb.QualifiedIdent(d, table)
}

func (Dialect) TableExistsQuery(schema, table string) (string, []any) {
	const q = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?"
	return q, []any{schema, table}
}

func (Dialect) ColumnsQuery(schema, table string) (string, []any) {
	const q = "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? " +
		"ORDER BY ORDINAL_POSITION"
	return q, []any{schema, table}
}

func (Dialect) MaxParams() int { return 65535 }

func (Dialect) MaxIdentifierLength() int { return 64 }

var _ sqldb.Dialect = Dialect{}
