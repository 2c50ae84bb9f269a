package postgres

import (
	"fmt"

	"tabload/internal/storage"
	"tabload/internal/storage/sqldb"
)

// Dialect is the Postgres flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) QuoteIdent(name string) string { return sqldb.DoubleQuote(name) }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(logical string) string {
	switch logical {
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (Dialect) PrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	switch sqldb.IdentityKind(pk.Type) {
	case "int":
		return fmt.Sprintf("%s SERIAL PRIMARY KEY", sqldb.DoubleQuote(pk.Name))
	case "bigint":
		return fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", sqldb.DoubleQuote(pk.Name))
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", sqldb.DoubleQuote(pk.Name), pk.Type)
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
	const q = "SELECT COUNT(*) FROM information_schema.tables " +
		"WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2"
	return q, []any{schema, table}
}

func (Dialect) ColumnsQuery(schema, table string) (string, []any) {
	const q = "SELECT column_name::text FROM information_schema.columns " +
		"WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2 " +
		"ORDER BY ordinal_position"
	return q, []any{schema, table}
}

func (Dialect) MaxParams() int { return 65535 }

// MaxIdentifierLength is NAMEDATALEN-1.
func (Dialect) MaxIdentifierLength() int { return 63 }

var _ sqldb.Dialect = Dialect{}
