// Package mssql registers the Microsoft SQL Server backend.
//
// Staging loads use the driver's bulk copy (TDS INSERT BULK) rather than
// multi-row INSERT, which keeps large batches well clear of the 2100
// parameter limit.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"tabload/internal/storage"
	"tabload/internal/storage/sqldb"
)

// defaultMaxOpenConns is sized for bursty ETL loads.
const defaultMaxOpenConns = 64

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server repository through the "sqlserver" driver
// registered by go-mssqldb.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqldb.Open(ctx, "sqlserver", cfg, Dialect{}, defaultMaxOpenConns,
		sqldb.WithBulkLoader(copyIn))
}

// copyIn streams rows through mssql.CopyIn inside tx.
func copyIn(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssqldb.CopyIn(mssqlTableIdent(table), mssqldb.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("bulk copy row %d: %w", i, err)
		}
	}

	// An argument-less Exec flushes the copy.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk copy flush: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

// Dialect is the SQL Server flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "mssql" }

func (Dialect) QuoteIdent(name string) string { return mssqlIdent(name) }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (Dialect) ColumnType(logical string) string {
	switch logical {
	case storage.TypeInt:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeTimestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// PrimaryKeyDef returns a column definition for an identity primary key.
//
// Supported types (case-insensitive):
//   - "serial", "identity" variants -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
//   - otherwise uses pk.Type verbatim with PRIMARY KEY.
func (Dialect) PrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	switch sqldb.IdentityKind(pk.Type) {
	case "int":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name))
	case "bigint":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name))
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type)
	}
}

// CreateTableSQL wraps CREATE TABLE in an OBJECT_ID guard, so it is
// idempotent without IF NOT EXISTS syntax.
func (Dialect) CreateTableSQL(table, defs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		literal(table),
		mssqlTableIdent(table),
		defs,
	)
}

func (Dialect) DropTableSQL(table string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		literal(table),
		mssqlTableIdent(table),
	)
}

func (Dialect) TruncateSQL(table string) string {
	return "TRUNCATE TABLE " + mssqlTableIdent(table)
}

func (Dialect) TableExistsQuery(schema, table string) (string, []any) {
	name := table
	if schema != "" {
		name = schema + "." + table
	}
	return "SELECT COUNT(*) FROM sys.tables WHERE object_id = OBJECT_ID(@p1)", []any{name}
}

func (Dialect) ColumnsQuery(schema, table string) (string, []any) {
	const q = "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = COALESCE(NULLIF(@p1, N''), SCHEMA_NAME()) AND TABLE_NAME = @p2 " +
		"ORDER BY ORDINAL_POSITION"
	return q, []any{schema, table}
}

// MaxParams stays below SQL Server's hard limit of 2100 parameters.
func (Dialect) MaxParams() int { return 2000 }

func (Dialect) MaxIdentifierLength() int { return 128 }

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func mssqlTableIdent(name string) string {
	return sqldb.QualifiedIdent(Dialect{}, name)
}

// literal escapes name for use inside an N'...' string literal.
func literal(name string) string {
	return strings.ReplaceAll(name, "'", "''")
}

var _ sqldb.Dialect = Dialect{}
