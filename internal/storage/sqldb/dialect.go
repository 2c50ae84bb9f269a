// Package sqldb implements storage.Repository over database/sql.
//
// Backends differ only in a small Dialect: identifier quoting, placeholders,
// native types and the introspection queries. The SQL builders are pure so
// they can be unit tested without a database, and the postgres backend
// reuses them with its own pgx execution path.
package sqldb

import (
	"strings"

	"tabload/internal/storage"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	// Name is the backend kind used in error messages.
	Name() string

	// QuoteIdent quotes a single identifier part.
	QuoteIdent(name string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// ColumnType maps a logical storage type to a native column type.
	ColumnType(logical string) string

	// PrimaryKeyDef renders a primary key column definition.
	PrimaryKeyDef(pk storage.PrimaryKeySpec) string

	// CreateTableSQL wraps a column definition list into a create-if-missing
	// statement for table (unquoted, possibly schema-qualified).
	CreateTableSQL(table, defs string) string

	// DropTableSQL drops table if it exists.
	DropTableSQL(table string) string

	// TruncateSQL empties table.
	TruncateSQL(table string) string

	// TableExistsQuery returns a query yielding a single count > 0 when the
	// table exists. schema is empty for unqualified names.
	TableExistsQuery(schema, table string) (string, []any)

	// ColumnsQuery returns a query yielding column names in ordinal order.
	ColumnsQuery(schema, table string) (string, []any)

	// MaxParams is the bind parameter limit for one statement.
	MaxParams() int

	// MaxIdentifierLength is the longest identifier accepted (0 = unlimited).
	MaxIdentifierLength() int
}

// QualifiedIdent quotes each dot-separated part of name.
//
// Example (bracket quoting):
//
//	"dbo.imports" -> [dbo].[imports]
func QualifiedIdent(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = d.QuoteIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// DoubleQuote quotes an identifier ANSI-style, escaping '"' as '""'.
func DoubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// isLogical reports whether t is one of the storage.Type* constants.
func isLogical(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case storage.TypeText, storage.TypeInt, storage.TypeBigInt, storage.TypeFloat, storage.TypeTimestamp:
		return true
	}
	return false
}

// NativeType resolves a ColumnSpec type through d, passing unknown types
// through verbatim.
func NativeType(d Dialect, t string) string {
	if isLogical(t) {
		return d.ColumnType(strings.ToLower(strings.TrimSpace(t)))
	}
	return t
}

// IdentityKind classifies a PrimaryKeySpec.Type.
//
// It returns "int" for serial/identity variants, "bigint" for bigserial and
// "" for a native type that should be used verbatim.
func IdentityKind(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "serial", "int identity", "integer identity", "identity":
		return "int"
	case "bigserial", "bigint identity":
		return "bigint"
	}
	return ""
}
