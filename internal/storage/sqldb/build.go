package sqldb

import (
	"fmt"
	"strings"

	"tabload/internal/storage"
)

// BuildCreateTable renders the create-if-missing DDL for spec.
func BuildCreateTable(d Dialect, spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(spec.Columns)+1)
	if spec.PrimaryKey != nil {
		defs = append(defs, d.PrimaryKeyDef(*spec.PrimaryKey))
	}
	for _, c := range spec.Columns {
		var b strings.Builder
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(NativeType(d, c.Type))
		if c.IsNullable() {
			b.WriteString(" NULL")
		} else {
			b.WriteString(" NOT NULL")
		}
		defs = append(defs, b.String())
	}
	return d.CreateTableSQL(spec.Name, strings.Join(defs, ", ")), nil
}

// BuildInsert builds a single multi-row INSERT ... VALUES statement with
// nrows placeholder groups and returns it with the flattened args.
func BuildInsert(d Dialect, table string, columns []string, rows [][]any) (string, []any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("%s: insert into %s: no columns", d.Name(), table)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QualifiedIdent(d, table))
	b.WriteString(" (")
	writeIdentList(&b, d, columns)
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("%s: insert into %s: row %d has %d values, want %d",
				d.Name(), table, i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

// BuildTransfer builds the append-only INSERT ... SELECT that moves the
// matched columns from staging into destination.
func BuildTransfer(d Dialect, req storage.TransferRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QualifiedIdent(d, req.Destination))
	b.WriteString(" (")
	writeIdentList(&b, d, req.TargetColumns)
	b.WriteString(") SELECT ")
	writeIdentList(&b, d, req.SourceColumns)
	b.WriteString(" FROM ")
	b.WriteString(QualifiedIdent(d, req.Staging))
	return b.String(), nil
}

// BuildCount returns SELECT COUNT(*) for table.
func BuildCount(d Dialect, table string) string {
	return "SELECT COUNT(*) FROM " + QualifiedIdent(d, table)
}

// ChunkRows returns how many rows of width columns fit in one statement,
// capped at maxRows.
func ChunkRows(d Dialect, columns, maxRows int) int {
	if columns <= 0 {
		return maxRows
	}
	n := d.MaxParams() / columns
	if n < 1 {
		n = 1
	}
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	return n
}

func writeIdentList(b *strings.Builder, d Dialect, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
}
