// TableSpec and friends live here so the pipeline, the recorder and every
// backend package can share them without import cycles.
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Backends map these to native types; any other
// value is passed through verbatim.
const (
	TypeText      = "text"
	TypeInt       = "int"
	TypeBigInt    = "bigint"
	TypeFloat     = "float"
	TypeTimestamp = "timestamp"
)

type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // serial / bigserial / identity, or a native type
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"` // nil means nullable
}

// IsNullable reports the effective nullability of c.
func (c ColumnSpec) IsNullable() bool { return c.Nullable == nil || *c.Nullable }

// NotNull is a convenience for ColumnSpec.Nullable.
func NotNull() *bool {
	f := false
	return &f
}

// TextTable returns a spec where every column is nullable text. Staging
// tables and tables created from a file's header use this shape.
func TextTable(name string, columns []string) TableSpec {
	spec := TableSpec{Name: name, Columns: make([]ColumnSpec, len(columns))}
	for i, c := range columns {
		spec.Columns[i] = ColumnSpec{Name: c, Type: TypeText}
	}
	return spec
}

// Validate checks that spec names a table and has well-formed, unique columns.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 && t.PrimaryKey == nil {
		return fmt.Errorf("storage: table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return fmt.Errorf("storage: table %s: primary key name is empty", t.Name)
		}
		seen[ColumnKey(t.PrimaryKey.Name)] = true
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("storage: table %s: column name is empty", t.Name)
		}
		if strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("storage: table %s: column %s type is empty", t.Name, c.Name)
		}
		k := ColumnKey(c.Name)
		if seen[k] {
			return fmt.Errorf("storage: table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[k] = true
	}
	return nil
}

// SplitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "dbo.orders" => ("dbo", "orders")
//   - "orders"     => ("", "orders")
//
// Only a single dot is understood; anything else is treated as unqualified.
func SplitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
