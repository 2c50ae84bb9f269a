package storage

import (
	"fmt"
	"strings"
)

// ColumnKey folds a column name to the form used for case-insensitive
// matching between staging and destination tables.
func ColumnKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IndexColumns maps ColumnKey(name) to its first position in columns.
func IndexColumns(columns []string) map[string]int {
	out := make(map[string]int, len(columns))
	for i, c := range columns {
		k := ColumnKey(c)
		if _, ok := out[k]; !ok {
			out[k] = i
		}
	}
	return out
}

// TextValue converts a loaded cell value to its text form, or nil for SQL
// NULL. Backends use it to normalize driver results in tests and log reads.
func TextValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprint(v)
	}
}
