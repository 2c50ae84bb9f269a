package pipeline

import (
	"fmt"
	"strings"

	"tabload/internal/storage"
)

// ValidationResult compares a staging schema with the destination schema.
//
// Matched and Target are parallel: Matched[i] is the staging spelling and
// Target[i] the destination spelling of the same column. Matched and
// Unmatched partition the staging columns in staging order.
type ValidationResult struct {
	Matched         []string
	Target          []string
	Unmatched       []string
	DestinationOnly []string

	StagingCount     int
	DestinationCount int
}

// Valid reports whether every staging column exists in the destination.
func (v ValidationResult) Valid() bool {
	return len(v.Unmatched) == 0 && len(v.Matched) > 0
}

// Report renders the mismatch for the error log.
func (v ValidationResult) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema mismatch: staging=%d destination=%d matched=%d",
		v.StagingCount, v.DestinationCount, len(v.Matched))
	fmt.Fprintf(&b, "; unmatched staging columns: [%s]", strings.Join(v.Unmatched, ", "))
	fmt.Fprintf(&b, "; destination-only columns: [%s]", strings.Join(v.DestinationOnly, ", "))
	return b.String()
}

// Validate matches staging columns to destination columns case-insensitively.
func Validate(staging, destination []string) ValidationResult {
	v := ValidationResult{
		StagingCount:     len(staging),
		DestinationCount: len(destination),
	}
	dest := storage.IndexColumns(destination)
	used := make(map[int]bool, len(staging))

	for _, c := range staging {
		i, ok := dest[storage.ColumnKey(c)]
		if !ok {
			v.Unmatched = append(v.Unmatched, c)
			continue
		}
		v.Matched = append(v.Matched, c)
		v.Target = append(v.Target, destination[i])
		used[i] = true
	}
	for i, c := range destination {
		if !used[i] {
			v.DestinationOnly = append(v.DestinationOnly, c)
		}
	}
	return v
}
