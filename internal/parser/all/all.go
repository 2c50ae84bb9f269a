// Package all registers every input format with the parser registry.
package all

import (
	_ "tabload/internal/parser/csv"
	_ "tabload/internal/parser/xlsx"
)
