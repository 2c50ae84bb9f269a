// Package parser defines the row-source contract shared by every input format
// and a registry of formats keyed by source kind.
//
// A Source is the pure "produce the next row or a row-level reason" step. It
// keeps no counters and performs no recording; the batch accumulator owns
// both.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"tabload/internal/record"
)

// File-level sentinel errors. Sources wrap them with %w.
var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrEmptyHeader       = errors.New("header row is empty")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Outcome is the result of one Source.Next step.
//
// Exactly one of Row and Err is set. Err is a row-level reason: the row was
// excluded and reading continues.
type Outcome struct {
	Line int
	Row  *record.Row
	Err  error
}

// Skipped reports whether the step produced a row-level failure.
func (o Outcome) Skipped() bool { return o.Err != nil }

// Ok builds a successful outcome.
func Ok(row *record.Row) Outcome { return Outcome{Line: row.Line, Row: row} }

// Skip builds a row-level failure outcome.
func Skip(line int, err error) Outcome { return Outcome{Line: line, Err: err} }

// Source streams one unit (a file or a worksheet) in file order.
//
// Next returns io.EOF once the unit is exhausted. Any other non-nil error is
// file-fatal; the caller stops reading and closes the source.
type Source interface {
	Header() []string
	Next() (Outcome, error)
	Close() error
}

// Unit is one independently processed table inside an input file.
type Unit struct {
	// Path is the file on disk.
	Path string
	// Name identifies the unit in logs and records: the file base name, or
	// "book.xlsx#Sheet" for per-sheet processing.
	Name string
	// Sheet is the worksheet name for workbook units.
	Sheet string
	// Markup marks spreadsheet units that are HTML tables on disk.
	Markup bool
}

// FileUnit returns the single unit covering a whole file.
func FileUnit(path string) Unit {
	return Unit{Path: path, Name: filepath.Base(path)}
}

// Format is an input format: it recognizes files, splits them into units and
// opens a Source per unit.
type Format interface {
	Name() string
	Match(path string) bool
	Units(path string) ([]Unit, error)
	Open(ctx context.Context, u Unit) (Source, error)
}

// FieldCountError is the row-level error for records whose column count
// differs from the header.
type FieldCountError struct {
	Got, Want int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("row has %d columns, header has %d", e.Got, e.Want)
}

// MatchExtension reports whether path has one of exts (case-insensitive, with dot).
func MatchExtension(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
