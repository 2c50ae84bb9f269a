// Package xlsx reads worksheets of OOXML workbooks as streaming
// parser.Sources, and routes HTML-table .xls exports to the htmltable reader.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/parser/htmltable"
	"tabload/internal/probe"
	"tabload/internal/record"
)

func init() {
	parser.Register("xlsx", func(opt config.Options) (parser.Format, error) {
		return NewFormat(opt)
	})
}

// ErrLegacyWorkbook is returned for binary BIFF .xls workbooks.
var ErrLegacyWorkbook = fmt.Errorf("%w: legacy binary .xls workbook", parser.ErrUnsupportedFormat)

// Options controls workbook reading.
type Options struct {
	// Sheet names the worksheet to read; empty means the active sheet.
	Sheet string
	// AllSheets produces one unit per worksheet.
	AllSheets bool
	// HeaderRow is the 1-based header row; 0 means the first non-empty row.
	HeaderRow int
	TrimSpace bool
	// Encoding applies to HTML-table exports only.
	Encoding string
}

// OptionsFrom reads Options from source options (sheet, all_sheets,
// header_row, trim_space, encoding).
func OptionsFrom(opt config.Options) Options {
	return Options{
		Sheet:     opt.String("sheet", ""),
		AllSheets: opt.Bool("all_sheets", false),
		HeaderRow: opt.Int("header_row", 0),
		TrimSpace: opt.Bool("trim_space", true),
		Encoding:  opt.String("encoding", ""),
	}
}

// Format is the spreadsheet parser.Format.
type Format struct {
	opts Options
}

// NewFormat validates opt and returns a Format.
func NewFormat(opt config.Options) (*Format, error) {
	o := OptionsFrom(opt)
	if o.HeaderRow < 0 {
		return nil, fmt.Errorf("xlsx: header_row must be >= 0")
	}
	if o.AllSheets && o.Sheet != "" {
		return nil, fmt.Errorf("xlsx: sheet and all_sheets are mutually exclusive")
	}
	return &Format{opts: o}, nil
}

func (f *Format) Name() string { return "xlsx" }

func (f *Format) Match(path string) bool {
	return parser.MatchExtension(path, ".xlsx", ".xlsm", ".xls")
}

// Units lists the worksheets to process. Legacy .xls files are sniffed: HTML
// exports become a single markup unit, binary workbooks are rejected.
func (f *Format) Units(path string) ([]parser.Unit, error) {
	base := filepath.Base(path)

	if parser.MatchExtension(path, ".xls") {
		ff, err := probe.SniffFile(path)
		if err != nil {
			return nil, err
		}
		switch ff {
		case probe.FormatMarkup:
			return []parser.Unit{{Path: path, Name: base, Markup: true}}, nil
		case probe.FormatZip:
			// OOXML saved with the wrong extension; read it normally.
		default:
			return nil, fmt.Errorf("%s: %w", base, ErrLegacyWorkbook)
		}
	}

	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", base, err)
	}
	defer wb.Close()

	if f.opts.AllSheets {
		sheets := wb.GetSheetList()
		out := make([]parser.Unit, 0, len(sheets))
		for _, s := range sheets {
			out = append(out, parser.Unit{Path: path, Name: base + "#" + s, Sheet: s})
		}
		return out, nil
	}

	sheet := f.opts.Sheet
	if sheet == "" {
		sheet = wb.GetSheetName(wb.GetActiveSheetIndex())
	} else if idx, err := wb.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%s: worksheet %q not found", base, sheet)
	}
	return []parser.Unit{{Path: path, Name: base, Sheet: sheet}}, nil
}

func (f *Format) Open(_ context.Context, u parser.Unit) (parser.Source, error) {
	if u.Markup {
		return htmltable.OpenFile(u.Path, htmltable.Options{Encoding: f.opts.Encoding, TrimSpace: f.opts.TrimSpace})
	}

	wb, err := excelize.OpenFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", u.Name, err)
	}
	src, err := NewSource(wb, u.Sheet, f.opts)
	if err != nil {
		_ = wb.Close()
		return nil, fmt.Errorf("%s: %w", u.Name, err)
	}
	return src, nil
}

// Source streams rows of one worksheet.
//
// Two row iterators advance in lock-step over the same sheet: one yields the
// stored values, the other the formatted values. Comparing them recovers cell
// types without loading the sheet into memory.
type Source struct {
	wb       *excelize.File
	raw      *excelize.Rows
	shown    *excelize.Rows
	header   []string
	date1904 bool
	trim     bool
	rowNum   int
}

// NewSource positions a Source after the header row of sheet. The workbook is
// closed by Source.Close.
func NewSource(wb *excelize.File, sheet string, o Options) (*Source, error) {
	s := &Source{wb: wb, trim: o.TrimSpace}

	if props, err := wb.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		s.date1904 = *props.Date1904
	}

	var err error
	if s.raw, err = wb.Rows(sheet); err != nil {
		return nil, fmt.Errorf("rows %q: %w", sheet, err)
	}
	if s.shown, err = wb.Rows(sheet); err != nil {
		_ = s.raw.Close()
		return nil, fmt.Errorf("rows %q: %w", sheet, err)
	}

	for {
		cells, ok, err := s.next()
		if err != nil {
			s.closeRows()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if !ok {
			s.closeRows()
			if o.HeaderRow > 0 {
				return nil, parser.ErrEmptyHeader
			}
			return nil, parser.ErrEmptyFile
		}
		if o.HeaderRow > 0 && s.rowNum < o.HeaderRow {
			continue
		}
		if o.HeaderRow == 0 && blankRow(cells) {
			continue
		}
		if blankRow(cells) {
			s.closeRows()
			return nil, parser.ErrEmptyHeader
		}
		s.header = trimTrailingBlank(cells)
		for i := range s.header {
			s.header[i] = strings.TrimSpace(s.header[i])
		}
		return s, nil
	}
}

// next reads the next physical row as canonical text.
func (s *Source) next() ([]string, bool, error) {
	if !s.raw.Next() {
		if err := s.raw.Error(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	s.shown.Next()
	s.rowNum++

	raw, err := s.raw.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, err
	}
	shown, err := s.shown.Columns()
	if err != nil {
		return nil, false, err
	}

	out := make([]string, len(raw))
	for i, rv := range raw {
		sv := rv
		if i < len(shown) {
			sv = shown[i]
		}
		out[i] = canonical(rv, sv, s.date1904)
	}
	return out, true, nil
}

// Header returns the header row with trailing blank cells removed.
func (s *Source) Header() []string { return s.header }

// Next returns the next non-blank data row. Rows shorter than the header are
// padded with nulls; non-empty cells beyond the header are a row-level error.
func (s *Source) Next() (parser.Outcome, error) {
	for {
		cells, ok, err := s.next()
		if err != nil {
			return parser.Outcome{}, err
		}
		if !ok {
			return parser.Outcome{}, io.EOF
		}
		if blankRow(cells) {
			continue
		}

		if width := len(trimTrailingBlank(cells)); width > len(s.header) {
			return parser.Skip(s.rowNum, &parser.FieldCountError{Got: width, Want: len(s.header)}), nil
		}

		row := record.GetRow(len(s.header))
		row.Line = s.rowNum
		for i := 0; i < len(s.header) && i < len(cells); i++ {
			v := cells[i]
			if s.trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[i] = v
			}
		}
		return parser.Ok(row), nil
	}
}

func (s *Source) closeRows() {
	if s.raw != nil {
		_ = s.raw.Close()
	}
	if s.shown != nil {
		_ = s.shown.Close()
	}
}

// Close releases the row iterators and the workbook.
func (s *Source) Close() error {
	s.closeRows()
	return s.wb.Close()
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailingBlank(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

var _ parser.Source = (*Source)(nil)
