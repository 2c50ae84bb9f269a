// Package htmltable reads the first <table> of an HTML document as a
// parser.Source. Reporting tools commonly export "spreadsheets" this way.
package htmltable

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tabload/internal/parser"
	"tabload/internal/record"
)

// Options controls HTML table reading.
type Options struct {
	Encoding  string
	TrimSpace bool
}

// Source yields rows of one HTML table.
//
// The document is parsed up front (goquery builds a DOM); rows are converted
// to records lazily.
type Source struct {
	header []string
	rows   *goquery.Selection
	pos    int
	trim   bool
}

// OpenFile parses the HTML file at path.
func OpenFile(path string, o Options) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewSource(f, o)
}

// NewSource parses r and positions the Source after the header row, which is
// the first <tr> of the first <table>.
func NewSource(r io.Reader, o Options) (*Source, error) {
	dec, err := parser.Decode(r, o.Encoding)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(dec)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("%w: no <table> element", parser.ErrEmptyFile)
	}
	// Rows of nested tables belong to their own table.
	trs := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})
	if trs.Length() == 0 {
		return nil, parser.ErrEmptyFile
	}

	hdr := cells(trs.First())
	blank := true
	for i := range hdr {
		hdr[i] = strings.TrimSpace(hdr[i])
		if hdr[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, parser.ErrEmptyHeader
	}

	return &Source{header: hdr, rows: trs, pos: 1, trim: o.TrimSpace}, nil
}

// cells returns the text of th/td children, expanding colspan.
func cells(tr *goquery.Selection) []string {
	var out []string
	tr.ChildrenFiltered("th,td").Each(func(_ int, c *goquery.Selection) {
		out = append(out, c.Text())
		if span, err := strconv.Atoi(c.AttrOr("colspan", "1")); err == nil {
			for i := 1; i < span; i++ {
				out = append(out, "")
			}
		}
	})
	return out
}

func (s *Source) Header() []string { return s.header }

// Next returns the next table row. Rows whose cell count differs from the
// header are row-level errors; rows without cells are skipped.
func (s *Source) Next() (parser.Outcome, error) {
	for s.pos < s.rows.Length() {
		line := s.pos + 1
		vals := cells(s.rows.Eq(s.pos))
		s.pos++

		if len(vals) == 0 {
			continue
		}
		if len(vals) != len(s.header) {
			return parser.Skip(line, &parser.FieldCountError{Got: len(vals), Want: len(s.header)}), nil
		}

		row := record.GetRow(len(s.header))
		row.Line = line
		for i, v := range vals {
			if s.trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[i] = v
			}
		}
		return parser.Ok(row), nil
	}
	return parser.Outcome{}, io.EOF
}

func (s *Source) Close() error { return nil }

var _ parser.Source = (*Source)(nil)
