// Package csv reads delimited-text files as a streaming parser.Source.
package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"tabload/internal/config"
	"tabload/internal/parser"
	"tabload/internal/probe"
	"tabload/internal/record"
)

func init() {
	parser.Register("csv", func(opt config.Options) (parser.Format, error) {
		return NewFormat(opt)
	})
}

// Options controls how delimited files are read.
type Options struct {
	// Delimiter is the field separator; 0 means sniff from the first bytes.
	Delimiter  rune
	Encoding   string
	TrimSpace  bool
	LazyQuotes bool
	// SkipRows is the number of physical lines discarded before the header.
	SkipRows int
	// Comment, when non-zero, marks lines to ignore.
	Comment rune
}

// OptionsFrom reads Options from source options.
//
// Keys: delimiter (",", ";", "tab", "|", "auto"), encoding, trim_space
// (default true), lazy_quotes, skip_rows, comment.
func OptionsFrom(opt config.Options) Options {
	o := Options{
		Delimiter:  opt.Rune("delimiter", ','),
		Encoding:   opt.String("encoding", ""),
		TrimSpace:  opt.Bool("trim_space", true),
		LazyQuotes: opt.Bool("lazy_quotes", false),
		SkipRows:   opt.Int("skip_rows", 0),
		Comment:    opt.Rune("comment", 0),
	}
	if strings.EqualFold(opt.String("delimiter", ""), "auto") {
		o.Delimiter = 0
	}
	return o
}

// Format is the delimited-text parser.Format.
type Format struct {
	opts Options
}

// NewFormat validates opt and returns a Format.
func NewFormat(opt config.Options) (*Format, error) {
	o := OptionsFrom(opt)
	if o.Delimiter == '"' || o.Delimiter == '\n' || o.Delimiter == '\r' {
		return nil, fmt.Errorf("csv: invalid delimiter %q", o.Delimiter)
	}
	if o.SkipRows < 0 {
		return nil, fmt.Errorf("csv: skip_rows must be >= 0")
	}
	return &Format{opts: o}, nil
}

func (f *Format) Name() string { return "csv" }

func (f *Format) Match(path string) bool {
	return parser.MatchExtension(path, ".csv", ".txt", ".tsv")
}

func (f *Format) Units(path string) ([]parser.Unit, error) {
	return []parser.Unit{parser.FileUnit(path)}, nil
}

func (f *Format) Open(_ context.Context, u parser.Unit) (parser.Source, error) {
	fh, err := os.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", u.Name, err)
	}
	src, err := NewSource(fh, f.opts)
	if err != nil {
		_ = fh.Close()
		return nil, fmt.Errorf("%s: %w", u.Name, err)
	}
	return src, nil
}

// Source streams records of one delimited file.
type Source struct {
	closer io.Closer
	cr     *csv.Reader
	header []string
	trim   bool
	// lineBase is the number of physical lines consumed before the csv.Reader
	// started (skip_rows); the reader's own positions are offset by it.
	lineBase int
}

// NewSource reads the header from r and returns a Source positioned at the
// first data record. If r is an io.Closer it is closed by Source.Close.
func NewSource(r io.Reader, o Options) (*Source, error) {
	dec, err := parser.Decode(r, o.Encoding)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(dec, probe.SampleSize)

	skipped := 0
	for ; skipped < o.SkipRows; skipped++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return nil, parser.ErrEmptyFile
			}
			return nil, fmt.Errorf("skip rows: %w", err)
		}
	}

	delim := o.Delimiter
	if delim == 0 {
		sample, err := br.Peek(probe.SampleSize)
		if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("sniff delimiter: %w", err)
		}
		delim = probe.SniffDelimiter(sample)
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.Comment = o.Comment
	cr.LazyQuotes = o.LazyQuotes
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // column counts are checked per row

	s := &Source{cr: cr, trim: o.TrimSpace, lineBase: skipped}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	hdr, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, parser.ErrEmptyFile
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	s.header = make([]string, len(hdr))
	blank := true
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		if h != "" {
			blank = false
		}
		s.header[i] = h
	}
	if blank {
		return nil, parser.ErrEmptyHeader
	}
	return s, nil
}

// Header returns the source column names in file order.
func (s *Source) Header() []string { return s.header }

// Next returns the next record. Parse errors and column-count mismatches are
// row-level outcomes; I/O errors are returned as file-fatal.
func (s *Source) Next() (parser.Outcome, error) {
	rec, err := s.cr.Read()
	if err == io.EOF {
		return parser.Outcome{}, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return parser.Skip(s.lineBase+pe.StartLine, pe.Err), nil
		}
		return parser.Outcome{}, err
	}

	line, _ := s.cr.FieldPos(0)
	line += s.lineBase

	if len(rec) != len(s.header) {
		return parser.Skip(line, &parser.FieldCountError{Got: len(rec), Want: len(s.header)}), nil
	}

	row := record.GetRow(len(s.header))
	row.Line = line
	for i, v := range rec {
		if s.trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			row.V[i] = nil
		} else {
			row.V[i] = v
		}
	}
	return parser.Ok(row), nil
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

var _ parser.Source = (*Source)(nil)
