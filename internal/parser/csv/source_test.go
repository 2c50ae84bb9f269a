package csv

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"tabload/internal/config"
	"tabload/internal/parser"
)

// drain reads src to exhaustion and returns accepted rows and row-level lines.
func drain(t *testing.T, src parser.Source) (rows [][]any, skipped []int) {
	t.Helper()
	for {
		out, err := src.Next()
		if err == io.EOF {
			return rows, skipped
		}
		if err != nil {
			t.Fatalf("Next: unexpected file-fatal error: %v", err)
		}
		if out.Skipped() {
			skipped = append(skipped, out.Line)
			continue
		}
		rows = append(rows, out.Row.Values())
		out.Row.Free()
	}
}

func defaultOptions() Options {
	return OptionsFrom(config.Options{})
}

func TestSourceHeaderAndRows(t *testing.T) {
	in := "\uFEFF Order # ,Qty,Import/Export Indicator\nA1, 2 ,I\nA2,,E\n"
	src, err := NewSource(strings.NewReader(in), defaultOptions())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	defer src.Close()

	wantHdr := []string{"Order #", "Qty", "Import/Export Indicator"}
	for i, h := range src.Header() {
		if h != wantHdr[i] {
			t.Fatalf("header[%d]=%q, want %q", i, h, wantHdr[i])
		}
	}

	rows, skipped := drain(t, src)
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped lines %v", skipped)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0][1] != "2" {
		t.Fatalf("trim_space not applied: %q", rows[0][1])
	}
	if rows[1][1] != nil {
		t.Fatalf("blank cell must be nil, got %#v", rows[1][1])
	}
}

func TestSourceMalformedRowIsSkippedAndReadingContinues(t *testing.T) {
	var b strings.Builder
	b.WriteString("a,b\n")
	for i := 0; i < 50; i++ {
		b.WriteString("x,y\n")
	}
	b.WriteString("only-one-field\n") // line 52
	for i := 0; i < 50; i++ {
		b.WriteString("x,y\n")
	}

	src, err := NewSource(strings.NewReader(b.String()), defaultOptions())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	rows, skipped := drain(t, src)
	if len(rows) != 100 {
		t.Fatalf("rows=%d, want 100", len(rows))
	}
	if len(skipped) != 1 || skipped[0] != 52 {
		t.Fatalf("skipped=%v, want [52]", skipped)
	}
}

func TestSourceBareQuoteIsRowLevel(t *testing.T) {
	in := "a,b\n1,2\n3,x\"y\n4,5\n"
	src, err := NewSource(strings.NewReader(in), defaultOptions())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	rows, skipped := drain(t, src)
	if len(rows) != 2 || len(skipped) != 1 || skipped[0] != 3 {
		t.Fatalf("rows=%v skipped=%v", rows, skipped)
	}
}

func TestSourceEmptyInputs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty_file", "", parser.ErrEmptyFile},
		{"blank_header", " , ,\n1,2,3\n", parser.ErrEmptyHeader},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSource(strings.NewReader(tc.in), defaultOptions())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestSourceAutoDelimiterSkipRowsAndEncoding(t *testing.T) {
	latin1, err := charmap.Windows1252.NewEncoder().String("Report generated\nCafé;Prix\nCrème;3,50\n")
	if err != nil {
		t.Fatal(err)
	}
	opt := OptionsFrom(config.Options{
		"delimiter": "auto",
		"encoding":  "windows-1252",
		"skip_rows": 1,
	})
	src, err := NewSource(strings.NewReader(latin1), opt)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if got := src.Header(); len(got) != 2 || got[0] != "Café" {
		t.Fatalf("header=%v", got)
	}
	rows, _ := drain(t, src)
	if len(rows) != 1 || rows[0][0] != "Crème" || rows[0][1] != "3,50" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestSourceUTF16WithBOM(t *testing.T) {
	// "a,b\n1,2\n" in UTF-16LE with BOM.
	in := []byte{0xFF, 0xFE}
	for _, r := range "a,b\n1,2\n" {
		in = append(in, byte(r), 0)
	}
	src, err := NewSource(strings.NewReader(string(in)), defaultOptions())
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if h := src.Header(); len(h) != 2 || h[0] != "a" {
		t.Fatalf("header=%q", h)
	}
	rows, _ := drain(t, src)
	if len(rows) != 1 || rows[0][1] != "2" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestFormatOpenAndMatch(t *testing.T) {
	f, err := NewFormat(config.Options{"delimiter": "tab"})
	if err != nil {
		t.Fatalf("NewFormat: %v", err)
	}
	if !f.Match("x/Data.CSV") || !f.Match("a.tsv") || f.Match("a.xlsx") {
		t.Fatalf("Match mismatch")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "in.tsv")
	if err := os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	units, err := f.Units(path)
	if err != nil || len(units) != 1 || units[0].Name != "in.tsv" {
		t.Fatalf("Units=%v err=%v", units, err)
	}
	src, err := f.Open(t.Context(), units[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	rows, _ := drain(t, src)
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}

	if _, err := f.Open(t.Context(), parser.FileUnit(filepath.Join(dir, "missing.tsv"))); err == nil {
		t.Fatalf("expected error opening a missing file")
	}
}

func TestNewFormatRejectsQuoteDelimiter(t *testing.T) {
	if _, err := NewFormat(config.Options{"delimiter": `"`}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegisteredKind(t *testing.T) {
	f, err := parser.New("csv", nil)
	if err != nil {
		t.Fatalf("parser.New(csv): %v", err)
	}
	if f.Name() != "csv" {
		t.Fatalf("Name=%q", f.Name())
	}
}
