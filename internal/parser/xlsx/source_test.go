package xlsx

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"tabload/internal/config"
	"tabload/internal/parser"
)

// writeWorkbook builds a workbook in a temp dir and returns its path.
func writeWorkbook(t *testing.T, build func(f *excelize.File)) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	build(f)
	path := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func mustSet(t *testing.T, f *excelize.File, sheet, cell string, v any) {
	t.Helper()
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		t.Fatalf("SetCellValue(%s): %v", cell, err)
	}
}

func readAll(t *testing.T, src parser.Source) (rows [][]any, skipped []int) {
	t.Helper()
	for {
		out, err := src.Next()
		if err == io.EOF {
			return rows, skipped
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if out.Skipped() {
			skipped = append(skipped, out.Line)
			continue
		}
		rows = append(rows, out.Row.Values())
		out.Row.Free()
	}
}

func openOnly(t *testing.T, path string, opt config.Options) parser.Source {
	t.Helper()
	f, err := NewFormat(opt)
	if err != nil {
		t.Fatalf("NewFormat: %v", err)
	}
	units, err := f.Units(path)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("units=%v, want 1", units)
	}
	src, err := f.Open(t.Context(), units[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestSourceCanonicalizesTypedCells(t *testing.T) {
	path := writeWorkbook(t, func(f *excelize.File) {
		const s = "Sheet1"
		for i, h := range []string{"Name", "When", "Amount", "Active", "Rate", "Stamp"} {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			mustSet(t, f, s, cell, h)
		}
		mustSet(t, f, s, "A2", "  Widget ")
		mustSet(t, f, s, "B2", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		mustSet(t, f, s, "C2", 1234.5)
		mustSet(t, f, s, "D2", true)
		mustSet(t, f, s, "E2", 0.125)
		mustSet(t, f, s, "F2", time.Date(2024, 1, 15, 13, 45, 30, 0, time.UTC))

		money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
		if err != nil {
			t.Fatal(err)
		}
		pct, err := f.NewStyle(&excelize.Style{NumFmt: 10}) // 0.00%
		if err != nil {
			t.Fatal(err)
		}
		_ = f.SetCellStyle(s, "C2", "C2", money)
		_ = f.SetCellStyle(s, "E2", "E2", pct)

		mustSet(t, f, s, "A3", "Gadget")
		mustSet(t, f, s, "D3", false)
	})

	src := openOnly(t, path, nil)
	if got := src.Header(); len(got) != 6 || got[5] != "Stamp" {
		t.Fatalf("header=%v", got)
	}

	rows, skipped := readAll(t, src)
	if len(skipped) != 0 || len(rows) != 2 {
		t.Fatalf("rows=%v skipped=%v", rows, skipped)
	}

	want := []any{"Widget", "2024-01-15", "1234.5", "true", "0.125", "2024-01-15 13:45:30"}
	for i, w := range want {
		if rows[0][i] != w {
			t.Fatalf("row1[%d]=%#v, want %#v", i, rows[0][i], w)
		}
	}
	// Short row padded with nulls.
	if rows[1][0] != "Gadget" || rows[1][1] != nil || rows[1][3] != "false" || rows[1][5] != nil {
		t.Fatalf("row2=%#v", rows[1])
	}
}

func TestSourceExtraCellsAreRowLevel(t *testing.T) {
	path := writeWorkbook(t, func(f *excelize.File) {
		mustSet(t, f, "Sheet1", "A1", "a")
		mustSet(t, f, "Sheet1", "B1", "b")
		mustSet(t, f, "Sheet1", "A2", "1")
		mustSet(t, f, "Sheet1", "A3", "1")
		mustSet(t, f, "Sheet1", "C3", "overflow")
		mustSet(t, f, "Sheet1", "A5", "2") // row 4 is blank and skipped
	})
	src := openOnly(t, path, nil)
	rows, skipped := readAll(t, src)
	if len(rows) != 2 {
		t.Fatalf("rows=%v", rows)
	}
	if len(skipped) != 1 || skipped[0] != 3 {
		t.Fatalf("skipped=%v, want [3]", skipped)
	}
}

func TestSourceHeaderRowAndLeadingBlankRows(t *testing.T) {
	path := writeWorkbook(t, func(f *excelize.File) {
		mustSet(t, f, "Sheet1", "A1", "Report title")
		mustSet(t, f, "Sheet1", "A3", "id")
		mustSet(t, f, "Sheet1", "B3", "name")
		mustSet(t, f, "Sheet1", "A4", 7)
		mustSet(t, f, "Sheet1", "B4", "x")
	})

	src := openOnly(t, path, config.Options{"header_row": 3})
	if h := src.Header(); len(h) != 2 || h[0] != "id" {
		t.Fatalf("header=%v", h)
	}
	rows, _ := readAll(t, src)
	if len(rows) != 1 || rows[0][0] != "7" {
		t.Fatalf("rows=%v", rows)
	}

	// Without header_row the first non-empty row is the header.
	src = openOnly(t, path, nil)
	if h := src.Header(); len(h) != 1 || h[0] != "Report title" {
		t.Fatalf("default header=%v", h)
	}
}

func TestUnitsPerSheetAndActiveSheet(t *testing.T) {
	path := writeWorkbook(t, func(f *excelize.File) {
		mustSet(t, f, "Sheet1", "A1", "a")
		idx, err := f.NewSheet("Second")
		if err != nil {
			t.Fatal(err)
		}
		mustSet(t, f, "Second", "A1", "b")
		f.SetActiveSheet(idx)
	})

	all, err := NewFormat(config.Options{"all_sheets": true})
	if err != nil {
		t.Fatal(err)
	}
	units, err := all.Units(path)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	if len(units) != 2 || units[0].Name != "book.xlsx#Sheet1" || units[1].Sheet != "Second" {
		t.Fatalf("units=%+v", units)
	}

	def, _ := NewFormat(nil)
	units, err = def.Units(path)
	if err != nil || len(units) != 1 || units[0].Sheet != "Second" {
		t.Fatalf("active sheet units=%+v err=%v", units, err)
	}

	named, _ := NewFormat(config.Options{"sheet": "Missing"})
	if _, err := named.Units(path); err == nil {
		t.Fatalf("expected error for missing sheet")
	}
}

func TestEmptyWorksheetIsFileLevel(t *testing.T) {
	path := writeWorkbook(t, func(f *excelize.File) {})
	f, _ := NewFormat(nil)
	units, err := f.Units(path)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	_, err = f.Open(t.Context(), units[0])
	if !errors.Is(err, parser.ErrEmptyFile) {
		t.Fatalf("err=%v, want ErrEmptyFile", err)
	}
}

func TestLegacyXLSRouting(t *testing.T) {
	dir := t.TempDir()
	html := filepath.Join(dir, "export.xls")
	if err := os.WriteFile(html, []byte("<table><tr><th>a</th><th>b</th></tr><tr><td>1</td><td>2</td></tr></table>"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := openOnly(t, html, nil)
	rows, _ := readAll(t, src)
	if len(rows) != 1 || rows[0][1] != "2" {
		t.Fatalf("rows=%v", rows)
	}

	bin := filepath.Join(dir, "old.xls")
	if err := os.WriteFile(bin, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	f, _ := NewFormat(nil)
	if _, err := f.Units(bin); !errors.Is(err, parser.ErrUnsupportedFormat) {
		t.Fatalf("err=%v, want ErrUnsupportedFormat", err)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name, raw, shown, want string
	}{
		{"empty", "", "", ""},
		{"text", "hello", "hello", "hello"},
		{"general_number", "42", "42", "42"},
		{"leading_zero_text", "007", "007", "007"},
		{"float_noise", "0.30000000000000004", "0.3", "0.3"},
		{"grouped", "1234567.891", "1,234,567.89", "1234567.891"},
		{"currency", "12.5", "$12.50", "12.5"},
		{"exponent_raw", "1.5E-3", "0.0015", "0.0015"},
		{"bool_true", "1", "TRUE", "true"},
		{"one_not_bool", "1", "1", "1"},
		{"iso_date", "45306", "2024-01-15", "2024-01-15"},
		{"us_date", "45306", "01/15/24", "2024-01-15"},
		{"month_name", "45306", "15-Jan-24", "2024-01-15"},
		{"time_only", "0.5", "12:00:00", "12:00:00"},
		{"last_representable_date", "2958465", "9999-12-31", "9999-12-31"},
		{"ssn_format_is_number", "123456789", "123-45-6789", "123456789"},
		{"yyyymmdd_format_is_number", "20240115", "2024-01-15", "20240115"},
		{"unit_suffix_is_number", "1.5", "1.5 kg", "1.5"},
		{"error_cell", "#DIV/0!", "#DIV/0!", "#DIV/0!"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := canonical(tc.raw, tc.shown, false); got != tc.want {
				t.Fatalf("canonical(%q,%q)=%q, want %q", tc.raw, tc.shown, got, tc.want)
			}
		})
	}
}
