package sqldb

import (
	"fmt"
	"testing"

	"tabload/internal/storage"
)

// ansi is a minimal dialect for builder tests.
type ansi struct{ maxParams int }

func (ansi) Name() string { return "ansi" }

func (ansi) QuoteIdent(n string) string { return DoubleQuote(n) }

func (ansi) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (ansi) ColumnType(string) string { return "VARCHAR" }

func (ansi) PrimaryKeyDef(storage.PrimaryKeySpec) string { return `"id" SERIAL PRIMARY KEY` }

func (ansi) CreateTableSQL(t, defs string) string { return "CREATE TABLE " + t + " (" + defs + ")" }

func (ansi) DropTableSQL(t string) string { return "DROP TABLE " + t }

func (ansi) TruncateSQL(t string) string { return "TRUNCATE " + t }

func (ansi) TableExistsQuery(string, string) (string, []any) { return "", nil }

func (ansi) ColumnsQuery(string, string) (string, []any) { return "", nil }

func (a ansi) MaxParams() int { return a.maxParams }

func (ansi) MaxIdentifierLength() int { return 0 }

func TestQualifiedIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"t", `"t"`},
		{"s.t", `"s"."t"`},
		{" s . t ", `"s"."t"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tc := range tests {
		if got := QualifiedIdent(ansi{}, tc.in); got != tc.want {
			t.Fatalf("QualifiedIdent(%q)=%s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNativeTypePassThrough(t *testing.T) {
	if got := NativeType(ansi{}, "Text"); got != "VARCHAR" {
		t.Fatalf("logical type not mapped: %q", got)
	}
	if got := NativeType(ansi{}, "NUMERIC(12,2)"); got != "NUMERIC(12,2)" {
		t.Fatalf("native type altered: %q", got)
	}
}

func TestIdentityKind(t *testing.T) {
	tests := []struct{ in, want string }{
		{"serial", "int"},
		{"Identity", "int"},
		{"BIGSERIAL", "bigint"},
		{"UUID", ""},
	}
	for _, tc := range tests {
		if got := IdentityKind(tc.in); got != tc.want {
			t.Fatalf("IdentityKind(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildCreateTableRejectsInvalidSpec(t *testing.T) {
	_, err := BuildCreateTable(ansi{}, storage.TableSpec{
		Name:    "t",
		Columns: []storage.ColumnSpec{{Name: "a", Type: "text"}, {Name: "A", Type: "text"}},
	})
	if err == nil {
		t.Fatalf("expected duplicate column error")
	}
}

func TestBuildInsertRejectsRaggedRow(t *testing.T) {
	if _, _, err := BuildInsert(ansi{}, "t", []string{"a", "b"}, [][]any{{1}}); err == nil {
		t.Fatalf("expected error for short row")
	}
}

func TestBuildTransferValidates(t *testing.T) {
	_, err := BuildTransfer(ansi{}, storage.TransferRequest{
		Staging: "s", Destination: "d",
		SourceColumns: []string{"a", "b"}, TargetColumns: []string{"a"},
	})
	if err == nil {
		t.Fatalf("expected column mismatch error")
	}
}

func TestChunkRows(t *testing.T) {
	tests := []struct {
		params, cols, max, want int
	}{
		{999, 3, 1000, 333},
		{2000, 1, 1000, 1000},
		{999, 2000, 1000, 1},
		{65535, 10, 0, 6553},
	}
	for _, tc := range tests {
		if got := ChunkRows(ansi{maxParams: tc.params}, tc.cols, tc.max); got != tc.want {
			t.Fatalf("ChunkRows(%d,%d,%d)=%d, want %d", tc.params, tc.cols, tc.max, got, tc.want)
		}
	}
}
