package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tabload/internal/config"
)

type stubFormat struct{ name string }

func (s stubFormat) Name() string { return s.name }
func (s stubFormat) Match(path string) bool { return strings.HasSuffix(path, ".stub") }
func (s stubFormat) Units(path string) ([]Unit, error) { return []Unit{FileUnit(path)}, nil }
func (s stubFormat) Open(context.Context, Unit) (Source, error) { return nil, errors.New("stub") }

func TestRegisterAndNew(t *testing.T) {
	Register("stub_test", func(opt config.Options) (Format, error) {
		return stubFormat{name: opt.String("name", "stub")}, nil
	})

	f, err := New("stub_test", config.Options{"name": "custom"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Name() != "custom" {
		t.Fatalf("Name=%q", f.Name())
	}

	if _, err := New("", nil); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New("nope", nil); err == nil || !strings.Contains(err.Error(), "stub_test") {
		t.Fatalf("error should list registered kinds: %v", err)
	}
}

func TestRegisterPanics(t *testing.T) {
	factory := func(config.Options) (Format, error) { return stubFormat{}, nil }
	Register("stub_dup", factory)

	tests := []struct {
		name string
		fn   func()
	}{
		{"empty_kind", func() { Register("", factory) }},
		{"nil_factory", func() { Register("stub_nil", nil) }},
		{"duplicate", func() { Register("stub_dup", factory) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			tc.fn()
		})
	}
}

func TestFileUnitAndMatchExtension(t *testing.T) {
	u := FileUnit("/data/in/Orders.CSV")
	if u.Name != "Orders.CSV" || u.Path != "/data/in/Orders.CSV" {
		t.Fatalf("FileUnit=%+v", u)
	}
	if !MatchExtension(u.Path, ".csv") {
		t.Fatalf("MatchExtension must be case-insensitive")
	}
}

func TestFieldCountError(t *testing.T) {
	err := error(&FieldCountError{Got: 2, Want: 3})
	if !strings.Contains(err.Error(), "2 columns") {
		t.Fatalf("message=%q", err.Error())
	}
}
