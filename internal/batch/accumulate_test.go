package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"tabload/internal/parser"
	"tabload/internal/record"
)

// sliceSource replays a fixed list of outcomes. A nil Row and nil Err entry
// means "return failErr" to simulate a file-fatal read error.
type sliceSource struct {
	header  []string
	outs    []parser.Outcome
	pos     int
	failErr error
}

func (s *sliceSource) Header() []string { return s.header }
func (s *sliceSource) Close() error     { return nil }

func (s *sliceSource) Next() (parser.Outcome, error) {
	if s.pos >= len(s.outs) {
		return parser.Outcome{}, io.EOF
	}
	o := s.outs[s.pos]
	s.pos++
	if o.Row == nil && o.Err == nil {
		return parser.Outcome{}, s.failErr
	}
	return o, nil
}

func okRow(line int, vals ...any) parser.Outcome {
	r := record.GetRow(len(vals))
	copy(r.V, vals)
	r.Line = line
	return parser.Ok(r)
}

func validRows(n int) []parser.Outcome {
	out := make([]parser.Outcome, n)
	for i := range out {
		out[i] = okRow(i+2, fmt.Sprint(i))
	}
	return out
}

type seen struct {
	sizes       []int
	first, last []bool
}

func collect(s *seen) EmitFunc {
	return func(_ context.Context, b Batch) error {
		s.sizes = append(s.sizes, b.Len())
		s.first = append(s.first, b.First)
		s.last = append(s.last, b.Last)
		return nil
	}
}

// TestAccumulateBatchCounts checks the boundary rule for every R in 0..20 and
// B in 1..6: floor(R/B) full non-final batches, then exactly one final batch
// of R mod B rows (empty when R is a multiple of B).
func TestAccumulateBatchCounts(t *testing.T) {
	for r := 0; r <= 20; r++ {
		for b := 1; b <= 6; b++ {
			t.Run(fmt.Sprintf("R%d_B%d", r, b), func(t *testing.T) {
				var s seen
				st, err := Accumulate(context.Background(), &sliceSource{outs: validRows(r)}, b, nil, collect(&s))
				if err != nil {
					t.Fatalf("Accumulate: %v", err)
				}

				full := r / b
				if len(s.sizes) != full+1 {
					t.Fatalf("batches=%d, want %d", len(s.sizes), full+1)
				}
				for i := 0; i < full; i++ {
					if s.sizes[i] != b || s.last[i] {
						t.Fatalf("batch %d size=%d last=%v, want size %d non-final", i, s.sizes[i], s.last[i], b)
					}
				}
				if got := s.sizes[full]; got != r%b {
					t.Fatalf("final size=%d, want %d", got, r%b)
				}

				firsts, lasts := 0, 0
				for i := range s.first {
					if s.first[i] {
						firsts++
					}
					if s.last[i] {
						lasts++
					}
				}
				if firsts != 1 || !s.first[0] || lasts != 1 || !s.last[len(s.last)-1] {
					t.Fatalf("first=%v last=%v", s.first, s.last)
				}
				if st.RowsAccepted != r || st.Batches != full+1 {
					t.Fatalf("stats=%+v", st)
				}
			})
		}
	}
}

func TestAccumulateScenarioThreeRowsBatchTwo(t *testing.T) {
	var s seen
	src := &sliceSource{outs: validRows(3)}
	if _, err := Accumulate(context.Background(), src, 2, nil, collect(&s)); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if len(s.sizes) != 2 || s.sizes[0] != 2 || s.sizes[1] != 1 {
		t.Fatalf("sizes=%v, want [2 1]", s.sizes)
	}
	if !s.first[0] || s.last[0] || s.first[1] || !s.last[1] {
		t.Fatalf("flags first=%v last=%v", s.first, s.last)
	}
}

func TestAccumulateRowErrorsDoNotCountTowardBoundary(t *testing.T) {
	outs := []parser.Outcome{
		okRow(2, "a"),
		parser.Skip(3, errors.New("bad")),
		okRow(4, "b"),
		parser.Skip(5, errors.New("bad")),
		okRow(6, "c"),
	}
	var gotLines []int
	var s seen
	st, err := Accumulate(context.Background(), &sliceSource{outs: outs}, 2,
		func(line int, _ error) { gotLines = append(gotLines, line) },
		collect(&s))
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if len(s.sizes) != 2 || s.sizes[0] != 2 || s.sizes[1] != 1 {
		t.Fatalf("sizes=%v, want [2 1]", s.sizes)
	}
	if st.RowsRead != 5 || st.RowsAccepted != 3 || st.RowErrors != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if len(gotLines) != 2 || gotLines[0] != 3 || gotLines[1] != 5 {
		t.Fatalf("row error lines=%v", gotLines)
	}
}

func TestAccumulateEmptySourceEmitsOneFirstLastBatch(t *testing.T) {
	var s seen
	if _, err := Accumulate(context.Background(), &sliceSource{}, 4, nil, collect(&s)); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if len(s.sizes) != 1 || s.sizes[0] != 0 || !s.first[0] || !s.last[0] {
		t.Fatalf("got sizes=%v first=%v last=%v", s.sizes, s.first, s.last)
	}
}

func TestAccumulateStopsOnEmitError(t *testing.T) {
	boom := errors.New("load failed")
	calls := 0
	_, err := Accumulate(context.Background(), &sliceSource{outs: validRows(10)}, 3, nil,
		func(context.Context, Batch) error {
			calls++
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if calls != 1 {
		t.Fatalf("emit calls=%d, want 1", calls)
	}
}

func TestAccumulatePropagatesFatalSourceError(t *testing.T) {
	fatal := errors.New("disk gone")
	outs := append(validRows(2), parser.Outcome{})
	var s seen
	_, err := Accumulate(context.Background(), &sliceSource{outs: outs, failErr: fatal}, 5, nil, collect(&s))
	if !errors.Is(err, fatal) {
		t.Fatalf("err=%v, want %v", err, fatal)
	}
	if len(s.sizes) != 0 {
		t.Fatalf("no batch may be emitted after a fatal read; got %v", s.sizes)
	}
}

func TestAccumulateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	_, err := Accumulate(ctx, &sliceSource{outs: validRows(10)}, 2, nil,
		func(context.Context, Batch) error {
			emitted++
			cancel()
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if emitted != 1 {
		t.Fatalf("emitted=%d, want 1 (cancel observed before the next batch)", emitted)
	}
}

func TestAccumulateRejectsBadSize(t *testing.T) {
	if _, err := Accumulate(context.Background(), &sliceSource{}, 0, nil, collect(&seen{})); err == nil {
		t.Fatalf("expected error for size 0")
	}
}
