// Package batch groups a row stream into bounded batches.
//
// Accumulate is the only consumer of a parser.Source in the pipeline: it
// counts rows, routes row-level failures to a callback and hands full batches
// to the caller. Sources stay free of side effects.
package batch

import (
	"context"
	"fmt"
	"io"

	"tabload/internal/parser"
	"tabload/internal/record"
)

// Batch is an ordered group of rows sharing the unit's header.
//
// Exactly one batch per unit has First set and exactly one has Last set; a
// unit shorter than one batch yields a single batch with both. The last batch
// is emitted even when it holds no rows.
type Batch struct {
	Seq   int
	Rows  []*record.Row
	First bool
	Last  bool
}

// Len returns the number of rows in b.
func (b Batch) Len() int { return len(b.Rows) }

// Values returns the row values for bulk loading. The slices alias pooled
// rows and are valid only until the emit callback returns.
func (b Batch) Values() [][]any {
	out := make([][]any, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r.V
	}
	return out
}

// Stats summarizes one Accumulate call.
type Stats struct {
	RowsRead     int // accepted + rejected
	RowsAccepted int
	RowErrors    int
	Batches      int
}

// RowErrorFunc receives row-level failures with their line locator.
type RowErrorFunc func(line int, err error)

// EmitFunc consumes one batch. It must not retain b.Rows after returning.
type EmitFunc func(ctx context.Context, b Batch) error

// Accumulate reads src to exhaustion and emits batches of up to size rows.
//
// A batch is emitted once it holds size accepted rows; rejected rows never
// count toward the boundary. After the source is exhausted the current batch
// is emitted with Last set, so a unit of R accepted rows yields floor(R/size)
// full batches plus one final batch of R mod size rows.
//
// Errors:
//   - A non-EOF error from src is returned as-is (file-fatal).
//   - An error from emit stops accumulation and is returned.
//   - ctx is checked between rows and before every emission.
func Accumulate(ctx context.Context, src parser.Source, size int, onRowErr RowErrorFunc, emit EmitFunc) (Stats, error) {
	if size <= 0 {
		return Stats{}, fmt.Errorf("batch: size must be > 0 (got %d)", size)
	}
	if emit == nil {
		return Stats{}, fmt.Errorf("batch: emit is required")
	}

	var st Stats
	cur := make([]*record.Row, 0, size)
	first := true

	flush := func(last bool) error {
		if err := ctx.Err(); err != nil {
			drop(cur)
			return err
		}
		st.Batches++
		err := emit(ctx, Batch{Seq: st.Batches, Rows: cur, First: first, Last: last})
		first = false
		if err != nil {
			drop(cur)
			return err
		}
		for _, r := range cur {
			r.Free()
		}
		cur = cur[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			drop(cur)
			return st, ctx.Err()
		default:
		}

		out, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			drop(cur)
			return st, err
		}

		st.RowsRead++
		if out.Skipped() {
			st.RowErrors++
			if onRowErr != nil {
				onRowErr(out.Line, out.Err)
			}
			continue
		}

		st.RowsAccepted++
		cur = append(cur, out.Row)
		if len(cur) == size {
			if err := flush(false); err != nil {
				return st, err
			}
		}
	}

	return st, flush(true)
}

func drop(rows []*record.Row) {
	for _, r := range rows {
		r.Drop()
	}
}
