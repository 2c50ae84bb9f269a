// Package record defines the pooled Row container handed from row sources to
// the batch accumulator and the staging loader.
package record

import "sync"

// Row is a pooled container holding one source record in header order.
//
// Values are either nil (blank cell) or string. Line is the 1-based physical
// line (delimited text) or row number (worksheets) used in error locators.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - The final consumer calls Free() once nothing references r or r.V.
//   - Cancellation paths call Drop() so a row that may still be observed is
//     never handed back to the pool.
type Row struct {
	V    []any
	Line int
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every value nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without returning it to the pool.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

// Values returns a copy of the row values, safe to retain after Free.
func (r *Row) Values() []any {
	out := make([]any, len(r.V))
	copy(out, r.V)
	return out
}
