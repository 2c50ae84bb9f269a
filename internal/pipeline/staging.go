package pipeline

import (
	"context"
	"fmt"
	"time"

	"tabload/internal/batch"
	"tabload/internal/sanitize"
	"tabload/internal/storage"
)

// storeCall runs one store operation. Cancellation is checked before the
// call; once started the statement runs to completion bounded only by
// timeout.
func storeCall[T any](ctx context.Context, timeout time.Duration, f func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	cctx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, timeout)
		defer cancel()
	}
	return f(cctx)
}

func storeExec(ctx context.Context, timeout time.Duration, f func(context.Context) error) error {
	_, err := storeCall(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

// Stager owns one staging table. A worker holds one Stager for the whole
// run and resets it at the first batch of every unit.
type Stager struct {
	repo    storage.Repository
	table   string
	timeout time.Duration

	columns []string
}

// NewStager returns a Stager for table.
func NewStager(repo storage.Repository, table string, timeout time.Duration) *Stager {
	return &Stager{repo: repo, table: table, timeout: timeout}
}

// Table is the staging table name.
func (s *Stager) Table() string { return s.table }

// Columns are the sanitized staging columns of the current unit.
func (s *Stager) Columns() []string { return s.columns }

// Reset drops the staging table and recreates it from header. Every column
// is nullable text.
func (s *Stager) Reset(ctx context.Context, header []string) error {
	if len(header) == 0 {
		return fmt.Errorf("staging %s: empty header", s.table)
	}
	cols := sanitize.Columns(header, s.repo.MaxIdentifierLength())

	if err := storeExec(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.DropTable(ctx, s.table)
	}); err != nil {
		return fmt.Errorf("drop staging %s: %w", s.table, err)
	}
	if err := storeExec(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.CreateTable(ctx, storage.TextTable(s.table, cols))
	}); err != nil {
		return fmt.Errorf("create staging %s: %w", s.table, err)
	}
	s.columns = cols
	return nil
}

// Load bulk-loads the rows of b. Row values are in header order, which is
// also the order of Columns.
func (s *Stager) Load(ctx context.Context, b batch.Batch) (int64, error) {
	if s.columns == nil {
		return 0, fmt.Errorf("staging %s: load before reset", s.table)
	}
	if b.Len() == 0 {
		return 0, nil
	}
	n, err := storeCall(ctx, s.timeout, func(ctx context.Context) (int64, error) {
		return s.repo.BulkLoad(ctx, s.table, s.columns, b.Values())
	})
	if err != nil {
		return n, fmt.Errorf("load staging %s batch %d: %w", s.table, b.Seq, err)
	}
	return n, nil
}

// Drop removes the staging table.
func (s *Stager) Drop(ctx context.Context) error {
	return storeExec(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.DropTable(ctx, s.table)
	})
}
