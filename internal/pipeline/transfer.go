package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabload/internal/storage"
)

// Transfer appends the matched staging columns to the destination. Only
// valid results are transferred.
func Transfer(ctx context.Context, repo storage.Repository, staging, destination string, v ValidationResult, atomic bool, timeout time.Duration) (storage.TransferResult, error) {
	if !v.Valid() {
		return storage.TransferResult{}, fmt.Errorf("transfer %s: %s", staging, v.Report())
	}
	req := storage.TransferRequest{
		Staging:       staging,
		Destination:   destination,
		SourceColumns: v.Matched,
		TargetColumns: v.Target,
		Atomic:        atomic,
	}
	res, err := storeCall(ctx, timeout, func(ctx context.Context) (storage.TransferResult, error) {
		return repo.TransferColumns(ctx, req)
	})
	if err != nil {
		return res, fmt.Errorf("transfer %s -> %s: %w", staging, destination, err)
	}
	return res, nil
}

// destination guards the one-time creation of the destination table.
type destination struct {
	repo    storage.Repository
	name    string
	create  bool
	timeout time.Duration

	mu    sync.Mutex
	ready bool
}

func (d *destination) isReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// ensure makes sure the destination exists, creating it from columns when
// permitted. It reports whether this call created the table.
//
// ErrDestinationMissing is run-level. Any other error fails only the calling
// unit and leaves the gate closed, so the next unit checks again.
func (d *destination) ensure(ctx context.Context, columns []string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return false, nil
	}

	ok, err := storeCall(ctx, d.timeout, func(ctx context.Context) (bool, error) {
		return d.repo.TableExists(ctx, d.name)
	})
	if err != nil {
		return false, fmt.Errorf("check destination %s: %w", d.name, err)
	}
	if ok {
		d.ready = true
		return false, nil
	}
	if !d.create {
		return false, fmt.Errorf("%s: %w", d.name, ErrDestinationMissing)
	}
	if err := storeExec(ctx, d.timeout, func(ctx context.Context) error {
		return d.repo.CreateTable(ctx, storage.TextTable(d.name, columns))
	}); err != nil {
		return false, fmt.Errorf("create destination %s: %w", d.name, err)
	}
	d.ready = true
	return true, nil
}
