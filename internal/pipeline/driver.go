package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tabload/internal/config"
	"tabload/internal/metrics"
	"tabload/internal/parser"
	"tabload/internal/recorder"
	"tabload/internal/storage"
)

// Driver runs every unit of the input directory through the pipeline.
type Driver struct {
	Pipeline config.Pipeline
	Repo     storage.Repository
	Format   parser.Format
	Recorder *recorder.Recorder

	// Optional.
	RunID   string
	Logger  logrus.FieldLogger
	Metrics metrics.Backend
}

func (d *Driver) logger() logrus.FieldLogger {
	if d.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return d.Logger
}

func (d *Driver) metrics() metrics.Backend { return metrics.OrNop(d.Metrics) }

// workItem is one unit in run order. err is set when the file could not be
// split into units.
type workItem struct {
	index int
	unit  parser.Unit
	err   error
}

type result struct {
	index int
	out   FileOutcome
}

// Run processes the input directory and returns the run summary.
//
// Errors:
//   - store unreachable, log tables or destination truncation failing,
//     destination missing without create_destination: nothing is processed.
//   - ctx cancellation stops dispatching after in-flight store calls finish
//     and is returned. Units in flight at that point are counted as
//     cancelled.
//
// When the destination has to be created, units run one at a time in order
// until one of them creates it, so its columns come from the lowest-index
// unit that reaches validation. The remaining units then go to the pool.
func (d *Driver) Run(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	sum := RunSummary{RunID: d.RunID}
	log := d.logger().WithField("run_id", d.RunID)
	cfg := d.Pipeline

	dest, err := d.preflight(ctx, log)
	if err != nil {
		return sum, err
	}

	items, err := d.listUnits()
	if err != nil {
		return sum, err
	}
	log.WithFields(logrus.Fields{"stage": "list", "dir": cfg.Source.Dir, "units": len(items)}).Info("input enumerated")

	n := cfg.Runtime.MaxParallel
	if n <= 0 {
		n = 1
	}
	if n > len(items) {
		n = max(len(items), 1)
	}
	workers := make([]*worker, n)
	stagers := make([]*Stager, n)
	for i := range workers {
		stagers[i] = NewStager(d.Repo, StagingTableName(cfg.Storage.StagingTable, i+1, cfg.Runtime.MaxParallel), cfg.Storage.CommandTimeout.Duration)
		workers[i] = &worker{
			slot:   i + 1,
			d:      d,
			stager: stagers[i],
			dest:   dest,
			log:    log.WithField("worker", i+1),
		}
	}

	done := make([]*FileOutcome, len(items))
	next := 0
	var runErr error
	for next < len(items) && !dest.isReady() && ctx.Err() == nil {
		it := items[next]
		next++
		out, err := workers[0].handle(ctx, it)
		done[it.index] = &out
		if err != nil {
			runErr = err
			break
		}
	}
	if runErr == nil && next < len(items) {
		runErr = runPool(ctx, items[next:], workers, done)
	}

	for _, o := range done {
		if o != nil {
			sum.Add(*o)
		}
	}
	if cfg.Storage.DropStagingOnExit {
		d.dropStaging(ctx, stagers, log)
	}
	sum.Elapsed = time.Since(start)

	log.WithFields(logrus.Fields{
		"stage":      "summary",
		"attempted":  sum.Attempted,
		"succeeded":  sum.Succeeded,
		"skipped":    sum.Skipped,
		"failed":     sum.Failed,
		"cancelled":  sum.Cancelled,
		"rows_moved": sum.RowsMoved,
		"duration":   sum.Elapsed.Truncate(time.Millisecond),
	}).Info("run finished")

	if runErr != nil {
		return sum, runErr
	}
	return sum, ctx.Err()
}

// runPool feeds items to the workers and stores each outcome in done at the
// unit's index. The first run-level error stops dispatching.
func runPool(ctx context.Context, items []workItem, workers []*worker, done []*FileOutcome) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan workItem)
	results := make(chan result, len(workers))

	g.Go(func() error {
		defer close(jobs)
		for _, it := range items {
			select {
			case jobs <- it:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for _, w := range workers {
		g.Go(func() error {
			for it := range jobs {
				if gctx.Err() != nil {
					continue
				}
				out, err := w.handle(gctx, it)
				results <- result{index: it.index, out: out}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(results)
	}()

	for r := range results {
		out := r.out
		done[r.index] = &out
	}
	return <-waitErr
}

// StagingTableName returns the staging table of worker slot. With a single
// worker the configured name is used as-is.
func StagingTableName(base string, slot, maxParallel int) string {
	if maxParallel <= 1 {
		return base
	}
	return fmt.Sprintf("%s_w%d", base, slot)
}

func (d *Driver) preflight(ctx context.Context, log logrus.FieldLogger) (*destination, error) {
	cfg := d.Pipeline.Storage
	timeout := cfg.CommandTimeout.Duration
	start := time.Now()

	if err := storeExec(ctx, timeout, d.Repo.Ping); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
	}
	if err := d.Recorder.EnsureTables(ctx); err != nil {
		return nil, fmt.Errorf("ensure log tables: %w", err)
	}

	dest := &destination{repo: d.Repo, name: cfg.DestinationTable, create: cfg.CreateDestination, timeout: timeout}
	exists, err := storeCall(ctx, timeout, func(ctx context.Context) (bool, error) {
		return d.Repo.TableExists(ctx, cfg.DestinationTable)
	})
	if err != nil {
		return nil, fmt.Errorf("check destination %s: %w", cfg.DestinationTable, err)
	}
	switch {
	case exists:
		dest.ready = true
		if cfg.TruncateDestination {
			if err := storeExec(ctx, timeout, func(ctx context.Context) error {
				return d.Repo.TruncateTable(ctx, cfg.DestinationTable)
			}); err != nil {
				return nil, fmt.Errorf("truncate destination %s: %w", cfg.DestinationTable, err)
			}
			log.WithFields(logrus.Fields{"stage": "preflight", "table": cfg.DestinationTable}).Info("destination truncated")
		}
	case !cfg.CreateDestination:
		return nil, fmt.Errorf("%s: %w", cfg.DestinationTable, ErrDestinationMissing)
	}

	metrics.RecordStep(d.metrics(), "preflight", "ok", time.Since(start))
	return dest, nil
}

// listUnits enumerates the input directory in lexicographic order. Hidden
// files and spreadsheet lock files ("~$book.xlsx") are ignored.
func (d *Driver) listUnits() ([]workItem, error) {
	src := d.Pipeline.Source
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		return nil, fmt.Errorf("list input dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		path := filepath.Join(src.Dir, name)
		if !d.matches(path, src.Patterns) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var items []workItem
	for _, name := range names {
		path := filepath.Join(src.Dir, name)
		units, err := d.Format.Units(path)
		if err != nil {
			items = append(items, workItem{index: len(items), unit: parser.FileUnit(path), err: err})
			continue
		}
		for _, u := range units {
			items = append(items, workItem{index: len(items), unit: u})
		}
	}
	return items, nil
}

func (d *Driver) matches(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return d.Format.Match(path)
	}
	base := strings.ToLower(filepath.Base(path))
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), base); ok {
			return true
		}
	}
	return false
}

// handle runs one work item. The error is run-level.
func (w *worker) handle(ctx context.Context, it workItem) (FileOutcome, error) {
	if it.err != nil {
		return w.unlisted(ctx, it), nil
	}
	return w.process(ctx, it.unit)
}

// unlisted turns a file that could not be split into units into a failed
// outcome.
func (w *worker) unlisted(ctx context.Context, it workItem) FileOutcome {
	o := FileOutcome{Unit: it.unit.Name}
	o.fail(StageReading, it.err)
	w.recordFailure(ctx, &o, w.log.WithField("file", it.unit.Name))
	metrics.RecordFile(w.d.metrics(), string(o.Status), 0)
	return o
}

func (d *Driver) dropStaging(ctx context.Context, stagers []*Stager, log logrus.FieldLogger) {
	// Drop even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	var errs error
	for _, s := range stagers {
		if err := s.Drop(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", s.Table(), err))
		}
	}
	if errs != nil {
		log.WithFields(logrus.Fields{"stage": "cleanup", "err": errs}).Warn("dropping staging tables failed")
	}
}
