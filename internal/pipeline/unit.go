package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tabload/internal/batch"
	"tabload/internal/metrics"
	"tabload/internal/parser"
	"tabload/internal/recorder"
)

// worker processes units one at a time against its own staging table.
type worker struct {
	slot   int
	d      *Driver
	stager *Stager
	dest   *destination
	log    logrus.FieldLogger
}

// stageError tags an emit failure with the stage it happened in.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// process runs u to a terminal state. The returned error is run-level; all
// file-level problems are reported through the outcome.
func (w *worker) process(ctx context.Context, u parser.Unit) (FileOutcome, error) {
	start := time.Now()
	o := FileOutcome{Unit: u.Name, Stage: StageReading}
	log := w.log.WithField("file", u.Name)

	fatal := w.run(ctx, u, &o, log)
	o.Elapsed = time.Since(start)
	if fatal != nil {
		o.fail(o.Stage, fatal)
		w.recordFailure(ctx, &o, log)
		return o, fatal
	}
	if o.Status == StatusFailed && cancelled(ctx, o.Err) {
		o.cancel()
	}

	switch o.Status {
	case StatusCancelled:
		// No Error Record for cancelled units.
		log.WithFields(logrus.Fields{"stage": o.Stage, "rows_staged": o.RowsStaged}).Warn("unit cancelled")
	case StatusSkipped:
		log.WithFields(logrus.Fields{"stage": StageValidating, "unmatched": o.Validation.Unmatched}).Warn("unit skipped")
		w.d.Recorder.RecordError(ctx, recorder.ErrorRecord{
			File:     u.Name,
			Locator:  string(StageValidating),
			Category: recorder.CategorySchema,
			Reason:   o.Reason,
		})
	case StatusFailed:
		w.recordFailure(ctx, &o, log)
	default:
		o.Status = StatusSucceeded
		w.d.Recorder.RecordSuccess(ctx, recorder.SuccessRecord{
			File:               u.Name,
			Message:            fmt.Sprintf("transferred %d rows into %s", o.RowsMoved, w.dest.name),
			Rows:               o.RowsMoved,
			SourceColumns:      o.Validation.StagingCount,
			DestinationColumns: o.Validation.DestinationCount,
			MatchedColumns:     len(o.Validation.Matched),
			Elapsed:            o.Elapsed,
		})
		log.WithFields(logrus.Fields{
			"stage":    StageTransferring,
			"rows":     o.RowsMoved,
			"duration": o.Elapsed.Truncate(time.Millisecond),
		}).Info("unit transferred")
	}
	metrics.RecordFile(w.d.metrics(), string(o.Status), o.Elapsed)
	return o, nil
}

func (w *worker) recordFailure(ctx context.Context, o *FileOutcome, log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{"stage": o.Stage, "err": o.Err}).Error("unit failed")
	w.d.Recorder.RecordError(ctx, recorder.ErrorRecord{
		File:     o.Unit,
		Locator:  string(o.Stage),
		Category: stageCategory(o.Stage),
		Reason:   o.Reason,
	})
}

// cancelled reports whether err is the run's own cancellation rather than a
// store or input failure.
func cancelled(ctx context.Context, err error) bool {
	cause := ctx.Err()
	return cause != nil && errors.Is(err, cause)
}

func stageCategory(s Stage) recorder.Category {
	switch s {
	case StageStaging:
		return recorder.CategoryStaging
	case StageValidating:
		return recorder.CategoryValidation
	case StageTransferring:
		return recorder.CategoryTransfer
	default:
		return recorder.CategoryRead
	}
}

// run drives the state machine, leaving file-level results in o.
func (w *worker) run(ctx context.Context, u parser.Unit, o *FileOutcome, log logrus.FieldLogger) error {
	m := w.d.metrics()
	cfg := w.d.Pipeline

	src, err := w.d.Format.Open(ctx, u)
	if err != nil {
		o.fail(StageReading, err)
		return nil
	}
	defer src.Close()

	onRowErr := func(line int, err error) {
		w.d.Recorder.RecordError(ctx, recorder.ErrorRecord{
			File:     u.Name,
			Locator:  fmt.Sprintf("line %d", line),
			Category: recorder.CategoryRow,
			Reason:   err.Error(),
		})
	}

	emit := func(ctx context.Context, b batch.Batch) error {
		o.Stage = StageStaging
		stepStart := time.Now()
		if b.First {
			if err := w.stager.Reset(ctx, src.Header()); err != nil {
				metrics.RecordStep(m, "staging_reset", "error", time.Since(stepStart))
				return &stageError{StageStaging, err}
			}
			log.WithFields(logrus.Fields{"stage": StageStaging, "table": w.stager.Table(), "columns": len(w.stager.Columns())}).Debug("staging table ready")
		}
		n, err := w.stager.Load(ctx, b)
		o.RowsStaged += n
		if err != nil {
			metrics.RecordStep(m, "staging_load", "error", time.Since(stepStart))
			return &stageError{StageStaging, err}
		}
		if b.Len() > 0 {
			o.Batches++
			metrics.RecordBatch(m)
			metrics.RecordRows(m, metrics.KindStaged, n)
			metrics.RecordStep(m, "staging_load", "ok", time.Since(stepStart))
		}
		o.Stage = StageReading
		return nil
	}

	st, err := batch.Accumulate(ctx, src, cfg.Runtime.BatchSize, onRowErr, emit)
	o.RowsRead = st.RowsRead
	o.RowErrors = st.RowErrors
	metrics.RecordRows(m, metrics.KindRead, int64(st.RowsAccepted))
	metrics.RecordRows(m, metrics.KindRowError, int64(st.RowErrors))
	if err != nil {
		var se *stageError
		if errors.As(err, &se) {
			o.fail(se.stage, se.err)
		} else {
			o.fail(StageReading, err)
		}
		return nil
	}
	if o.RowsStaged == 0 {
		o.fail(StageReading, ErrNoDataRows)
		return nil
	}

	o.Stage = StageValidating
	stepStart := time.Now()
	staged, err := storeCall(ctx, cfg.Storage.CommandTimeout.Duration, func(ctx context.Context) ([]string, error) {
		return w.d.Repo.ColumnNames(ctx, w.stager.Table())
	})
	if err != nil {
		o.fail(StageValidating, fmt.Errorf("introspect staging %s: %w", w.stager.Table(), err))
		return nil
	}

	created, err := w.dest.ensure(ctx, staged)
	if errors.Is(err, ErrDestinationMissing) {
		return err
	}
	if err != nil {
		metrics.RecordStep(m, "validate", "error", time.Since(stepStart))
		o.fail(StageValidating, err)
		return nil
	}
	if created {
		log.WithFields(logrus.Fields{"stage": StageValidating, "table": w.dest.name, "columns": len(staged)}).Info("destination created from unit header")
	}

	destCols, err := storeCall(ctx, cfg.Storage.CommandTimeout.Duration, func(ctx context.Context) ([]string, error) {
		return w.d.Repo.ColumnNames(ctx, w.dest.name)
	})
	if err != nil {
		o.fail(StageValidating, fmt.Errorf("introspect destination %s: %w", w.dest.name, err))
		return nil
	}

	v := Validate(staged, destCols)
	o.Validation = &v
	if !v.Valid() {
		metrics.RecordStep(m, "validate", "mismatch", time.Since(stepStart))
		o.skip(v)
		return nil
	}
	metrics.RecordStep(m, "validate", "ok", time.Since(stepStart))

	o.Stage = StageTransferring
	stepStart = time.Now()
	res, err := Transfer(ctx, w.d.Repo, w.stager.Table(), w.dest.name, v, cfg.Storage.Atomic(), cfg.Storage.CommandTimeout.Duration)
	if err != nil {
		metrics.RecordStep(m, "transfer", "error", time.Since(stepStart))
		o.fail(StageTransferring, err)
		return nil
	}
	metrics.RecordStep(m, "transfer", "ok", time.Since(stepStart))
	metrics.RecordRows(m, metrics.KindTransferred, res.Added())

	if !res.Consistent() {
		log.WithFields(logrus.Fields{
			"stage":    StageTransferring,
			"added":    res.Added(),
			"affected": res.Affected,
		}).Warn("destination row-count delta differs from rows affected; another writer may be active")
	}
	o.RowsMoved = res.Added()
	return nil
}
