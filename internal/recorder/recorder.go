// Package recorder appends error and success records for a run.
//
// Every record goes to two places: the relational log tables of the
// destination store and the per-run flat log file. A failed relational
// insert is written to the flat file as a fallback entry, so the recorder
// never returns an error to the pipeline.
package recorder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tabload/internal/storage"
)

// Category classifies an error record.
type Category string

const (
	CategoryRow         Category = "row"
	CategoryRead        Category = "read"
	CategoryStaging     Category = "staging"
	CategoryValidation  Category = "validation"
	CategorySchema      Category = "schema_mismatch"
	CategoryTransfer    Category = "transfer"
	CategoryDestination Category = "destination"
)

// ErrorRecord is one append to the error log.
type ErrorRecord struct {
	File string
	// Locator is a row ("line 17") or stage ("staging") reference.
	Locator  string
	Category Category
	Reason   string
}

// SuccessRecord is one append to the success log, written per transferred unit.
type SuccessRecord struct {
	File    string
	Message string
	Rows    int64

	SourceColumns      int
	DestinationColumns int
	MatchedColumns     int

	Elapsed time.Duration
}

// RowsPerSecond is Rows divided by Elapsed, or 0 when Elapsed is zero.
func (s SuccessRecord) RowsPerSecond() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Rows) / secs
}

// Config names the log tables and bounds each insert.
type Config struct {
	RunID        string
	ErrorTable   string
	SuccessTable string
	Timeout      time.Duration
}

// Recorder writes records. It is safe for concurrent use.
type Recorder struct {
	store storage.Repository
	flat  *logrus.Logger
	cfg   Config
	now   func() time.Time
}

// New returns a Recorder writing to store and flat. store may be nil, in
// which case only the flat log receives records.
func New(store storage.Repository, flat *logrus.Logger, cfg Config) *Recorder {
	return &Recorder{store: store, flat: flat, cfg: cfg, now: time.Now}
}

var (
	errorColumns = []string{"run_id", "file_name", "locator", "category", "reason", "logged_at"}

	successColumns = []string{
		"run_id", "file_name", "message", "total_rows",
		"source_columns", "destination_columns", "matched_columns",
		"processing_seconds", "rows_per_second", "logged_at",
	}
)

// ErrorTableSpec is the error log schema.
func ErrorTableSpec(name string) storage.TableSpec {
	return storage.TableSpec{
		Name:       name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: "identity"},
		Columns: []storage.ColumnSpec{
			{Name: "run_id", Type: storage.TypeText},
			{Name: "file_name", Type: storage.TypeText},
			{Name: "locator", Type: storage.TypeText},
			{Name: "category", Type: storage.TypeText},
			{Name: "reason", Type: storage.TypeText},
			{Name: "logged_at", Type: storage.TypeTimestamp, Nullable: storage.NotNull()},
		},
	}
}

// SuccessTableSpec is the success log schema.
func SuccessTableSpec(name string) storage.TableSpec {
	return storage.TableSpec{
		Name:       name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id", Type: "identity"},
		Columns: []storage.ColumnSpec{
			{Name: "run_id", Type: storage.TypeText},
			{Name: "file_name", Type: storage.TypeText},
			{Name: "message", Type: storage.TypeText},
			{Name: "total_rows", Type: storage.TypeBigInt},
			{Name: "source_columns", Type: storage.TypeInt},
			{Name: "destination_columns", Type: storage.TypeInt},
			{Name: "matched_columns", Type: storage.TypeInt},
			{Name: "processing_seconds", Type: storage.TypeFloat},
			{Name: "rows_per_second", Type: storage.TypeFloat},
			{Name: "logged_at", Type: storage.TypeTimestamp, Nullable: storage.NotNull()},
		},
	}
}

// EnsureTables creates both log tables when missing. Unlike the Record
// methods it reports failures; a run cannot start without its logs.
func (r *Recorder) EnsureTables(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	for _, spec := range []storage.TableSpec{ErrorTableSpec(r.cfg.ErrorTable), SuccessTableSpec(r.cfg.SuccessTable)} {
		if err := r.store.CreateTable(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// RecordError appends one error record.
func (r *Recorder) RecordError(ctx context.Context, rec ErrorRecord) {
	at := r.now()
	fields := logrus.Fields{
		"run_id":   r.cfg.RunID,
		"file":     rec.File,
		"locator":  rec.Locator,
		"category": string(rec.Category),
	}
	r.flat.WithFields(fields).Error(rec.Reason)

	err := r.insert(ctx, r.cfg.ErrorTable, errorColumns, []any{
		r.cfg.RunID, rec.File, rec.Locator, string(rec.Category), rec.Reason, at,
	})
	if err != nil {
		fields["fallback"] = true
		fields["store_error"] = err.Error()
		r.flat.WithFields(fields).Error(rec.Reason)
	}
}

// RecordSuccess appends one success record with derived throughput.
func (r *Recorder) RecordSuccess(ctx context.Context, rec SuccessRecord) {
	at := r.now()
	rps := rec.RowsPerSecond()
	fields := logrus.Fields{
		"run_id":          r.cfg.RunID,
		"file":            rec.File,
		"rows":            rec.Rows,
		"source_cols":     rec.SourceColumns,
		"dest_cols":       rec.DestinationColumns,
		"matched_cols":    rec.MatchedColumns,
		"elapsed":         rec.Elapsed.Round(time.Millisecond).String(),
		"rows_per_second": rps,
	}
	r.flat.WithFields(fields).Info(rec.Message)

	err := r.insert(ctx, r.cfg.SuccessTable, successColumns, []any{
		r.cfg.RunID, rec.File, rec.Message, rec.Rows,
		int64(rec.SourceColumns), int64(rec.DestinationColumns), int64(rec.MatchedColumns),
		rec.Elapsed.Seconds(), rps, at,
	})
	if err != nil {
		fields["fallback"] = true
		fields["store_error"] = err.Error()
		r.flat.WithFields(fields).Error(rec.Message)
	}
}

// insert runs detached from ctx cancellation so records of a cancelled run
// still land; the command timeout bounds it instead.
func (r *Recorder) insert(ctx context.Context, table string, cols []string, vals []any) error {
	if r.store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.store.InsertRecord(ctx, table, cols, vals)
}
