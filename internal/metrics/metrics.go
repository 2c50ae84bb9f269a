// Package metrics is the backend-neutral instrumentation surface of the
// pipeline. Core code depends only on Backend; concrete backends (Datadog)
// live in subpackages.
package metrics

import "time"

// Metric names understood by backends.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"
	FilesTotal          = "etl_files_total"
	FileDurationSeconds = "etl_file_duration_seconds"
)

// Record kinds for RecordsTotal.
const (
	KindRead        = "read"
	KindStaged      = "staged"
	KindTransferred = "transferred"
	KindRowError    = "row_error"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counters and histogram observations. Implementations must
// be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by buffering backends.
type Flusher interface {
	Flush() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// Flush flushes b when it buffers.
func Flush(b Backend) error {
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one pipeline step and observes its duration.
func RecordStep(b Backend, step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows adds n rows of the given kind.
func RecordRows(b Backend, kind string, n int64) {
	if n <= 0 {
		return
	}
	b.IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one loaded batch.
func RecordBatch(b Backend) {
	b.IncCounter(BatchesTotal, 1, nil)
}

// RecordFile counts one processed unit by final status and observes how
// long it took.
func RecordFile(b Backend, status string, d time.Duration) {
	l := Labels{"status": status}
	b.IncCounter(FilesTotal, 1, l)
	b.ObserveHistogram(FileDurationSeconds, d.Seconds(), l)
}
