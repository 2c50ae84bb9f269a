// Package pipeline drives units (files or worksheets) through staging,
// validation and transfer into the destination table.
//
// Per unit the state machine is
//
//	Reading -> Staging -> Validating -> Transferring -> Succeeded
//	                                 \-> Skipped (schema mismatch)
//	any stage -> Failed
//	any stage -> Cancelled (run cancelled while the unit was in flight)
//
// and every terminal state moves the driver on to the next unit. Only
// run-level problems (store unreachable, destination missing) are returned
// as errors.
package pipeline

import (
	"errors"
	"time"
)

// Sentinel errors. File-level ones end up in FileOutcome.Err, run-level ones
// are returned by Driver.Run.
var (
	ErrNoDataRows         = errors.New("no data rows after header")
	ErrDestinationMissing = errors.New("destination table does not exist and create_destination is off")
	ErrStoreUnreachable   = errors.New("destination store unreachable")
)

// Status is the terminal state of a unit.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Stage is the step a unit was in when it finished.
type Stage string

const (
	StageReading      Stage = "reading"
	StageStaging      Stage = "staging"
	StageValidating   Stage = "validating"
	StageTransferring Stage = "transferring"
)

// FileOutcome is the result of processing one unit.
type FileOutcome struct {
	Unit   string
	Status Status
	Stage  Stage
	Reason string
	Err    error

	RowsRead   int
	RowsStaged int64
	RowErrors  int
	Batches    int
	RowsMoved  int64

	Validation *ValidationResult
	Elapsed    time.Duration
}

func (o *FileOutcome) fail(stage Stage, err error) {
	o.Status = StatusFailed
	o.Stage = stage
	o.Err = err
	o.Reason = err.Error()
}

// cancel marks a failure caused by run cancellation.
func (o *FileOutcome) cancel() {
	o.Status = StatusCancelled
}

func (o *FileOutcome) skip(v ValidationResult) {
	o.Status = StatusSkipped
	o.Stage = StageValidating
	o.Reason = v.Report()
}

// RunSummary folds the outcomes of one run.
type RunSummary struct {
	RunID     string
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int

	RowsMoved int64
	RowErrors int

	FailedFiles    []string
	SkippedFiles   []string
	CancelledFiles []string

	// Outcomes are in unit order.
	Outcomes []FileOutcome
	Elapsed  time.Duration
}

// Add folds one outcome into s.
func (s *RunSummary) Add(o FileOutcome) {
	s.Attempted++
	s.RowErrors += o.RowErrors
	switch o.Status {
	case StatusSucceeded:
		s.Succeeded++
		s.RowsMoved += o.RowsMoved
	case StatusSkipped:
		s.Skipped++
		s.SkippedFiles = append(s.SkippedFiles, o.Unit)
	case StatusCancelled:
		s.Cancelled++
		s.CancelledFiles = append(s.CancelledFiles, o.Unit)
	default:
		s.Failed++
		s.FailedFiles = append(s.FailedFiles, o.Unit)
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Clean reports whether every attempted unit succeeded or was skipped.
func (s RunSummary) Clean() bool { return s.Failed == 0 && s.Cancelled == 0 }
