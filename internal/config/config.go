// Package config defines the pipeline configuration consumed by the tabload
// driver and its components.
//
// A Pipeline value is built once (file, then environment overrides, then
// defaults) and passed explicitly into every constructor. Nothing in the
// module reads configuration from package-level state.
package config

import (
	"strings"
	"time"
)

// Pipeline is the root configuration for one import run.
type Pipeline struct {
	// Job names the run in logs, metrics tags and flat log file names.
	Job string `json:"job" yaml:"job" env:"TABLOAD_JOB"`

	Source  Source  `json:"source" yaml:"source"`
	Storage Storage `json:"storage" yaml:"storage"`
	Runtime Runtime `json:"runtime" yaml:"runtime"`
	Logging Logging `json:"logging" yaml:"logging"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Source selects the input directory and the reader used for its files.
type Source struct {
	// Kind is the source format: "csv" or "xlsx".
	Kind string `json:"kind" yaml:"kind" env:"TABLOAD_SOURCE_KIND"`

	// Dir is the directory enumerated by the driver (non-recursive).
	Dir string `json:"dir" yaml:"dir" env:"TABLOAD_SOURCE_DIR"`

	// Patterns are filepath.Match globs applied to base names. When empty the
	// format's own extension list is used.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`

	// Options are format-specific reader options (delimiter, encoding, sheet...).
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Storage describes the destination store and the tables the run touches.
type Storage struct {
	Kind string `json:"kind" yaml:"kind" env:"TABLOAD_STORAGE_KIND"`
	DSN  string `json:"dsn" yaml:"dsn" env:"TABLOAD_DSN"`

	DestinationTable string `json:"destination_table" yaml:"destination_table" env:"TABLOAD_DESTINATION_TABLE"`
	StagingTable     string `json:"staging_table" yaml:"staging_table" env:"TABLOAD_STAGING_TABLE"`

	// CreateDestination permits creating the destination from the first
	// unit's sanitized header when it does not exist.
	CreateDestination bool `json:"create_destination" yaml:"create_destination"`

	// TruncateDestination empties the destination once, before any unit runs.
	TruncateDestination bool `json:"truncate_destination" yaml:"truncate_destination"`

	// AtomicTransfer wraps count/insert/count in one transaction. Defaults to true.
	AtomicTransfer *bool `json:"atomic_transfer,omitempty" yaml:"atomic_transfer,omitempty"`

	// CommandTimeout bounds every individual store operation.
	CommandTimeout Duration `json:"command_timeout" yaml:"command_timeout" env:"TABLOAD_COMMAND_TIMEOUT"`

	ErrorLogTable   string `json:"error_log_table" yaml:"error_log_table"`
	SuccessLogTable string `json:"success_log_table" yaml:"success_log_table"`

	// DropStagingOnExit removes staging tables after the run completes.
	DropStagingOnExit bool `json:"drop_staging_on_exit" yaml:"drop_staging_on_exit"`
}

// Atomic reports whether transfers run inside a single transaction.
func (s Storage) Atomic() bool {
	if s.AtomicTransfer == nil {
		return true
	}
	return *s.AtomicTransfer
}

// Runtime holds batching and parallelism knobs.
type Runtime struct {
	BatchSize   int `json:"batch_size" yaml:"batch_size" env:"TABLOAD_BATCH_SIZE"`
	MaxParallel int `json:"max_parallel" yaml:"max_parallel" env:"TABLOAD_MAX_PARALLEL"`
}

// Logging configures the process logger and the per-run flat log file.
type Logging struct {
	Level     string `json:"level" yaml:"level" env:"TABLOAD_LOG_LEVEL"`
	Format    string `json:"format" yaml:"format" env:"TABLOAD_LOG_FORMAT"`
	Dir       string `json:"dir" yaml:"dir" env:"TABLOAD_LOG_DIR"`
	MaxSizeMB int    `json:"max_size_mb" yaml:"max_size_mb"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend    string   `json:"backend" yaml:"backend" env:"METRICS_BACKEND"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	FlushEvery Duration `json:"flush_every" yaml:"flush_every"`
}

// Defaults used by ApplyDefaults.
const (
	DefaultBatchSize       = 1024
	DefaultMaxParallel     = 1
	DefaultCommandTimeout  = 5 * time.Minute
	DefaultErrorLogTable   = "etl_error_log"
	DefaultSuccessLogTable = "etl_success_log"
	DefaultLogDir          = "logs"
	DefaultLogMaxSizeMB    = 100
)

// ApplyDefaults fills zero-valued fields with their defaults.
func (p *Pipeline) ApplyDefaults() {
	if strings.TrimSpace(p.Job) == "" {
		p.Job = "tabload"
	}
	p.Source.Kind = strings.ToLower(strings.TrimSpace(p.Source.Kind))
	p.Storage.Kind = strings.ToLower(strings.TrimSpace(p.Storage.Kind))

	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Runtime.MaxParallel <= 0 {
		p.Runtime.MaxParallel = DefaultMaxParallel
	}
	if p.Storage.CommandTimeout.Duration <= 0 {
		p.Storage.CommandTimeout.Duration = DefaultCommandTimeout
	}
	if p.Storage.ErrorLogTable == "" {
		p.Storage.ErrorLogTable = DefaultErrorLogTable
	}
	if p.Storage.SuccessLogTable == "" {
		p.Storage.SuccessLogTable = DefaultSuccessLogTable
	}
	if p.Logging.Level == "" {
		p.Logging.Level = "info"
	}
	if p.Logging.Format == "" {
		p.Logging.Format = "text"
	}
	if p.Logging.Dir == "" {
		p.Logging.Dir = DefaultLogDir
	}
	if p.Logging.MaxSizeMB <= 0 {
		p.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if p.Metrics.FlushEvery.Duration <= 0 {
		p.Metrics.FlushEvery.Duration = 60 * time.Second
	}
}

// Duration is a time.Duration decoded from strings like "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (used by JSON, YAML and env).
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
