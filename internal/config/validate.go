package config

import (
	"fmt"
	"strings"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from ValidatePipeline.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var knownSourceKinds = map[string]bool{"csv": true, "xlsx": true}

// ValidatePipeline checks p for problems that would make a run meaningless.
// It expects defaults to have been applied.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if !knownSourceKinds[p.Source.Kind] {
		add(SeverityError, "source.kind", "must be one of csv, xlsx (got %q)", p.Source.Kind)
	}
	if strings.TrimSpace(p.Source.Dir) == "" {
		add(SeverityError, "source.dir", "input directory is required")
	}
	if strings.TrimSpace(p.Storage.Kind) == "" {
		add(SeverityError, "storage.kind", "storage backend is required")
	}
	if strings.TrimSpace(p.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "connection string is required")
	}
	if strings.TrimSpace(p.Storage.DestinationTable) == "" {
		add(SeverityError, "storage.destination_table", "destination table is required")
	}
	if strings.TrimSpace(p.Storage.StagingTable) == "" {
		add(SeverityError, "storage.staging_table", "staging table is required")
	}
	if p.Storage.StagingTable != "" && strings.EqualFold(p.Storage.StagingTable, p.Storage.DestinationTable) {
		add(SeverityError, "storage.staging_table", "must differ from destination_table")
	}
	if strings.EqualFold(p.Storage.ErrorLogTable, p.Storage.SuccessLogTable) {
		add(SeverityError, "storage.success_log_table", "must differ from error_log_table")
	}
	if p.Runtime.BatchSize <= 0 {
		add(SeverityError, "runtime.batch_size", "must be > 0")
	}
	if p.Runtime.MaxParallel > 1 {
		add(SeverityWarning, "runtime.max_parallel",
			"%d workers share destination %q; each worker stages into %s_w<N> and transfer row counts assume no other writers",
			p.Runtime.MaxParallel, p.Storage.DestinationTable, p.Storage.StagingTable)
	}
	for i, pat := range p.Source.Patterns {
		if strings.ContainsAny(pat, `/\`) {
			add(SeverityError, fmt.Sprintf("source.patterns[%d]", i), "patterns match base names and must not contain path separators")
		}
	}
	switch strings.ToLower(p.Logging.Format) {
	case "text", "json":
	default:
		add(SeverityError, "logging.format", "must be text or json (got %q)", p.Logging.Format)
	}
	return out
}
