// Package logging builds the process logger and the per-run flat log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logrus logger writing to w.
//
// level is any logrus level name ("debug", "info", "warn", ...). format is
// "text" or "json"; empty means text.
func New(level, format string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", format)
	}
	return l, nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// RunLog is the flat, human-readable log of one run. Every error and
// success record lands here whether or not the relational logs accept it.
type RunLog struct {
	path string
	out  *lumberjack.Logger
	log  *logrus.Logger
}

// RunLogName returns "<job>_<yyyymmdd_hhmmss>.log" for a run started at start.
func RunLogName(job string, start time.Time) string {
	job = strings.TrimSpace(job)
	if job == "" {
		job = "run"
	}
	return fmt.Sprintf("%s_%s.log", job, start.Format("20060102_150405"))
}

// NewRunLog creates dir if needed and opens the run log inside it. Files
// rotate at maxSizeMB megabytes.
func NewRunLog(dir, job string, start time.Time, maxSizeMB int) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	path := filepath.Join(dir, RunLogName(job, start))

	out := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   maxSizeMB, // megabytes
		LocalTime: true,
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})

	return &RunLog{path: path, out: out, log: l}, nil
}

// Path is the log file location.
func (r *RunLog) Path() string { return r.path }

// Logger is the logrus logger bound to the file.
func (r *RunLog) Logger() *logrus.Logger { return r.log }

func (r *RunLog) Close() error { return r.out.Close() }
