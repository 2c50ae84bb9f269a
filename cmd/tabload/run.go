package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tabload/internal/logging"
	"tabload/internal/parser"
	"tabload/internal/pipeline"
	"tabload/internal/recorder"
	"tabload/internal/storage"
)

type runFlags struct {
	cfgPath        string
	dir            string
	kind           string
	metricsBackend string
}

func newRunCmd(deps appDeps, rf *rootFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load every file of the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, deps, f, rf.verbose)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.cfgPath, "config", "", "pipeline config path (.json, .yaml)")
	fl.StringVar(&f.dir, "dir", "", "input directory (overrides source.dir)")
	fl.StringVar(&f.kind, "kind", "", "source kind csv|xlsx (overrides source.kind)")
	fl.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend none|datadog (overrides env METRICS_BACKEND)")
	return cmd
}

func runPipeline(cmd *cobra.Command, deps appDeps, f runFlags, verbose bool) (err error) {
	ctx := cmd.Context()
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	p, err := loadPipeline(deps, f.cfgPath)
	if err != nil {
		return err
	}
	if f.dir != "" {
		p.Source.Dir = f.dir
	}
	if f.kind != "" {
		p.Source.Kind = f.kind
	}
	p.ApplyDefaults()
	if err := checkPipeline(stderr, p); err != nil {
		return err
	}

	level := p.Logging.Level
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, p.Logging.Format, stderr)
	if err != nil {
		return usageErr("%v", err)
	}

	format, err := parser.New(p.Source.Kind, p.Source.Options)
	if err != nil {
		return usageErr("source: %v", err)
	}

	start := deps.now()
	runID := deps.newRunID()

	// Every resource opened below is closed on the way out; close failures
	// are reported together.
	var closers []func() error
	defer func() {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				errs = multierror.Append(errs, cerr)
			}
		}
		if errs != nil {
			fmt.Fprintf(stderr, "shutdown: %v\n", errs)
			if err == nil {
				err = runErr("shutdown: %v", errs)
			}
		}
	}()

	runLog, err := logging.NewRunLog(p.Logging.Dir, p.Job, start, p.Logging.MaxSizeMB)
	if err != nil {
		return runErr("%v", err)
	}
	closers = append(closers, runLog.Close)

	mh, err := deps.initMetrics(ctx, p, f.metricsBackend, log.Printf)
	if err != nil {
		return runErr("init metrics: %v", err)
	}
	closers = append(closers, mh.close)

	repo, err := deps.openStore(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return runErr("open %s store: %v", p.Storage.Kind, err)
	}
	closers = append(closers, repo.Close)

	rec := recorder.New(repo, runLog.Logger(), recorder.Config{
		RunID:        runID,
		ErrorTable:   p.Storage.ErrorLogTable,
		SuccessTable: p.Storage.SuccessLogTable,
		Timeout:      p.Storage.CommandTimeout.Duration,
	})

	log.WithFields(logrus.Fields{
		"job":         p.Job,
		"source":      p.Source.Kind,
		"dir":         p.Source.Dir,
		"storage":     p.Storage.Kind,
		"destination": p.Storage.DestinationTable,
		"run_log":     runLog.Path(),
	}).Info("run starting")

	d := &pipeline.Driver{
		Pipeline: p,
		Repo:     repo,
		Format:   format,
		Recorder: rec,
		RunID:    runID,
		Logger:   log,
		Metrics:  mh.backend,
	}
	sum, runErrV := d.Run(ctx)
	printSummary(stdout, sum)

	if runErrV != nil {
		return runErr("run: %v", runErrV)
	}
	if !sum.Clean() {
		return &exitError{code: exitUnitFailed, err: errors.New("one or more units failed")}
	}
	return nil
}

// printSummary writes the end-of-run report.
func printSummary(w io.Writer, s pipeline.RunSummary) {
	fmt.Fprintf(w, "run %s finished in %s\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  attempted: %d\n", s.Attempted)
	fmt.Fprintf(w, "  succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(w, "  skipped:   %d\n", s.Skipped)
	fmt.Fprintf(w, "  failed:    %d\n", s.Failed)
	if s.Cancelled > 0 {
		fmt.Fprintf(w, "  cancelled: %d\n", s.Cancelled)
	}
	fmt.Fprintf(w, "  rows moved: %d (row errors: %d)\n", s.RowsMoved, s.RowErrors)
	if len(s.SkippedFiles) > 0 {
		fmt.Fprintf(w, "  skipped files: %s\n", strings.Join(s.SkippedFiles, ", "))
	}
	if len(s.FailedFiles) > 0 {
		fmt.Fprintf(w, "  failed files: %s\n", strings.Join(s.FailedFiles, ", "))
	}
	if len(s.CancelledFiles) > 0 {
		fmt.Fprintf(w, "  cancelled files: %s\n", strings.Join(s.CancelledFiles, ", "))
	}
}
