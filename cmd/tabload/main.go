// Command tabload loads a directory of delimited-text or spreadsheet files
// into a relational destination table.
//
// Exit codes:
//
//	0  every unit succeeded or was skipped
//	1  run-level failure (store unreachable, destination missing, ...)
//	2  usage or configuration error
//	3  the run completed but at least one unit failed
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tabload/internal/config"
	"tabload/internal/storage"

	// register all backends and formats; the config picks one of each.
	_ "tabload/internal/parser/all"
	_ "tabload/internal/storage/all"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK         = 0
	exitRunFailed  = 1
	exitUsage      = 2
	exitUnitFailed = 3
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(format string, a ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, a...)}
}

func runErr(format string, a ...any) error {
	return &exitError{code: exitRunFailed, err: fmt.Errorf(format, a...)}
}

// appDeps are the side-effecting seams of the CLI.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	openStore   func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	initMetrics func(ctx context.Context, p config.Pipeline, backendName string, logf func(string, ...any)) (metricsHandle, error)
	newRunID    func() string
	now         func() time.Time
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		openStore:   storage.New,
		initMetrics: initMetrics,
		newRunID:    uuid.NewString,
		now:         time.Now,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain executes the command line and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && ee.code != exitUnitFailed {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	// cobra flag and argument errors
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitUsage
}

type rootFlags struct {
	envFile string
	verbose bool
}

func newRootCmd(deps appDeps) *cobra.Command {
	var rf rootFlags

	root := &cobra.Command{
		Use:           "tabload",
		Short:         "Load tabular files into a relational table",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(rf.envFile)
		},
	}
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", "", "dotenv file to load before reading the config (default .env when present)")
	root.PersistentFlags().BoolVarP(&rf.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(newRunCmd(deps, &rf), newValidateCmd(deps), newProbeCmd(), newVersionCmd())
	return root
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. An empty path loads .env if it exists.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return usageErr("load env file %s: %v", path, err)
	}
	return nil
}

func newValidateCmd(deps appDeps) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline config and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(deps, cfgPath)
			if err != nil {
				return err
			}
			if err := checkPipeline(cmd.ErrOrStderr(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "pipeline config path (.json, .yaml)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func loadPipeline(deps appDeps, path string) (config.Pipeline, error) {
	if path == "" {
		return config.Pipeline{}, usageErr("--config is required")
	}
	p, err := deps.loadConfig(path)
	if err != nil {
		return config.Pipeline{}, usageErr("%v", err)
	}
	return p, nil
}

// checkPipeline prints every issue and fails on errors.
func checkPipeline(w io.Writer, p config.Pipeline) error {
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	if config.HasErrors(issues) {
		return usageErr("configuration is invalid")
	}
	return nil
}
