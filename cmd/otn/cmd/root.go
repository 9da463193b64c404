package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceNAND/internal/config"
	"github.com/OpenTraceLab/OpenTraceNAND/internal/logging"
	"github.com/OpenTraceLab/OpenTraceNAND/internal/telemetry"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "otn",
	Short: "OpenTraceNAND - NAND and SD bus capture decoder",
	Long: `OpenTraceNAND (otn) turns raw sniffer captures of NAND flash and SD card
traffic into timestamped protocol events. Captures that overflowed the
sniffer buffer are re-joined and re-timed.

Examples:
  otn group capture.bin events.bin        # Decode a capture
  otn sort events.bin events.idx          # Build a sorted, indexed container
  otn inspect events events.bin           # Dump decoded events
  otn synth trace.nts capture.bin         # Build a capture from a script`,
	Version:       "0.9.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Exit codes.
const (
	ExitFailure = 1
	ExitInput   = 2
	ExitOutput  = 3
)

// ExitError carries the process exit code for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// app is the per-invocation environment shared by the subcommands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	switch {
	case verbose:
		cfg.Log.Level = "debug"
	case logLevel != "":
		cfg.Log.Level = logLevel
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(cmd.Context(), "otn", rootCmd.Version)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	return &app{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (a *app) close() {
	if err := a.shutdown(context.Background()); err != nil {
		a.log.Warn("flush traces", zap.Error(err))
	}
	_ = a.log.Sync()
}

func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExitError{Code: ExitInput, Err: fmt.Errorf("open input: %w", err)}
	}
	return f, nil
}

func createOutput(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &ExitError{Code: ExitOutput, Err: fmt.Errorf("create output: %w", err)}
	}
	return f, nil
}

// closeOutput closes f, reporting the close error unless err is already set.
func closeOutput(f *os.File, err *error) {
	if cerr := f.Close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("close output: %w", cerr)
	}
}
