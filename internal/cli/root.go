package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.1.0"

// Exit codes returned by the streamload binary.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitBadConfig = 2
)

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitRunFailed
}

// newRootCommand builds the command tree. Every call returns fresh flag state.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "streamload",
		Short:   "Generate synthetic time-series rows and stream them to ingestion endpoints",
		Version: version,
		Long: `streamload generates rows of random numeric columns with a timestamp and
delivers them in batches over HTTP PUT to one or more streaming ingestion
endpoints. A run is bounded by a row count, a byte volume or a wall-clock
duration, and can be paced to a target rows-per-second rate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newProbeCommand())
	root.AddCommand(newSinkCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamload %s\n", version)
		},
	}
}

// Execute builds the root command with all child commands and runs it.
// This is called by main.main().
func Execute() error {
	root := newRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// newLogger builds the process logger. Verbose runs get a human readable
// development logger at debug level; otherwise JSON at info level.
func newLogger(verbose bool, w io.Writer) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	level := zapcore.InfoLevel

	if verbose {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}
