package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/streamload/internal/output"
	"github.com/wesleyorama2/streamload/internal/sink"
)

func newSinkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a local ingestion endpoint that counts received records",
		Long: `Run a local HTTP server that accepts streamload payloads and counts the
records it receives per table. Useful for trying out a load profile without
a real database:

  streamload sink --addr 127.0.0.1:32149 &
  streamload run 127.0.0.1:32149 --size 10MB

The server can answer slowly (--delay) or inject 503 responses every n-th
request (--fail-every) to exercise the retry path. Stop it with Ctrl-C to
print what was received; GET /stats shows the same numbers while running.`,
		Args: cobra.NoArgs,
		RunE: runSink,
	}

	cmd.Flags().String("addr", "127.0.0.1:32149", "Listen address")
	cmd.Flags().Int("status", http.StatusOK, "Status returned for every valid payload")
	cmd.Flags().Duration("delay", 0, "Delay added before every response")
	cmd.Flags().Int("fail-every", 0, "Answer every n-th request with 503 (0 = never)")
	cmd.Flags().BoolP("verbose", "v", false, "Log every payload")

	return cmd
}

func runSink(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	status, _ := cmd.Flags().GetInt("status")
	delay, _ := cmd.Flags().GetDuration("delay")
	failEvery, _ := cmd.Flags().GetInt("fail-every")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if status < 100 || status > 599 {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("invalid status %d", status)}
	}
	if delay < 0 || failEvery < 0 {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("delay and fail-every must not be negative")}
	}

	logger := newLogger(verbose, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := sink.New(sink.Config{
		Addr:      addr,
		Status:    status,
		Delay:     delay,
		FailEvery: failEvery,
	}, logger)

	fmt.Fprintf(cmd.OutOrStdout(), "streamload sink listening on %s\n", addr)
	if err := s.ListenAndServe(ctx); err != nil {
		logger.Error("sink stopped", zap.String("addr", addr), zap.Error(err))
		return &ExitError{Code: ExitRunFailed, Err: err}
	}

	output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout()}).PrintSinkStats(s.Stats())
	return nil
}
