package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/streamload/internal/config"
	"github.com/wesleyorama2/streamload/internal/ingest"
	"github.com/wesleyorama2/streamload/internal/metrics"
	"github.com/wesleyorama2/streamload/internal/output"
	"github.com/wesleyorama2/streamload/internal/pool"
	"github.com/wesleyorama2/streamload/internal/scheduler"
	"github.com/wesleyorama2/streamload/internal/size"
)

// progressInterval is how often the live display is refreshed.
const progressInterval = time.Second

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [CONNS]",
		Short: "Generate rows and stream them to one or more ingestion endpoints",
		Long: `Generate rows of random values and deliver them in batches over HTTP PUT.

CONNS is a comma separated list of host:port endpoints. It may be omitted
when --config supplies the connections.

Size bounded run:
  streamload run 10.0.0.1:32149,10.0.0.2:32149 --size 1GB --num-columns 4

Time bounded, paced run:
  streamload run 10.0.0.1:32149 --run-time 5m --hz 5000

Config file mode (flags override file values):
  streamload run --config run.yaml --table other_table`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngest,
	}

	flags := cmd.Flags()
	flags.IntP("num-columns", "c", config.DefaultColumns, "Number of value columns per row")
	flags.IntP("batch-size", "b", config.DefaultBatchSize, "Rows per request when --hz is not set")
	flags.StringP("size", "s", config.DefaultSize, "Volume to send: a row count, a byte size (10MB, 1.5GB) or 0 with --run-time")
	flags.Float64("hz", 0, "Target rows per second across all workers (0 = unthrottled)")
	flags.Int("max-threads", 0, "Maximum number of workers, capped at twice the endpoint count (0 = one per endpoint)")
	flags.String("run-time", "", "Run for a fixed time instead of a size (e.g. 30s, 5m or bare seconds)")
	flags.String("dbms", config.DefaultDBMS, "Destination database name")
	flags.String("table", config.DefaultTable, "Destination table name")
	flags.Bool("column-as-table", false, "Send every column to its own <table>_<column> table of points")
	flags.Int("retries", config.DefaultRetries, "Attempts per payload, including the first")
	flags.Duration("backoff", config.DefaultBackoff, "Retry wait step; the wait after attempt n is n times this")
	flags.DurationP("timeout", "t", config.DefaultTimeout, "Per-request timeout")
	flags.StringArrayP("header", "H", []string{}, "Extra HTTP header as 'Key: Value' (can be used multiple times)")
	flags.String("config", "", "YAML or JSON run configuration file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flags.Bool("json", false, "Print the final summary as JSON")
	flags.BoolP("quiet", "q", false, "Only print whether the run passed")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.Bool("no-color", false, "Disable colored output")

	return cmd
}

// runIngest executes one ingestion run.
func runIngest(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg, err := buildRunConfig(cmd, args)
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}

	plan, err := planRun(cfg)
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}

	endpoints, err := pool.New(cfg.Connections)
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}

	runID := uuid.NewString()
	logger := newLogger(verbose, cmd.ErrOrStderr()).With(zap.String("run_id", runID))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := metrics.NewEngine()
	if cfg.MetricsAddr != "" {
		collectors := metrics.NewCollectors()
		engine.WithCollectors(collectors)
		go func() {
			if err := collectors.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
			}
		}()
	}

	client := newIngestClient(cfg, engine, logger)
	workers := scheduler.WorkerCount(cfg.MaxThreads, endpoints.Size(), cfg.Columns, cfg.ColumnAsTable)

	silent := quiet || jsonOut
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   silent,
		NoColor: noColor,
	})

	sched, err := scheduler.New(scheduler.Config{
		Plan:          plan,
		Table:         cfg.Table,
		ColumnAsTable: cfg.ColumnAsTable,
		BatchSize:     cfg.BatchSize,
		Duration:      time.Duration(cfg.RunTime),
		Workers:       workers,
		Rate:          cfg.Hz,
	}, endpoints, client,
		scheduler.WithMetrics(engine),
		scheduler.WithLogger(logger),
		scheduler.WithErrorHandler(func(workerID int, err error) {
			if !silent {
				console.PrintFailure(workerID, err)
			}
		}),
	)
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}

	addrs := make([]string, 0, endpoints.Size())
	for _, ep := range endpoints.Endpoints() {
		addrs = append(addrs, ep.Addr)
	}
	console.PrintHeader(output.RunInfo{
		RunID:         runID,
		Endpoints:     addrs,
		Workers:       workers,
		Columns:       cfg.Columns,
		Table:         cfg.Table,
		ColumnAsTable: cfg.ColumnAsTable,
		Plan:          plan.String(),
		Duration:      time.Duration(cfg.RunTime),
		Rate:          cfg.Hz,
		BatchSize:     sched.Governor().BatchSize(cfg.BatchSize),
	})

	result, runErr := runWithProgress(ctx, sched, engine, console, silent)
	if result == nil {
		return &ExitError{Code: ExitRunFailed, Err: runErr}
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted", zap.Int64("accepted", result.Accepted))
	}

	summary := &output.Summary{
		RunID:     runID,
		Passed:    passed(result),
		Result:    result,
		Metrics:   engine.GetSnapshot(),
		Endpoints: engine.GetEndpointStats(),
	}
	if jsonOut {
		if err := console.PrintJSON(summary); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	} else {
		console.PrintSummary(summary)
	}

	if !summary.Passed {
		return &ExitError{
			Code: ExitRunFailed,
			Err:  fmt.Errorf("no rows were accepted and %d batches failed", result.FailedBatches),
		}
	}
	return nil
}

// buildRunConfig starts from the config file, if any, and applies every
// flag that was set explicitly on the command line.
func buildRunConfig(cmd *cobra.Command, args []string) (*config.RunConfig, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) == 1 {
		cfg.Connections = config.SplitConnections(args[0])
	}

	if flags.Changed("num-columns") {
		cfg.Columns, _ = flags.GetInt("num-columns")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("size") {
		s, _ := flags.GetString("size")
		cfg.Size = config.SizeSpec(s)
	}
	if flags.Changed("hz") {
		cfg.Hz, _ = flags.GetFloat64("hz")
	}
	if flags.Changed("max-threads") {
		cfg.MaxThreads, _ = flags.GetInt("max-threads")
	}
	if flags.Changed("run-time") {
		s, _ := flags.GetString("run-time")
		d, err := config.ParseDurationString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --run-time %q: %w", s, err)
		}
		cfg.RunTime = config.Duration(d)
	}
	if flags.Changed("dbms") {
		cfg.DBMS, _ = flags.GetString("dbms")
	}
	if flags.Changed("table") {
		cfg.Table, _ = flags.GetString("table")
	}
	if flags.Changed("column-as-table") {
		cfg.ColumnAsTable, _ = flags.GetBool("column-as-table")
	}
	if flags.Changed("retries") {
		cfg.Retry.Attempts, _ = flags.GetInt("retries")
	}
	if flags.Changed("backoff") {
		d, _ := flags.GetDuration("backoff")
		cfg.Retry.Backoff = config.Duration(d)
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.Timeout = config.Duration(d)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	headers, _ := flags.GetStringArray("header")
	parsed, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}
	if len(parsed) > 0 && cfg.Headers == nil {
		cfg.Headers = make(map[string]string, len(parsed))
	}
	for key, value := range parsed {
		cfg.Headers[key] = value
	}

	return cfg, nil
}

// planRun picks a deadline plan when a run time is set and a size plan
// otherwise.
func planRun(cfg *config.RunConfig) (*size.Plan, error) {
	if cfg.RunTime > 0 {
		return size.TimeBounded(cfg.Columns)
	}
	return size.New(cfg.Columns, string(cfg.Size))
}

// parseHeaders parses "Key: Value" pairs.
func parseHeaders(headers []string) (map[string]string, error) {
	out := make(map[string]string, len(headers))
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Key: Value'", header)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

func newIngestClient(cfg *config.RunConfig, observer ingest.Observer, logger *zap.Logger) *ingest.Client {
	transport := ingest.DefaultTransportConfig()
	transport.Timeout = time.Duration(cfg.Timeout)

	options := []ingest.ClientOption{
		ingest.WithHTTPClient(ingest.NewHTTPClient(transport)),
		ingest.WithDatabase(cfg.DBMS),
		ingest.WithRetryPolicy(ingest.RetryPolicy{
			MaxAttempts: cfg.Retry.Attempts,
			Backoff:     ingest.LinearBackoff(time.Duration(cfg.Retry.Backoff)),
		}),
		ingest.WithLogger(logger),
	}
	if observer != nil {
		options = append(options, ingest.WithObserver(observer))
	}
	for key, value := range cfg.Headers {
		options = append(options, ingest.WithHeader(key, value))
	}
	return ingest.NewClient(options...)
}

// runWithProgress runs the scheduler and refreshes the live display until
// every worker has stopped.
func runWithProgress(
	ctx context.Context,
	sched *scheduler.Scheduler,
	engine *metrics.Engine,
	console *output.Console,
	silent bool,
) (*scheduler.Result, error) {
	type outcome struct {
		result *scheduler.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := sched.Run(ctx)
		done <- outcome{result: result, err: err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case now := <-ticker.C:
			if silent {
				continue
			}
			stats := output.StatsFromMetrics(engine.GetSnapshot(), sched.State(), now)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// passed reports whether a run counts as successful: it fails only when
// nothing was accepted while batches failed.
func passed(result *scheduler.Result) bool {
	return !(result.Accepted == 0 && result.FailedBatches > 0)
}
