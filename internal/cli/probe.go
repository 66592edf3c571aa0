// Copyright (c) 2025, Wesley Brown
// All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/streamload/internal/config"
	"github.com/wesleyorama2/streamload/internal/generator"
	"github.com/wesleyorama2/streamload/internal/ingest"
	"github.com/wesleyorama2/streamload/internal/output"
	"github.com/wesleyorama2/streamload/internal/pool"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe CONN",
		Short: "Send one generated batch to a single endpoint and show the exchange",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}

	cmd.Flags().IntP("num-columns", "c", config.DefaultColumns, "Number of value columns per row")
	cmd.Flags().IntP("batch-size", "b", 1, "Rows in the probe batch")
	cmd.Flags().String("dbms", config.DefaultDBMS, "Destination database name")
	cmd.Flags().String("table", config.DefaultTable, "Destination table name")
	cmd.Flags().Bool("column-as-table", false, "Send every column to its own <table>_<column> table of points")
	cmd.Flags().Int("retries", 1, "Attempts per payload, including the first")
	cmd.Flags().Duration("backoff", config.DefaultBackoff, "Retry wait step")
	cmd.Flags().StringArrayP("header", "H", []string{}, "Extra HTTP header as 'Key: Value' (can be used multiple times)")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout, "Request timeout")
	cmd.Flags().BoolP("verbose", "v", false, "Show the full payload and attempt details")
	cmd.Flags().Bool("no-color", false, "Disable colored output")

	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	columns, _ := cmd.Flags().GetInt("num-columns")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	dbms, _ := cmd.Flags().GetString("dbms")
	table, _ := cmd.Flags().GetString("table")
	columnAsTable, _ := cmd.Flags().GetBool("column-as-table")
	retries, _ := cmd.Flags().GetInt("retries")
	backoff, _ := cmd.Flags().GetDuration("backoff")
	headers, _ := cmd.Flags().GetStringArray("header")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	verbose, _ := cmd.Flags().GetBool("verbose")
	noColor, _ := cmd.Flags().GetBool("no-color")

	if columns < 1 || batchSize < 1 || retries < 1 {
		return &ExitError{Code: ExitBadConfig, Err: fmt.Errorf("num-columns, batch-size and retries must be greater than 0")}
	}

	p, err := pool.New([]string{args[0]})
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}
	endpoint := p.Endpoints()[0]

	extra, err := parseHeaders(headers)
	if err != nil {
		return &ExitError{Code: ExitBadConfig, Err: err}
	}

	recorder := &attemptRecorder{}
	cfg := &config.RunConfig{
		DBMS:    dbms,
		Headers: extra,
		Timeout: config.Duration(timeout),
		Retry: config.RetrySettings{
			Attempts: retries,
			Backoff:  config.Duration(backoff),
		},
	}
	client := newIngestClient(cfg, recorder, newLogger(verbose, cmd.ErrOrStderr()))

	batch := generator.New().NewBatch(generator.NewSchema(columns), batchSize, table, columnAsTable)
	formatter := output.NewProbeFormatter(verbose, noColor)
	out := cmd.OutOrStdout()

	for _, payload := range payloadsOf(batch) {
		body, err := json.Marshal(payload.data)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		fmt.Fprint(out, formatter.FormatRequest(endpoint.URL(), client.RequestHeader(payload.table), body))
	}

	accepted, sendErr := client.Send(cmd.Context(), endpoint, batch)

	for _, a := range recorder.list() {
		fmt.Fprint(out, formatter.FormatAttempt(a))
	}

	total := 0
	for _, payload := range payloadsOf(batch) {
		total += payload.records
	}
	icon := output.SuccessIcon(noColor)
	if sendErr != nil {
		icon = output.ErrorIcon(noColor)
	}
	fmt.Fprintf(out, "%s %d of %d records accepted by %s\n", icon, accepted, total, endpoint)

	if sendErr != nil {
		return &ExitError{Code: ExitRunFailed, Err: sendErr}
	}
	return nil
}

type probePayload struct {
	table   string
	data    interface{}
	records int
}

// payloadsOf lists the request bodies Send will issue for batch.
func payloadsOf(batch generator.Batch) []probePayload {
	if batch.Kind == generator.KindMultiTable {
		out := make([]probePayload, 0, len(batch.Tables))
		for _, t := range batch.Tables {
			out = append(out, probePayload{table: t.Table, data: t.Points, records: len(t.Points)})
		}
		return out
	}
	return []probePayload{{table: batch.Table, data: batch.Rows, records: len(batch.Rows)}}
}

// attemptRecorder keeps every attempt in order.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts []ingest.Attempt
}

func (r *attemptRecorder) ObserveAttempt(a ingest.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *attemptRecorder) list() []ingest.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ingest.Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
