// Package output renders run progress and results to the console.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/streamload/internal/metrics"
	"github.com/wesleyorama2/streamload/internal/scheduler"
	"github.com/wesleyorama2/streamload/internal/sink"
)

// ANSI escape codes for cursor control
const (
	clearLine  = "\033[2K" // Clear entire line
	lineStart  = "\r"      // Move cursor to column 1
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	ruleWidth      = 56
	progressWidth  = 30
)

// RunInfo describes a run before it starts.
type RunInfo struct {
	RunID         string
	Endpoints     []string
	Workers       int
	Columns       int
	Table         string
	ColumnAsTable bool
	Plan          string
	Duration      time.Duration
	Rate          float64
	BatchSize     int
}

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress      float64 // 0.0 to 1.0, NaN when unknown
	Elapsed       time.Duration
	Accepted      int64
	Attempted     int64
	Ceiling       int64 // -1 when unbounded
	RecordsPerSec float64
	Requests      int64
	Errors        int64
	ErrorRate     float64
	ActiveWorkers int
	LatencyP95    time.Duration
}

// Summary is the final report of a run.
type Summary struct {
	RunID     string                  `json:"runId"`
	Passed    bool                    `json:"passed"`
	Result    *scheduler.Result       `json:"result"`
	Metrics   *metrics.Snapshot       `json:"metrics,omitempty"`
	Endpoints []metrics.EndpointStats `json:"endpoints,omitempty"`
}

// Console manages console output during a run.
type Console struct {
	writer    io.Writer
	colors    *ColorScheme
	isTTY     bool
	useColors bool
	quiet     bool

	mu       sync.Mutex
	liveLine bool // a progress line is on screen
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = ForcedColorScheme()
	}

	return &Console{
		writer:    config.Writer,
		colors:    colors,
		isTTY:     isTTY,
		useColors: useColors,
		quiet:     config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(info RunInfo) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("streamload - Running [%s]", info.RunID))
	c.writeln(rule)

	c.writeln(fmt.Sprintf("Endpoints:  %s", c.colors.Endpoint.Sprint(strings.Join(info.Endpoints, ", "))))
	c.writeln(fmt.Sprintf("Workers:    %s", c.colors.Value.Sprint(info.Workers)))

	target := info.Table
	if info.ColumnAsTable {
		target = fmt.Sprintf("%s_column_1..%s_column_%d", info.Table, info.Table, info.Columns)
	}
	c.writeln(fmt.Sprintf("Table:      %s (%d columns)", c.colors.Value.Sprint(target), info.Columns))

	if info.Duration > 0 {
		c.writeln(fmt.Sprintf("Run time:   %s", c.colors.Value.Sprint(formatDuration(info.Duration))))
	} else {
		c.writeln(fmt.Sprintf("Size:       %s", c.colors.Value.Sprint(info.Plan)))
	}

	if info.Rate > 0 {
		c.writeln(fmt.Sprintf("Rate:       %s rows/s", c.colors.Value.Sprintf("%.1f", info.Rate)))
	} else {
		c.writeln(fmt.Sprintf("Rate:       unthrottled, %d rows per request", info.BatchSize))
	}
	c.writeln("")
}

// Update redraws the live progress line. It does nothing when the output
// is not a terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLine {
		c.write(hideCursor)
	}
	c.write(lineStart + clearLine + c.renderLiveLine(stats))
	c.liveLine = true
}

// renderLiveLine renders the one-line progress display.
func (c *Console) renderLiveLine(stats *LiveStats) string {
	var parts []string

	if math.IsNaN(stats.Progress) {
		parts = append(parts, formatDuration(stats.Elapsed))
	} else {
		bar := renderProgressBar(stats.Progress, progressWidth)
		parts = append(parts, fmt.Sprintf("%s %s",
			c.colors.Progress.Sprint(bar),
			c.colors.Title.Sprintf("%3.0f%%", stats.Progress*100)))
	}

	accepted := formatNumber(stats.Accepted)
	if stats.Ceiling >= 0 {
		accepted += " / " + formatNumber(stats.Ceiling)
	}
	parts = append(parts,
		fmt.Sprintf("rows %s", c.colors.Value.Sprint(accepted)),
		fmt.Sprintf("%s rows/s", c.colors.Value.Sprintf("%.1f", stats.RecordsPerSec)),
		fmt.Sprintf("workers %d", stats.ActiveWorkers),
		fmt.Sprintf("errors %s", c.colors.ForRate(stats.ErrorRate).Sprint(stats.Errors)),
		fmt.Sprintf("p95 %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95))))

	return strings.Join(parts, " | ")
}

// PrintNonInteractiveUpdate prints a status line for non-TTY output such
// as CI logs.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	progress := "-"
	if !math.IsNaN(stats.Progress) {
		progress = fmt.Sprintf("%.0f%%", stats.Progress*100)
	}
	c.writeln(fmt.Sprintf("[%s] Progress: %s | Rows: %d | Rows/s: %.1f | Workers: %d | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		progress,
		stats.Accepted,
		stats.RecordsPerSec,
		stats.ActiveWorkers,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintFailure prints one undeliverable batch.
func (c *Console) PrintFailure(workerID int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLiveLine()
	c.writeln(fmt.Sprintf("%s worker %d: %v", ErrorIcon(!c.useColors), workerID, err))
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(s *Summary) {
	if c.quiet {
		if s.Passed {
			c.writeln(c.colors.StatusOK.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.StatusError.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLiveLine()

	status := c.colors.StatusOK.Sprint("Completed ✓")
	if !s.Passed {
		status = c.colors.StatusError.Sprint("Failed ✗")
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	r := s.Result

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprintf("streamload [%s]", s.RunID), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:       %s", c.colors.Value.Sprint(formatDuration(r.Elapsed))))
	c.writeln(fmt.Sprintf("Rows accepted:  %s", c.colors.Value.Sprint(formatNumber(r.Accepted))))
	c.writeln(fmt.Sprintf("Rows attempted: %s", formatNumber(r.Attempted)))
	c.writeln(fmt.Sprintf("Batches:        %s (%s failed)",
		formatNumber(r.Batches),
		c.colors.ForRate(ratio(r.FailedBatches, r.Batches)).Sprint(formatNumber(r.FailedBatches))))
	if r.Elapsed > 0 {
		c.writeln(fmt.Sprintf("Throughput:     %.1f rows/s", float64(r.Accepted)/r.Elapsed.Seconds()))
	}
	if r.Governor.Rate > 0 {
		c.writeln(fmt.Sprintf("Pacing:         %d cycles, %d overruns, %s waiting",
			r.Governor.Cycles, r.Governor.Overruns, formatDuration(r.Governor.TotalWait)))
	}
	c.writeln("")

	if m := s.Metrics; m != nil && m.TotalRequests > 0 {
		c.writeln(fmt.Sprintf("Requests:       %s (%d retried, %s errors)",
			formatNumber(m.TotalRequests),
			m.RetriedRequests,
			c.colors.ForRate(m.ErrorRate).Sprintf("%.1f%%", m.ErrorRate*100)))
		c.writeln("")
		c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	if len(s.Endpoints) > 0 {
		c.writeln(c.colors.Title.Sprint("Endpoints:"))
		for _, ep := range s.Endpoints {
			c.writeln(fmt.Sprintf("  %-24s %6d reqs  p95 %s",
				c.colors.Endpoint.Sprint(ep.Endpoint),
				ep.Latency.Count,
				formatDurationShort(ep.Latency.P95)))
		}
		c.writeln("")
	}
}

// PrintSinkStats prints what a local sink received.
func (c *Console) PrintSinkStats(stats sink.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("Received %s records in %s requests (%s rejected)",
		c.colors.Value.Sprint(formatNumber(stats.Records)),
		formatNumber(stats.Requests),
		c.colors.ForRate(ratio(stats.Rejected, stats.Requests)).Sprint(formatNumber(stats.Rejected))))
	for _, t := range stats.Tables {
		c.writeln(fmt.Sprintf("  %-30s %s", t.Table, formatNumber(t.Records)))
	}
}

// PrintJSON writes the summary as indented JSON.
func (c *Console) PrintJSON(s *Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLiveLine()
	enc := json.NewEncoder(c.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// endLiveLine terminates the progress line so the next write starts clean.
func (c *Console) endLiveLine() {
	if !c.liveLine {
		return
	}
	c.write(lineStart + clearLine + showCursor)
	c.liveLine = false
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics builds LiveStats from a metrics snapshot and run state.
func StatsFromMetrics(snap *metrics.Snapshot, state *scheduler.RunState, now time.Time) *LiveStats {
	stats := &LiveStats{Progress: math.NaN(), Ceiling: -1}
	if state != nil {
		stats.Progress = state.Progress(now)
		stats.Elapsed = now.Sub(state.Start())
		stats.Accepted = state.Accepted()
		stats.Attempted = state.Attempted()
		stats.Ceiling = state.Ceiling()
	}
	if snap != nil {
		stats.RecordsPerSec = snap.RecordsPerSec
		stats.Requests = snap.TotalRequests
		stats.Errors = snap.FailedRequests
		stats.ErrorRate = snap.ErrorRate
		stats.ActiveWorkers = snap.ActiveWorkers
		stats.LatencyP95 = snap.Latency.P95
		if state == nil {
			stats.Elapsed = snap.Elapsed
		}
	}
	return stats
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, empty) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
