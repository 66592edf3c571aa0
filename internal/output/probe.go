package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wesleyorama2/streamload/internal/ingest"
)

// ProbeFormatter renders a single probe delivery for display.
type ProbeFormatter struct {
	Verbose bool
	colors  *ColorScheme
}

// NewProbeFormatter creates a new formatter with the given options.
func NewProbeFormatter(verbose, noColor bool) *ProbeFormatter {
	colors := DefaultColorScheme()
	if noColor {
		colors = NoColorScheme()
	}
	return &ProbeFormatter{Verbose: verbose, colors: colors}
}

// FormatRequest formats the ingestion request for display.
func (f *ProbeFormatter) FormatRequest(url string, header http.Header, body []byte) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("▶ REQUEST: %s %s\n", f.colors.Title.Sprint(http.MethodPut), f.colors.Endpoint.Sprint(url)))

	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buf.WriteString("  Headers:\n")
	for _, key := range keys {
		for _, value := range header[key] {
			buf.WriteString(fmt.Sprintf("    %s: %s\n", f.colors.HeaderKey.Sprint(key), value))
		}
	}

	if len(body) > 0 {
		buf.WriteString(fmt.Sprintf("  Body (%d bytes):\n", len(body)))
		if f.Verbose {
			buf.WriteString(formatJSON(body))
		} else {
			buf.WriteString("  " + truncate(string(body), 200))
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// FormatAttempt formats one delivery attempt for display.
func (f *ProbeFormatter) FormatAttempt(a ingest.Attempt) string {
	var buf strings.Builder

	status := "no response"
	if a.StatusCode != 0 {
		status = fmt.Sprintf("%d %s", a.StatusCode, http.StatusText(a.StatusCode))
	}
	buf.WriteString(fmt.Sprintf("◀ RESPONSE #%d: %s (%dms)\n",
		a.Number,
		f.colors.ForStatus(a.StatusCode).Sprint(status),
		a.Latency.Milliseconds()))

	if f.Verbose {
		buf.WriteString(fmt.Sprintf("  Table:   %s\n", a.Table))
		buf.WriteString(fmt.Sprintf("  Records: %d\n", a.Records))
		buf.WriteString(fmt.Sprintf("  Bytes:   %d\n", a.Bytes))
	}
	if a.Response != "" {
		buf.WriteString(fmt.Sprintf("  Body: %s\n", a.Response))
	}
	if a.Err != nil && a.StatusCode == 0 {
		buf.WriteString(fmt.Sprintf("  Error: %s\n", f.colors.StatusError.Sprint(a.Err.Error())))
	}

	return buf.String()
}

// formatJSON attempts to pretty-print a JSON document.
func formatJSON(b []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, b, "  ", "  "); err != nil {
		return string(b)
	}
	return "  " + pretty.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
