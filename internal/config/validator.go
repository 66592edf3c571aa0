package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/wesleyorama2/streamload/internal/size"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the run configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
// The size string is not checked here; malformed sizes surface as
// size.InvalidSizeSpecError when the run is planned.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Connections) == 0 {
		errs.Add("connections", "at least one connection is required")
	}
	for i, conn := range c.Connections {
		validateConnection(fmt.Sprintf("connections[%d]", i), conn, errs)
	}

	if c.Columns < 1 {
		errs.Add("columns", "columns must be greater than 0")
	}
	if c.BatchSize < 1 {
		errs.Add("batchSize", "batchSize must be greater than 0")
	}
	if c.Hz < 0 {
		errs.Add("hz", "hz must be >= 0")
	}
	if c.MaxThreads < 0 {
		errs.Add("maxThreads", "maxThreads must be >= 0")
	}
	if c.RunTime < 0 {
		errs.Add("runTime", "runTime must be >= 0")
	}
	if c.RunTime == 0 && size.IsUnbounded(string(c.Size)) {
		errs.Add("size", "an unbounded size requires runTime")
	}
	if strings.TrimSpace(c.DBMS) == "" {
		errs.Add("dbms", "dbms is required")
	}
	if strings.TrimSpace(c.Table) == "" {
		errs.Add("table", "table is required")
	}
	if c.Retry.Attempts < 1 {
		errs.Add("retry.attempts", "attempts must be greater than 0")
	}
	if c.Retry.Backoff < 0 {
		errs.Add("retry.backoff", "backoff must be >= 0")
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "timeout must be >= 0")
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs.Add("metricsAddr", fmt.Sprintf("invalid address: %v", err))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateConnection checks a host:port pair, optionally with an http scheme.
func validateConnection(field, conn string, errs *ValidationErrors) {
	addr := strings.TrimPrefix(strings.TrimPrefix(conn, "http://"), "https://")
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid connection %q: %v", conn, err))
		return
	}
	if port == "" {
		errs.Add(field, fmt.Sprintf("invalid connection %q: missing port", conn))
	}
}
