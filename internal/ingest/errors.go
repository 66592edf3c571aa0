package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed delivery errors.
var (
	ErrDelivery     = errors.New("delivery failed")
	ErrTerminalHTTP = errors.New("terminal http response")
)

// previewLimit bounds the payload excerpt carried by a DeliveryError.
const previewLimit = 120

// DeliveryError is returned once every retry attempt for a payload failed
// with a transient error.
type DeliveryError struct {
	Endpoint string
	Table    string
	Attempts int
	Preview  string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed for table %s on endpoint %s after %d attempts: %v (payload: %s)",
		e.Table, e.Endpoint, e.Attempts, e.Err, e.Preview)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDelivery) succeed.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// TerminalHTTPError is returned without retrying when an endpoint answers
// with a status that is neither 2xx nor retryable.
type TerminalHTTPError struct {
	Endpoint   string
	Table      string
	StatusCode int
	Message    string
}

func (e *TerminalHTTPError) Error() string {
	msg := fmt.Sprintf("endpoint %s rejected table %s with status %d", e.Endpoint, e.Table, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is makes errors.Is(err, ErrTerminalHTTP) succeed.
func (e *TerminalHTTPError) Is(target error) bool { return target == ErrTerminalHTTP }

// statusError is a retryable non-2xx response seen during one attempt.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// BatchError collects the per-table failures of a multi-table batch.
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d tables failed:", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error { return e.Errors }

func preview(payload []byte) string {
	if len(payload) <= previewLimit {
		return string(payload)
	}
	return string(payload[:previewLimit]) + "..."
}
