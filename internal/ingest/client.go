// Package ingest delivers generated batches to streaming ingestion endpoints.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wesleyorama2/streamload/internal/generator"
)

// Header values sent with every ingestion request.
const (
	HeaderType        = "type"
	HeaderDBMS        = "dbms"
	HeaderTable       = "table"
	HeaderMode        = "mode"
	HeaderContentType = "Content-Type"

	payloadType = "json"
	streamMode  = "streaming"
	contentType = "text/plain"
)

// maxResponseBody caps how much of a response body is read for diagnostics.
const maxResponseBody = 64 * 1024

// Destination is where a payload is sent. *pool.Endpoint satisfies it.
type Destination interface {
	URL() string
	String() string
}

// Attempt describes one HTTP round trip.
type Attempt struct {
	Endpoint   string
	Table      string
	Number     int
	StatusCode int
	Records    int
	Bytes      int
	Latency    time.Duration
	Response   string
	Err        error
}

// Success reports whether the attempt was accepted.
func (a Attempt) Success() bool {
	return a.Err == nil && IsSuccess(a.StatusCode)
}

// Observer is notified about every attempt, successful or not.
type Observer interface {
	ObserveAttempt(a Attempt)
}

// TransportConfig tunes the underlying HTTP transport.
type TransportConfig struct {
	// Timeout for a single HTTP request
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool
}

// DefaultTransportConfig returns sensible defaults for sustained ingestion.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds an *http.Client from cfg.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Client sends batches with the configured retry policy.
//
// Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	database   string
	headers    map[string]string
	policy     RetryPolicy
	observer   Observer
	logger     *zap.Logger
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithDatabase sets the value of the dbms header.
func WithDatabase(dbms string) ClientOption {
	return func(c *Client) {
		c.database = dbms
	}
}

// WithHeader adds an extra header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithRetryPolicy sets the retry policy. Unset fields keep their defaults.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.policy = policy.withDefaults()
	}
}

// WithObserver registers an observer for every attempt.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new ingestion client with the given options.
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: NewHTTPClient(DefaultTransportConfig()),
		database:   "test",
		headers:    make(map[string]string),
		policy:     DefaultRetryPolicy(),
		logger:     zap.NewNop(),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Policy returns the effective retry policy.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// Send delivers batch to dest and returns how many records were accepted.
//
// A single-table batch is one request. A multi-table batch issues one
// request per table; every table is attempted even when an earlier one
// fails, the accepted count covers the tables that succeeded and the
// failures are returned together as a *BatchError.
func (c *Client) Send(ctx context.Context, dest Destination, batch generator.Batch) (int, error) {
	switch batch.Kind {
	case generator.KindSingleTable:
		return c.deliver(ctx, dest, batch.Table, batch.Rows, len(batch.Rows))

	case generator.KindMultiTable:
		accepted := 0
		var errs []error
		for _, t := range batch.Tables {
			n, err := c.deliver(ctx, dest, t.Table, t.Points, len(t.Points))
			accepted += n
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return accepted, &BatchError{Errors: errs}
		}
		return accepted, nil

	default:
		return 0, fmt.Errorf("unsupported batch kind %s", batch.Kind)
	}
}

// deliver sends one payload to one table, retrying transient failures.
func (c *Client) deliver(ctx context.Context, dest Destination, table string, payload interface{}, records int) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload for table %s: %w", table, err)
	}

	attempts := 0
	err = retry.Do(
		func() error {
			attempts++
			return c.attempt(ctx, dest, table, body, records, attempts)
		},
		retry.Attempts(uint(c.policy.MaxAttempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.policy.Backoff(int(n) + 1)
		}),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("ingest attempt failed",
				zap.String("endpoint", dest.String()),
				zap.String("table", table),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	if err == nil {
		return records, nil
	}

	var terminal *TerminalHTTPError
	if errors.As(err, &terminal) {
		return 0, terminal
	}

	var transient *transientError
	if errors.As(err, &transient) {
		err = transient.err
	}

	return 0, &DeliveryError{
		Endpoint: dest.String(),
		Table:    table,
		Attempts: attempts,
		Preview:  preview(body),
		Err:      err,
	}
}

// attempt performs one HTTP PUT and classifies the outcome.
func (c *Client) attempt(ctx context.Context, dest Destination, table string, body []byte, records, number int) error {
	result := Attempt{
		Endpoint: dest.String(),
		Table:    table,
		Number:   number,
		Records:  records,
		Bytes:    len(body),
	}
	start := time.Now()
	err := c.roundTrip(ctx, dest, table, body, &result)
	result.Latency = time.Since(start)
	result.Err = err

	if c.observer != nil {
		c.observer.ObserveAttempt(result)
	}
	return err
}

// RequestHeader returns the headers sent with a payload for table.
// Fixed protocol headers take precedence over extra headers.
func (c *Client) RequestHeader(table string) http.Header {
	h := make(http.Header, len(c.headers)+5)
	for key, value := range c.headers {
		h.Set(key, value)
	}
	h.Set(HeaderType, payloadType)
	h.Set(HeaderDBMS, c.database)
	h.Set(HeaderTable, table)
	h.Set(HeaderMode, streamMode)
	h.Set(HeaderContentType, contentType)
	return h
}

func (c *Client) roundTrip(ctx context.Context, dest Destination, table string, body []byte, result *Attempt) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest.URL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header = c.RequestHeader(table)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result.StatusCode = resp.StatusCode
	result.Response = responseMessage(respBody)

	switch {
	case IsSuccess(resp.StatusCode):
		return nil
	case c.policy.Retryable(resp.StatusCode):
		return &transientError{err: &statusError{
			StatusCode: resp.StatusCode,
			Message:    result.Response,
		}}
	default:
		return &TerminalHTTPError{
			Endpoint:   dest.String(),
			Table:      table,
			StatusCode: resp.StatusCode,
			Message:    result.Response,
		}
	}
}

// transientError marks a failure that the retry policy may retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// responseMessage pulls a human readable message out of a response body.
func responseMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error", "message", "err", "detail"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.String() != "" {
				return r.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > previewLimit {
		msg = msg[:previewLimit] + "..."
	}
	return msg
}
