// Package config provides configuration parsing and validation for ingestion runs.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultColumns   = 1
	DefaultBatchSize = 10
	DefaultSize      = "10MB"
	DefaultDBMS      = "test"
	DefaultTable     = "rand_data"
	DefaultRetries   = 3
	DefaultTimeout   = 30 * time.Second
	DefaultBackoff   = 2 * time.Second
)

// RunConfig is the root configuration for an ingestion run.
//
// Example YAML:
//
//	connections:
//	  - 10.0.0.1:32149
//	  - 10.0.0.2:32149
//	columns: 4
//	batchSize: 100
//	size: 1GB
//	hz: 5000
//	maxThreads: 8
//	runTime: 5m
//	dbms: test
//	table: rand_data
//	columnAsTable: false
//	retry:
//	  attempts: 3
//	  backoff: 2s
type RunConfig struct {
	// Connections are the ingestion endpoints as host:port
	Connections []string `json:"connections" yaml:"connections"`

	// Columns is the number of value columns per row
	Columns int `json:"columns,omitempty" yaml:"columns,omitempty"`

	// BatchSize is the number of rows per request
	BatchSize int `json:"batchSize,omitempty" yaml:"batchSize,omitempty"`

	// Size is a row count, a byte budget ("10MB") or "0" for unbounded
	Size SizeSpec `json:"size,omitempty" yaml:"size,omitempty"`

	// Hz is the aggregate target rate in rows per second (0 = unthrottled)
	Hz float64 `json:"hz,omitempty" yaml:"hz,omitempty"`

	// MaxThreads caps the number of workers (0 = derive from endpoints)
	MaxThreads int `json:"maxThreads,omitempty" yaml:"maxThreads,omitempty"`

	// RunTime bounds the run by wall-clock time (0 = size bounded)
	RunTime Duration `json:"runTime,omitempty" yaml:"runTime,omitempty"`

	// DBMS is the destination database name
	DBMS string `json:"dbms,omitempty" yaml:"dbms,omitempty"`

	// Table is the destination table name
	Table string `json:"table,omitempty" yaml:"table,omitempty"`

	// ColumnAsTable converts every column into its own timestamp/value table
	ColumnAsTable bool `json:"columnAsTable,omitempty" yaml:"columnAsTable,omitempty"`

	// Retry controls delivery retries
	Retry RetrySettings `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Timeout is the per-request HTTP timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are extra headers sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MetricsAddr exposes Prometheus metrics when set (e.g. ":9100")
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

// RetrySettings contains retry configuration.
type RetrySettings struct {
	// Attempts is the total number of attempts per payload
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	// Backoff is the wait step; attempt n waits n*Backoff
	Backoff Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(c *RunConfig) {
	if c.Columns == 0 {
		c.Columns = DefaultColumns
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Size == "" {
		c.Size = DefaultSize
	}
	if c.DBMS == "" {
		c.DBMS = DefaultDBMS
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = DefaultRetries
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = Duration(DefaultBackoff)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
}

// Default returns a configuration with every default applied.
func Default() *RunConfig {
	c := &RunConfig{}
	ApplyDefaults(c)
	return c
}

// SplitConnections parses a comma separated connection list.
func SplitConnections(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SizeSpec is a size string that may also be written as a bare number.
type SizeSpec string

// UnmarshalJSON implements json.Unmarshaler.
func (s *SizeSpec) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = SizeSpec(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("size must be a string or a number: %w", err)
	}
	*s = SizeSpec(n.String())
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// ParseDurationString parses a Go duration ("30s", "2m") or a bare number
// of seconds ("30", "1.5").
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
