package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *RunConfig {
	c := Default()
	c.Connections = []string{"10.0.0.1:32149", "http://10.0.0.2:32149"}
	return c
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *RunConfig)
		field  string
	}{
		{"no connections", func(c *RunConfig) { c.Connections = nil }, "connections"},
		{"missing port", func(c *RunConfig) { c.Connections = []string{"10.0.0.1"} }, "connections[0]"},
		{"zero columns", func(c *RunConfig) { c.Columns = 0 }, "columns"},
		{"zero batch", func(c *RunConfig) { c.BatchSize = 0 }, "batchSize"},
		{"negative hz", func(c *RunConfig) { c.Hz = -5 }, "hz"},
		{"negative threads", func(c *RunConfig) { c.MaxThreads = -1 }, "maxThreads"},
		{"unbounded without runtime", func(c *RunConfig) { c.Size = "0" }, "size"},
		{"no table", func(c *RunConfig) { c.Table = " " }, "table"},
		{"zero attempts", func(c *RunConfig) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"bad metrics addr", func(c *RunConfig) { c.MetricsAddr = "9100" }, "metricsAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected *ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestValidate_UnboundedWithRunTime(t *testing.T) {
	c := validConfig()
	c.Size = "0"
	c.RunTime = Duration(10 * time.Second)
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("unexpected message %q", errs.Error())
	}

	errs.Add("columns", "columns must be greater than 0")
	if got := errs.Error(); got != "validation error on field 'columns': columns must be greater than 0" {
		t.Errorf("unexpected message %q", got)
	}

	errs.Add("", "something else")
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("unexpected message %q", got)
	}
	if !strings.Contains(got, "validation error: something else") {
		t.Errorf("missing fieldless error in %q", got)
	}
}
