package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema describes the accepted shape of a run configuration file.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "connections": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "columns": {"type": "integer", "minimum": 1},
    "batchSize": {"type": "integer", "minimum": 1},
    "size": {"type": ["string", "integer"]},
    "hz": {"type": "number", "minimum": 0},
    "maxThreads": {"type": "integer", "minimum": 0},
    "runTime": {"type": ["string", "number"]},
    "dbms": {"type": "string"},
    "table": {"type": "string"},
    "columnAsTable": {"type": "boolean"},
    "retry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "attempts": {"type": "integer", "minimum": 1},
        "backoff": {"type": ["string", "number"]}
      }
    },
    "timeout": {"type": ["string", "number"]},
    "headers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "metricsAddr": {"type": "string"}
  }
}`

var compiledSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", strings.NewReader(documentSchema)); err != nil {
		panic(fmt.Sprintf("config: invalid document schema: %v", err))
	}
	compiledSchema = compiler.MustCompile("config.json")
}

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Defaults are applied but the result is not validated; call Validate once
// command line overrides have been merged.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*RunConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := checkDocument(data, isJSON); err != nil {
		return nil, err
	}

	var config RunConfig
	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	ApplyDefaults(&config)
	return &config, nil
}

// checkDocument validates the raw document against documentSchema.
func checkDocument(data []byte, isJSON bool) error {
	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
		// Round-trip through JSON so numbers and maps have the types the
		// validator expects.
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := compiledSchema.Validate(doc); err != nil {
		errs := &ValidationErrors{}
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			collectSchemaErrors(verr, errs)
		}
		if !errs.HasErrors() {
			errs.Add("", err.Error())
		}
		return errs
	}
	return nil
}

// collectSchemaErrors flattens the leaf causes of a schema validation error.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		errs.Add(strings.ReplaceAll(field, "/", "."), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}
