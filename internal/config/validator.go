package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the shape of the config document before it is
// unmarshaled. Field-level semantics are checked by Config.Validate.
const configSchema = `{
	"type": "object",
	"properties": {
		"server": {
			"type": "object",
			"properties": {
				"host": {"type": "string"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"api_key": {"type": "string"},
				"rate_limit": {"type": "integer", "minimum": 0}
			}
		},
		"embedding": {
			"type": "object",
			"properties": {
				"base_url": {"type": "string"},
				"api_key": {"type": "string"},
				"model": {"type": "string"},
				"dimension": {"type": "integer", "minimum": 1}
			}
		},
		"store": {
			"type": "object",
			"properties": {
				"database_path": {"type": "string"}
			}
		},
		"chunking": {
			"type": "object",
			"properties": {
				"max_tokens": {"type": "integer", "minimum": 1}
			}
		},
		"agent": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"provider": {"type": "string", "enum": ["anthropic"]},
				"api_key": {"type": "string"},
				"model": {"type": "string"},
				"max_tokens": {"type": "integer", "minimum": 1},
				"temperature": {"type": "number", "minimum": 0, "maximum": 1}
			}
		},
		"sweep": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"schedule": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"max_size": {"type": "integer", "minimum": 0},
				"max_age": {"type": "integer", "minimum": 0},
				"compress": {"type": "boolean"},
				"redaction": {"type": "boolean"}
			}
		},
		"data_dir": {"type": "string"}
	}
}`

// Validator validates configuration values
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator creates a new validator
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateDocument validates a raw config JSON document against the schema.
func (v *Validator) ValidateDocument(document []byte) []error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return []error{fmt.Errorf("failed to validate config document: %w", err)}
	}

	var errors []error
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Errorf("config schema: %s", desc.String()))
	}
	return errors
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "nvidia":
		if !strings.HasPrefix(key, "nvapi-") {
			return fmt.Errorf("invalid NVIDIA API key format (should start with nvapi-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Agent.Enabled && cfg.Agent.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Agent.APIKey, cfg.Agent.Provider); err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
