package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main unimem configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Embedding provider configuration
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Store configuration
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Chunking configuration
	Chunking ChunkingConfig `json:"chunking" mapstructure:"chunking"`

	// Agent configuration
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Sweep configuration
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP gateway configuration
type ServerConfig struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	RateLimit int    `json:"rate_limit" mapstructure:"rate_limit"` // requests per minute per IP
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// StoreConfig holds durable store configuration
type StoreConfig struct {
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
}

// ChunkingConfig holds document chunking configuration
type ChunkingConfig struct {
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds the conversational agent configuration
type AgentConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// SweepConfig holds the consistency sweep configuration
type SweepConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 120,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://integrate.api.nvidia.com/v1",
			Model:     "nvidia/llama-3.2-nv-embedqa-1b-v2",
			Dimension: 2048,
		},
		Chunking: ChunkingConfig{
			MaxTokens: 6000,
		},
		Agent: AgentConfig{
			Enabled:     false,
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit must not be negative, got %d", c.Server.RateLimit)
	}

	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding api_key is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}

	if c.Agent.Enabled {
		if c.Agent.Provider != "anthropic" {
			return fmt.Errorf("invalid agent provider %s (must be: anthropic)", c.Agent.Provider)
		}
		if c.Agent.APIKey == "" {
			return fmt.Errorf("agent api_key is required when the agent is enabled")
		}
		if c.Agent.Model == "" {
			return fmt.Errorf("agent model is required when the agent is enabled")
		}
	}

	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep schedule is required when the sweep is enabled")
	}

	return nil
}
