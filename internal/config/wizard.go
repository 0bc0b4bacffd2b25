package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Unimem Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	// Embedding provider
	fmt.Println("Embedding Provider:")
	fmt.Println()

	for {
		fmt.Print("Embedding API Key (NVIDIA NIM): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			fmt.Println("Error: embedding API key is required")
			continue
		}

		if err := validator.ValidateAPIKey(key, "nvidia"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Embedding.APIKey = key
		break
	}

	fmt.Printf("Embedding model [%s]: ", cfg.Embedding.Model)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Embedding.Model = model
	}

	fmt.Println()

	// Conversational agent
	fmt.Println("Conversational Agent:")
	fmt.Println()

	fmt.Print("Enable the chat agent? (y/n) [n]: ")
	enable, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if strings.ToLower(enable) == "y" {
		cfg.Agent.Enabled = true

		for {
			fmt.Print("Anthropic API Key: ")
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if key == "" {
				fmt.Println("Error: API key is required when the agent is enabled")
				continue
			}

			if err := validator.ValidateAPIKey(key, "anthropic"); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}

			cfg.Agent.APIKey = key
			break
		}
	}

	fmt.Println()

	// Gateway API key
	fmt.Println("Gateway:")
	fmt.Print("Gateway API key (press Enter to disable auth): ")
	apiKey, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Server.APIKey = apiKey

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
