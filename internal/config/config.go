package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// ProviderConfig selects and parameterizes an inference backend.
type ProviderConfig struct {
	Backend    string `json:"backend"` // "ollama" or "gemini"
	Model      string `json:"model"`
	OllamaHost string `json:"ollama_host"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath        string `json:"db_path"`
	Workspace     string `json:"workspace"`
	TasksDir      string `json:"tasks_dir"`
	LogFile       string `json:"log_file"`
	BaselineImage string `json:"baseline_image"`

	// Actor is the per-turn action backend; Reasoner drives evolution
	// proposals. They may name the same backend.
	Actor    ProviderConfig `json:"actor"`
	Reasoner ProviderConfig `json:"reasoner"`

	RunTimeoutSec int `json:"run_timeout_sec"`
	RetryAttempts int `json:"retry_attempts"`
	RetryBaseMS   int `json:"retry_base_ms"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaselineImage == "" {
		c.BaselineImage = "python:3.12-slim"
	}
	if c.Actor.Backend == "" {
		c.Actor.Backend = "ollama"
	}
	if c.Reasoner.Backend == "" {
		c.Reasoner.Backend = "gemini"
	}
	if c.RunTimeoutSec == 0 {
		c.RunTimeoutSec = 600
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 500
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.Workspace == "" {
		problems = append(problems, "workspace is required")
	}
	if c.TasksDir == "" {
		problems = append(problems, "tasks_dir is required")
	}
	switch c.Actor.Backend {
	case "ollama", "gemini":
	default:
		problems = append(problems, fmt.Sprintf("unknown actor backend %q", c.Actor.Backend))
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
