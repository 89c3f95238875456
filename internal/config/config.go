// Package config holds all promptloop configuration.
// Configuration is loaded from .promptloop/config.yaml with environment
// variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all promptloop configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Token budget allocator
	Budget BudgetConfig `yaml:"budget"`

	// Prompt assembly
	Prompt PromptConfig `yaml:"prompt"`

	// Learning memory distillation
	Distill DistillConfig `yaml:"distill"`

	// LLM provider
	LLM LLMConfig `yaml:"llm"`

	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// Scheduler
	Sched SchedConfig `yaml:"sched"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	// Main SQLite database (ledger, sections, learning memory)
	DatabasePath string `yaml:"database_path"`

	// Directory holding per-channel intelligence bus databases
	BusPath string `yaml:"bus_path"`
}

// SchedConfig configures the background scheduler.
type SchedConfig struct {
	// Cron spec for the daily ledger reset
	ResetSpec string `yaml:"reset_spec"`

	// Cron spec for learning memory distillation
	DistillSpec string `yaml:"distill_spec"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultSchedConfig returns the default job schedule.
func DefaultSchedConfig() SchedConfig {
	return SchedConfig{
		ResetSpec:   "5 0 * * *",  // 00:05 local, just after the day rolls
		DistillSpec: "30 3 * * *", // quiet hours
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "promptloop",
		Version: "1.0.0",

		Budget:  DefaultBudgetConfig(),
		Prompt:  DefaultPromptConfig(),
		Distill: DefaultDistillConfig(),

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},

		Storage: StorageConfig{
			DatabasePath: ".promptloop/promptloop.db",
			BusPath:      ".promptloop/bus",
		},

		Sched: DefaultSchedConfig(),

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks all config sections.
func (c *Config) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget config: %w", err)
	}
	if err := c.Prompt.Validate(); err != nil {
		return fmt.Errorf("prompt config: %w", err)
	}
	if err := c.Distill.Validate(); err != nil {
		return fmt.Errorf("distill config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("PROMPTLOOP_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if path := os.Getenv("PROMPTLOOP_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// DefaultConfigPath returns the conventional config location under a
// workspace directory.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".promptloop", "config.yaml")
}
