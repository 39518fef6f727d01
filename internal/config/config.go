// Package config loads the ada runtime configuration: defaults, an optional
// config.yaml in the data directory, then environment overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ada configuration.
type Config struct {
	// Data directory for the SQLite store, logs, backups and state.
	DataDir string `yaml:"data_dir"`

	Ollama     OllamaConfig     `yaml:"ollama"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	Device     DeviceConfig     `yaml:"device"`
	Context    ContextConfig    `yaml:"context"`
	Proactive  ProactiveConfig  `yaml:"proactive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// OllamaConfig configures the local model server.
type OllamaConfig struct {
	URL             string `yaml:"url"`
	ClassifierModel string `yaml:"classifier_model"`
	SkipModelPull   bool   `yaml:"skip_model_pull"`
	DisableLocalLLM bool   `yaml:"disable_local_llm"`
}

// LLMConfig configures the remote cloud LLM.
type LLMConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// EmbeddingsConfig configures the embedding pipeline.
type EmbeddingsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// CacheConfig configures the semantic response cache.
type CacheConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// DeviceConfig overrides hardware detection.
type DeviceConfig struct {
	TierOverride string `yaml:"tier_override"` // minimal|basic|standard|power|server
}

// ContextConfig configures the context guard token budget.
type ContextConfig struct {
	MaxTokens           int `yaml:"max_tokens"`
	SystemPromptReserve int `yaml:"system_prompt_reserve"`
	ResponseReserve     int `yaml:"response_reserve"`
}

// ProactiveConfig configures the spontaneous message loop.
type ProactiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TickInterval  string `yaml:"tick_interval"` // cron @every duration
	QuietStart    string `yaml:"quiet_start"`   // "22:30"
	QuietEnd      string `yaml:"quiet_end"`     // "08:00"
	MaxPerHour    int    `yaml:"max_per_hour"`
	MaxPerDay     int    `yaml:"max_per_day"`
	TickThreshold int    `yaml:"tick_threshold"` // consecutive ticks-with-message breaker
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".ada"),

		Ollama: OllamaConfig{
			URL:             "http://localhost:11434",
			ClassifierModel: "qwen2.5:3b",
		},

		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
		},

		Embeddings: EmbeddingsConfig{
			Enabled:   true,
			Model:     "all-minilm",
			Dimension: 384,
		},

		Cache: CacheConfig{
			SimilarityThreshold: 0.92,
		},

		Context: ContextConfig{
			MaxTokens:           100000,
			SystemPromptReserve: 4000,
			ResponseReserve:     4000,
		},

		Proactive: ProactiveConfig{
			Enabled:       true,
			TickInterval:  "15m",
			QuietStart:    "22:30",
			QuietEnd:      "08:00",
			MaxPerHour:    1,
			MaxPerDay:     6,
			TickThreshold: 3,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with
// <data-dir>/config.yaml when present, then environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if dir := os.Getenv("ADA_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	path := filepath.Join(cfg.DataDir, "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity threshold must be in (0,1], got %v", c.Cache.SimilarityThreshold)
	}
	if _, err := time.ParseDuration(c.Proactive.TickInterval); err != nil {
		return fmt.Errorf("invalid proactive tick interval %q: %w", c.Proactive.TickInterval, err)
	}
	return nil
}

// BackupPath returns the truncation backup file location.
func (c *Config) BackupPath() string {
	return filepath.Join(c.DataDir, "backups", "truncated_context.jsonl")
}

// PersonalityPath returns the personality file location.
func (c *Config) PersonalityPath() string {
	return filepath.Join(c.DataDir, "personality.md")
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ada.db")
}
