// Package config loads studyNERD client configuration from
// .study/config.yaml with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all studyNERD client configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Research-session reducer settings
	Research ResearchConfig `yaml:"research"`

	// Event stream transport
	Stream StreamConfig `yaml:"stream"`

	// Snapshot storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ResearchConfig tunes the research-session reducer.
type ResearchConfig struct {
	// MaxSteps is the assumed per-sub-agent step budget used for live
	// progress estimates (default: 8).
	MaxSteps int `yaml:"max_steps"`

	// DefaultMode is the execution mode assumed before the stream
	// declares one: "autonomous", "supervised" or empty.
	DefaultMode string `yaml:"default_mode"`
}

// StreamConfig configures the NDJSON event transport.
type StreamConfig struct {
	// EventFile is the orchestrator's NDJSON event file to follow.
	EventFile string `yaml:"event_file"`

	// DebounceMS debounces rapid file-change notifications.
	DebounceMS int `yaml:"debounce_ms"`
}

// StorageConfig configures the visual-summary snapshot store.
type StorageConfig struct {
	// DatabasePath is the sqlite file for persisted snapshots.
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "studyNERD",
		Version: "0.9.0",
		Research: ResearchConfig{
			MaxSteps: 8,
		},
		Stream: StreamConfig{
			EventFile:  filepath.Join(".study", "events.ndjson"),
			DebounceMS: 250,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(".study", "snapshots.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the workspace, falling back to defaults
// for anything absent. A missing config file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".study", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Research.MaxSteps < 1 {
		cfg.Research.MaxSteps = 8
	}
	return cfg, nil
}

// applyEnvOverrides lets STUDYNERD_* environment variables win over file
// values, matching how operators tune a deployed client without editing
// the workspace config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STUDYNERD_EVENT_FILE"); v != "" {
		cfg.Stream.EventFile = v
	}
	if v := os.Getenv("STUDYNERD_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("STUDYNERD_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Research.MaxSteps = n
		}
	}
	if v := os.Getenv("STUDYNERD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
