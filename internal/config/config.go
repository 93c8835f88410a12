// Package config loads the shell's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the global mash configuration.
type Config struct {
	// Prompt is printed before each interactive read.
	Prompt string `yaml:"prompt"`

	// Interactive: nil = detect from the terminal,
	// true/false = force the mode.
	Interactive *bool `yaml:"interactive"`

	// Notify controls background completion notices.
	Notify bool `yaml:"notify"`

	History HistoryConfig `yaml:"history"`
}

// HistoryConfig controls the command history file.
type HistoryConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	Disabled   bool   `yaml:"disabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Prompt: "mash> ",
		Notify: true,
		History: HistoryConfig{
			Path:       filepath.Join(home, ".local", "share", "mash", "history.jsonl"),
			MaxEntries: 10000,
		},
	}
}

// Load reads the config from the standard location
// (~/.config/mash/config.yaml). A missing file yields the defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(filepath.Join(home, ".config", "mash", "config.yaml"))
}

// LoadFrom reads the config from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Expand ~ in the history path.
	if cfg.History.Path != "" && cfg.History.Path[0] == '~' {
		home, _ := os.UserHomeDir()
		cfg.History.Path = filepath.Join(home, cfg.History.Path[1:])
	}

	return cfg, nil
}
