package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile loads configuration from a YAML file, layered over the
// defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches standard locations for a config file.
// Returns empty string if not found (non-fatal).
func FindConfigFile() string {
	locations := []string{
		"./ab-av1-batch.yaml",
		"./ab-av1-batch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "ab-av1-batch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "ab-av1-batch", "config.yml"),
		"/etc/ab-av1-batch/config.yaml",
		"/etc/ab-av1-batch/config.yml",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile writes the configuration to a YAML file, creating parent
// directories as needed.
func SaveConfigFile(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
