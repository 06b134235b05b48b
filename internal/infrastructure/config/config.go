// Package config provides centralized configuration management.
//
// Two documents are involved:
//  1. App settings: YAML file (config.yaml) with environment fallback.
//  2. The account registry: a JSON document holding aggregator credentials
//     and the account-to-ledger mapping (see registry.go). Its format is
//     kept compatible with ledgers registered by earlier tool versions.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application settings
type Config struct {
	Aggregator    AggregatorConfig    `yaml:"aggregator"`
	RegistryPath  string              `yaml:"registry_path"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AggregatorConfig holds bank-data API settings
type AggregatorConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${LEDGERSYNC_REGISTRY})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	return &Config{
		Aggregator: AggregatorConfig{
			BaseURL: os.Getenv("LEDGERSYNC_API_URL"),
		},
		RegistryPath: os.Getenv("LEDGERSYNC_REGISTRY"),
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
}

// LoadOrEnv tries to load from the given path, falls back to environment
// variables when the file is absent
func LoadOrEnv(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
