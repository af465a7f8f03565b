package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Journal       JournalConfig `yaml:"journal"`
	EnableMetrics bool          `yaml:"enable_metrics"` // Enable Prometheus instrumentation
	MetricsPort   int           `yaml:"metrics_port"`   // Exporter port when metrics are enabled
}

// Holds journal-specific configuration
type JournalConfig struct {
	Name           string `yaml:"name"`              // Diagnostics label
	Path           string `yaml:"path"`              // Directory holding the segment files
	MaxLogFileSize uint32 `yaml:"max_log_file_size"` // Size ceiling for default segments
}

// Returns a Config struct with reasonable default values.
func DefaultConfig() *Config {
	return &Config{
		EnableMetrics: false,
		MetricsPort:   9102,
		Journal: JournalConfig{
			Name:           "journal",
			Path:           "journal",
			MaxLogFileSize: 1024 * 1024 * 4, // 4MB
		},
	}
}

// Loads configuration from a YAML file.
func LoadConfig(filename string) (*Config, error) {
	// Read the config file
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}

	if config.Journal.MaxLogFileSize == 0 {
		return fmt.Errorf("journal.max_log_file_size must be greater than 0")
	}

	if config.EnableMetrics && (config.MetricsPort <= 0 || config.MetricsPort > 65535) {
		return fmt.Errorf("metrics_port must be a valid port number")
	}

	return nil
}
