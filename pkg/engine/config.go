package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/har"
)

// Config holds engine configuration.
type Config struct {
	// DBPath is the BoltDB file holding all projects.
	DBPath string `yaml:"db_path" json:"db_path"`

	// ModulesDir is the directory scanned for .tengo analysis modules.
	ModulesDir string `yaml:"modules_dir" json:"modules_dir"`

	// DevReload rescans the module directory before every list and run.
	DevReload bool `yaml:"dev_reload" json:"dev_reload"`

	// SampleLimit caps distinct sample URLs kept per aggregated action.
	SampleLimit int `yaml:"sample_limit" json:"sample_limit"`

	// MaxHARBytes caps the size of an imported capture file.
	MaxHARBytes int64 `yaml:"max_har_bytes" json:"max_har_bytes"`

	// Dedup suppresses imported records whose fingerprint matches an
	// already-stored record. Off by default so repeated traffic keeps its
	// observed frequency in action counts.
	Dedup bool `yaml:"dedup" json:"dedup"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		DBPath:      "trafficlens.db",
		ModulesDir:  "modules",
		SampleLimit: actions.DefaultSampleLimit,
		MaxHARBytes: har.DefaultMaxBytes,
		LogLevel:    "info",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.SampleLimit < 0 {
		return fmt.Errorf("sample_limit must be >= 0")
	}
	if c.MaxHARBytes < 0 {
		return fmt.Errorf("max_har_bytes must be >= 0")
	}
	return nil
}
