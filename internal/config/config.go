// Package config loads and validates the Tarbox configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Store     StoreConfig     `yaml:"store"`
	Detector  DetectorConfig  `yaml:"detector"`
	ContentGC ContentGCConfig `yaml:"content_gc"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Retry     RetryConfig     `yaml:"retry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Hooks     HooksConfig     `yaml:"hooks"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// Path is the SQLite database file; ":memory:" keeps state in process.
	Path string `yaml:"path"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns bounds idle pooled connections.
	MaxIdleConns int `yaml:"max_idle_conns"`
	// BusyTimeout is handed to the driver for lock contention.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DetectorConfig carries the file-type detector thresholds.
type DetectorConfig struct {
	// MaxTextSize is the size above which content is always binary.
	MaxTextSize int64 `yaml:"max_text_size"`
	// MaxNonPrintableRatio is the tolerated proportion of non-printable bytes.
	MaxNonPrintableRatio float64 `yaml:"max_non_printable_ratio"`
	// MaxLineLength is the longest run without a line break still counted as text.
	MaxLineLength int `yaml:"max_line_length"`
}

// ContentGCConfig configures the text-block sweep.
type ContentGCConfig struct {
	// IdleThreshold is how long a zero-reference text block must sit unused
	// before the sweep may delete it.
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

// TimeoutConfig carries operation deadlines.
type TimeoutConfig struct {
	// Operation bounds one facade operation including its transaction.
	Operation time.Duration `yaml:"operation"`
}

// RetryConfig configures the facade's retry of Unavailable failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// HooksConfig configures the control namespace.
type HooksConfig struct {
	// Prefix is the reserved virtual subtree; it is matched before any mount.
	Prefix string `yaml:"prefix"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Store: StoreConfig{
			Path:         "tarbox.db",
			MaxOpenConns: 8,
			MaxIdleConns: 4,
			BusyTimeout:  5 * time.Second,
		},
		Detector: DetectorConfig{
			MaxTextSize:          10 * 1024 * 1024,
			MaxNonPrintableRatio: 0.05,
			MaxLineLength:        10 * 1024,
		},
		ContentGC: ContentGCConfig{
			IdleThreshold: 7 * 24 * time.Hour,
		},
		Timeouts: TimeoutConfig{
			Operation: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONOutput: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Hooks: HooksConfig{
			Prefix: "/.tarbox",
		},
	}
}

// Load reads a yaml configuration file on top of the defaults and applies
// environment overrides.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) applyEnv() {
	if v := os.Getenv("TARBOX_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TARBOX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TARBOX_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Configuration) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("store.max_open_conns must be positive, got %d", c.Store.MaxOpenConns)
	}
	if c.Detector.MaxTextSize <= 0 {
		return fmt.Errorf("detector.max_text_size must be positive, got %d", c.Detector.MaxTextSize)
	}
	if c.Detector.MaxNonPrintableRatio <= 0 || c.Detector.MaxNonPrintableRatio >= 1 {
		return fmt.Errorf("detector.max_non_printable_ratio must be in (0,1), got %g", c.Detector.MaxNonPrintableRatio)
	}
	if c.Detector.MaxLineLength <= 0 {
		return fmt.Errorf("detector.max_line_length must be positive, got %d", c.Detector.MaxLineLength)
	}
	if c.ContentGC.IdleThreshold <= 0 {
		return fmt.Errorf("content_gc.idle_threshold must be positive, got %v", c.ContentGC.IdleThreshold)
	}
	if c.Timeouts.Operation <= 0 {
		return fmt.Errorf("timeouts.operation must be positive, got %v", c.Timeouts.Operation)
	}
	if c.Hooks.Prefix == "" || c.Hooks.Prefix[0] != '/' {
		return fmt.Errorf("hooks.prefix must be an absolute path, got %q", c.Hooks.Prefix)
	}
	return nil
}
