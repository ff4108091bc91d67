// Package config loads the optional YAML file that supplies defaults for the
// pulse binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrInvalidEventBus = errors.New("event bus must be one of none, memory, kafka")
	ErrMissingBrokers  = errors.New("kafka event bus requires at least one broker")
	ErrInvalidDuration = errors.New("durations must be positive")
	ErrInvalidLogLevel = errors.New("log level must be one of debug, info, warn, error")
	ErrEmptyDataDir    = errors.New("data directory is required")
)

// Config is the server configuration. Zero values are filled by Default.
type Config struct {
	Port          int           `yaml:"port"`
	DataDir       string        `yaml:"data_dir"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	Tracing       bool          `yaml:"tracing"`
	EventBus      EventBus      `yaml:"event_bus"`
}

type EventBus struct {
	Type    string   `yaml:"type"`
	Brokers []string `yaml:"brokers"`
}

func Default() Config {
	return Config{
		Port:          9091,
		DataDir:       "./data",
		LogLevel:      "info",
		LogFormat:     "text",
		IdleTimeout:   5 * time.Minute,
		SweepInterval: time.Minute,
		WriteTimeout:  10 * time.Second,
		EventBus:      EventBus{Type: "none"},
	}
}

// Load reads path over Default. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.EventBus.Type = strings.ToLower(cfg.EventBus.Type)

	return cfg, cfg.Validate()
}

// LoadOrDefault returns Default when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	return Load(path)
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}

	if c.DataDir == "" {
		return ErrEmptyDataDir
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	if c.IdleTimeout <= 0 || c.SweepInterval <= 0 || c.WriteTimeout <= 0 {
		return ErrInvalidDuration
	}

	switch c.EventBus.Type {
	case "", "none", "memory":
	case "kafka":
		if len(c.EventBus.Brokers) == 0 {
			return ErrMissingBrokers
		}
	default:
		return ErrInvalidEventBus
	}

	return nil
}
