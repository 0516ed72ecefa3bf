// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with precedence
// ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML in Go duration
// syntax ("30s", "7h") as well as from bare integers (nanoseconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full construction-time configuration of the busd daemon.
// There is no dynamic reconfiguration; restart to apply changes.
type Config struct {
	RedisURL      string   `yaml:"redis_url"`
	MaxRetries    int      `yaml:"max_retries"`
	PersistEvents bool     `yaml:"persist_events"`
	EventTTL      Duration `yaml:"event_ttl"`
	BackoffCap    Duration `yaml:"backoff_cap"`
	PollTimeout   Duration `yaml:"poll_timeout"`

	ListenAddr   string `yaml:"listen_addr"`
	RateLimitRPS int    `yaml:"rate_limit_rps"`

	LogLevel string `yaml:"log_level"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter"` // "grpc", "http" or "noop"
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	TracingSampling float64 `yaml:"tracing_sampling"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RedisURL:        "redis://localhost:6379/0",
		MaxRetries:      3,
		PersistEvents:   true,
		EventTTL:        Duration(7 * 24 * time.Hour),
		BackoffCap:      Duration(60 * time.Second),
		PollTimeout:     Duration(time.Second),
		ListenAddr:      ":8089",
		RateLimitRPS:    50,
		LogLevel:        "info",
		TracingExporter: "noop",
		TracingSampling: 1.0,
	}
}

// Load builds the effective configuration: defaults, overridden by the YAML
// file at path (if non-empty), overridden by environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	cfg.RedisURL = ParseString("LEDGERBUS_REDIS_URL", cfg.RedisURL)
	cfg.MaxRetries = ParseInt("LEDGERBUS_MAX_RETRIES", cfg.MaxRetries)
	cfg.PersistEvents = ParseBool("LEDGERBUS_PERSIST_EVENTS", cfg.PersistEvents)
	cfg.EventTTL = Duration(ParseDuration("LEDGERBUS_EVENT_TTL", cfg.EventTTL.Std()))
	cfg.BackoffCap = Duration(ParseDuration("LEDGERBUS_BACKOFF_CAP", cfg.BackoffCap.Std()))
	cfg.PollTimeout = Duration(ParseDuration("LEDGERBUS_POLL_TIMEOUT", cfg.PollTimeout.Std()))
	cfg.ListenAddr = ParseString("LEDGERBUS_LISTEN_ADDR", cfg.ListenAddr)
	cfg.RateLimitRPS = ParseInt("LEDGERBUS_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.LogLevel = ParseString("LEDGERBUS_LOG_LEVEL", cfg.LogLevel)
	cfg.TracingEnabled = ParseBool("LEDGERBUS_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TracingExporter = ParseString("LEDGERBUS_TRACING_EXPORTER", cfg.TracingExporter)
	cfg.TracingEndpoint = ParseString("LEDGERBUS_TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat("LEDGERBUS_TRACING_SAMPLING", cfg.TracingSampling)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url must not be empty"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.EventTTL <= 0 {
		errs = append(errs, fmt.Errorf("event_ttl must be positive, got %s", c.EventTTL.Std()))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("poll_timeout must be positive, got %s", c.PollTimeout.Std()))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	switch c.TracingExporter {
	case "", "noop", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing_exporter must be one of noop, grpc, http; got %q", c.TracingExporter))
	}
	return errors.Join(errs...)
}
