// Package config loads and validates the service configuration. The file is
// YAML; unset fields fall back to defaults suitable for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haileyok/osprey/errors"
)

// Config is the complete service configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	RuleSet RuleSetConfig `yaml:"rule_set"`
	NATS    NATSConfig    `yaml:"nats"`
	Engine  EngineConfig  `yaml:"engine"`
	Worker  WorkerConfig  `yaml:"worker"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServiceConfig identifies the running instance.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// RuleSetConfig locates the rule set document.
type RuleSetConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig defines the NATS connection and JetStream settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`

	Stream        string `yaml:"stream"`
	Consumer      string `yaml:"consumer"`
	Subject       string `yaml:"subject"`
	EffectSubject string `yaml:"effect_subject"`
	ResultSubject string `yaml:"result_subject"`
}

// EngineConfig tunes per-event evaluation.
type EngineConfig struct {
	AsyncWorkers int           `yaml:"async_workers"`
	Timeout      time.Duration `yaml:"timeout"`
}

// WorkerConfig tunes the event consumer.
type WorkerConfig struct {
	Parallelism int     `yaml:"parallelism"`
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
}

// MetricsConfig controls the metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with development defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", fmt.Sprintf("read %s", path))
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "parse YAML")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "osprey"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "dev"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "OSPREY_EVENTS"
	}
	if c.NATS.Consumer == "" {
		c.NATS.Consumer = "osprey-worker"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "osprey.events"
	}
	if c.NATS.EffectSubject == "" {
		c.NATS.EffectSubject = "osprey.effects"
	}
	if c.NATS.ResultSubject == "" {
		c.NATS.ResultSubject = "osprey.results"
	}
	if c.Engine.AsyncWorkers == 0 {
		c.Engine.AsyncWorkers = 16
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = 5 * time.Second
	}
	if c.Worker.Parallelism == 0 {
		c.Worker.Parallelism = 4
	}
	if c.Worker.RateBurst == 0 {
		c.Worker.RateBurst = 100
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.New(msg), "Config", "Validate", "check configuration")
	}

	switch c.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown log level %q", c.Service.LogLevel))
	}
	if c.RuleSet.Path == "" {
		return invalid("rule_set.path is required")
	}
	if c.Engine.AsyncWorkers < 0 {
		return invalid("engine.async_workers cannot be negative")
	}
	if c.Engine.Timeout < 0 {
		return invalid("engine.timeout cannot be negative")
	}
	if c.Worker.Parallelism < 1 {
		return invalid("worker.parallelism must be at least 1")
	}
	if c.Worker.RateLimit < 0 {
		return invalid("worker.rate_limit cannot be negative")
	}
	return nil
}
