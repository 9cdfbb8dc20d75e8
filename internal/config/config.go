// Package config loads and validates the fabric configuration. Files are
// YAML or JSON5, may pull in fragments through $include, and have
// environment variables expanded before parsing.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ariesworks/comms/internal/observability"
)

// Config is the top-level configuration for both the broker and the engine.
// One file can drive either process; each reads its own section.
type Config struct {
	Version int           `yaml:"version"`
	Broker  BrokerConfig  `yaml:"broker"`
	Engine  EngineConfig  `yaml:"engine"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig tunes the websocket stream broker.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PingIntervalMs is the liveness probe period. A connection is stale
	// after 10 missed intervals and closed after 20.
	PingIntervalMs int `yaml:"ping_interval_ms"`

	// MaxPayloadBytes caps a single inbound frame.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
}

// EngineConfig tunes the module host engine.
type EngineConfig struct {
	// BrokerURL is the websocket endpoint the engine connects to.
	BrokerURL string `yaml:"broker_url"`

	// ModuleDir holds .so plugin modules; empty means builtins only.
	ModuleDir string `yaml:"module_dir"`

	// PublishRateHz is the negotiation snapshot rate.
	PublishRateHz float64 `yaml:"publish_rate_hz"`

	// UpdateRates overrides per-module update_rate config keys at startup,
	// keyed by module id.
	UpdateRates map[string]float64 `yaml:"update_rates"`
}

// ToolsConfig tunes the tool execution framework.
type ToolsConfig struct {
	// Source names this executor in tool_result envelopes.
	Source string `yaml:"source"`

	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	CleanupSeconds float64 `yaml:"cleanup_seconds"`
}

// LoggingConfig mirrors observability.LogConfig in file form.
type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	Output    string   `yaml:"output"`
	AddSource bool     `yaml:"add_source"`
	Redact    []string `yaml:"redact"`
}

// Default returns the built-in configuration: broker on :3000, engine
// pointed at it, 10 Hz snapshots, 5 minute tool timeout.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Broker: BrokerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			PingIntervalMs:  5000,
			MaxPayloadBytes: 16 << 20,
		},
		Engine: EngineConfig{
			BrokerURL:     "ws://127.0.0.1:3000/",
			PublishRateHz: 10,
		},
		Tools: ToolsConfig{
			Source:         "tool_executor",
			TimeoutSeconds: 300,
			MaxRetries:     3,
			CleanupSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Load reads, merges and validates the file at path. Missing fields take
// their defaults; unknown fields are rejected.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Broker.Host == "" {
		c.Broker.Host = d.Broker.Host
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = d.Broker.Port
	}
	if c.Broker.PingIntervalMs == 0 {
		c.Broker.PingIntervalMs = d.Broker.PingIntervalMs
	}
	if c.Broker.MaxPayloadBytes == 0 {
		c.Broker.MaxPayloadBytes = d.Broker.MaxPayloadBytes
	}
	if c.Engine.BrokerURL == "" {
		c.Engine.BrokerURL = d.Engine.BrokerURL
	}
	if c.Engine.PublishRateHz == 0 {
		c.Engine.PublishRateHz = d.Engine.PublishRateHz
	}
	if c.Tools.Source == "" {
		c.Tools.Source = d.Tools.Source
	}
	if c.Tools.TimeoutSeconds == 0 {
		c.Tools.TimeoutSeconds = d.Tools.TimeoutSeconds
	}
	if c.Tools.MaxRetries == 0 {
		c.Tools.MaxRetries = d.Tools.MaxRetries
	}
	if c.Tools.CleanupSeconds == 0 {
		c.Tools.CleanupSeconds = d.Tools.CleanupSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}
}

// Validate rejects out-of-range values that defaults cannot repair.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.PingIntervalMs < 0 {
		return fmt.Errorf("broker.ping_interval_ms must not be negative")
	}
	if c.Engine.PublishRateHz <= 0 {
		return fmt.Errorf("engine.publish_rate_hz must be positive")
	}
	if c.Tools.TimeoutSeconds <= 0 {
		return fmt.Errorf("tools.timeout_seconds must be positive")
	}
	if c.Tools.MaxRetries < 1 {
		return fmt.Errorf("tools.max_retries must be at least 1")
	}
	for id, rate := range c.Engine.UpdateRates {
		if rate <= 0 {
			return fmt.Errorf("engine.update_rates[%s] must be positive", id)
		}
	}
	return nil
}

// PingInterval returns the broker liveness period as a duration.
func (c *BrokerConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// PublishInterval converts the snapshot rate into a ticker period.
func (c *EngineConfig) PublishInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.PublishRateHz)
}

// Timeout returns the default per-execution tool timeout.
func (c *ToolsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// CleanupInterval returns the stale execution sweep period.
func (c *ToolsConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupSeconds * float64(time.Second))
}

// LogConfig translates the file section to the observability form.
func (c *LoggingConfig) LogConfig() observability.LogConfig {
	var output io.Writer
	switch c.Output {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return observability.LogConfig{
		Level:          c.Level,
		Format:         c.Format,
		Output:         output,
		AddSource:      c.AddSource,
		RedactPatterns: c.Redact,
	}
}
