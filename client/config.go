package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries everything the connection engine needs to reach and keep a
// healthy connection to one server.
type Config struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`

	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteDeadline  time.Duration `yaml:"write_deadline"`

	// PingInterval is the health check period. The connection is declared
	// idle after 2x this interval without a single byte from the server.
	// Zero selects the default; a negative value disables the health check.
	PingInterval  time.Duration `yaml:"ping_interval"`
	HealthCheckID string        `yaml:"health_check_id"`

	// MaxReadSize bounds the read buffer. A reply needing a larger
	// contiguous window fails the connection.
	MaxReadSize int `yaml:"max_read_size"`

	// MaxDepth bounds reply nesting.
	MaxDepth int `yaml:"max_depth"`

	CoalesceRequests bool `yaml:"coalesce_requests"`
	EnablePush       bool `yaml:"enable_push"`
	EnableReconnect  bool `yaml:"enable_reconnect"`

	// ReconnectInterval caps the backoff between reconnection attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	PushBufferSize int `yaml:"push_buffer_size"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig toggles the engine's metrics and tracing.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		OTLPEndpoint string  `yaml:"otlp_endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SampleRatio  float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
}

// DefaultConfig returns a config for a local server with every engine
// feature enabled.
func DefaultConfig() Config {
	c := Config{
		Host:             "localhost",
		Port:             "6379",
		CoalesceRequests: true,
		EnablePush:       true,
		EnableReconnect:  true,
	}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero valued fields. Boolean features keep whatever was
// set; use DefaultConfig for the all-on defaults.
func (c *Config) SetDefaults() {
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = 10 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteDeadline == 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 2 * time.Second
	}
	if c.HealthCheckID == "" {
		c.HealthCheckID = "raiden"
	}
	if c.MaxReadSize == 0 {
		c.MaxReadSize = 1 << 26
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 16
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = time.Second
	}
	if c.PushBufferSize == 0 {
		c.PushBufferSize = 128
	}
}

// Validate reports configuration errors that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("empty host")
	}
	if c.Port == "" {
		return errors.New("empty port")
	}
	if c.MaxReadSize < 0 || c.MaxDepth < 0 {
		return errors.New("negative limit")
	}
	return nil
}

// Addr returns the host:port the engine connects to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// LoadConfig reads a yaml config file, applies defaults and validates.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}
