package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Default and to any field left empty in the YAML file.
const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8001
	DefaultLogPath    = "data.jsonl"
	DefaultMaxRetries = 3
	DefaultRetryDelay = "100ms"
	DefaultWorkers    = 8
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig controls the append engine: where the JSONL file lives and
// how stubbornly a failed write is retried.
type LogConfig struct {
	Path       string `yaml:"path"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
	Workers    int    `yaml:"workers"`

	retryDelay time.Duration
}

// AuthConfig enables bearer-token auth on the append endpoint when
// TokenHash (a bcrypt hash of the token) is set.
type AuthConfig struct {
	TokenHash string `yaml:"token_hash"`
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Auth   AuthConfig   `yaml:"auth"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogConfig{
			Path:       DefaultLogPath,
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
			Workers:    DefaultWorkers,
		},
	}
}

// Load reads a YAML config file on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills in unset fields with defaults and checks the rest.
// It must run before Delay is used.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Server.Port)
	}
	if c.Log.Path == "" {
		c.Log.Path = DefaultLogPath
	}
	if c.Log.MaxRetries <= 0 {
		c.Log.MaxRetries = DefaultMaxRetries
	}
	if c.Log.Workers <= 0 {
		c.Log.Workers = DefaultWorkers
	}
	if c.Log.RetryDelay == "" {
		c.Log.RetryDelay = DefaultRetryDelay
	}
	delay, err := time.ParseDuration(c.Log.RetryDelay)
	if err != nil {
		return fmt.Errorf("invalid retry_delay %q: %w", c.Log.RetryDelay, err)
	}
	if delay < 0 {
		return fmt.Errorf("negative retry_delay %q", c.Log.RetryDelay)
	}
	c.Log.retryDelay = delay
	return nil
}

// Delay returns the parsed retry_delay.
func (c *LogConfig) Delay() time.Duration {
	return c.retryDelay
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
