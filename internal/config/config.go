package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models loreline.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string   `yaml:"jwt_secret"`
		APIKeys   []string `yaml:"api_keys"`
	} `yaml:"auth"`
	Storage struct {
		DBPath                   string `yaml:"db_path"`
		CacheDir                 string `yaml:"cache_dir"`
		ConnectAttempts          int    `yaml:"connect_attempts"`
		BackoffCeilingSeconds    int    `yaml:"backoff_ceiling_seconds"`
		ReconnectIntervalSeconds int    `yaml:"reconnect_interval_seconds"`
	} `yaml:"storage"`
	Events struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"events"`
	Workers struct {
		LogCapacity int `yaml:"log_capacity"`
	} `yaml:"workers"`
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults(workspace)
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Storage.ConnectAttempts < 1 {
		return fmt.Errorf("config.storage.connect_attempts must be >= 1")
	}
	if c.Storage.BackoffCeilingSeconds < 1 {
		return fmt.Errorf("config.storage.backoff_ceiling_seconds must be >= 1")
	}
	if c.Storage.ReconnectIntervalSeconds < 1 {
		return fmt.Errorf("config.storage.reconnect_interval_seconds must be >= 1")
	}
	if c.Events.Buffer < 1 {
		return fmt.Errorf("config.events.buffer must be >= 1")
	}
	if c.Workers.LogCapacity < 1 {
		return fmt.Errorf("config.workers.log_capacity must be >= 1")
	}
	for _, k := range c.Auth.APIKeys {
		if k == "" {
			return fmt.Errorf("config.auth.api_keys contains empty key")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "loreline.yml")
}

// Default returns the default Config for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.fillDefaults(workspace)
	return &cfg
}

func (c *Config) fillDefaults(workspace string) {
	if workspace == "" {
		workspace = "."
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8600"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(workspace, ".loreline", "cache")
	}
	if c.Storage.ConnectAttempts == 0 {
		c.Storage.ConnectAttempts = 5
	}
	if c.Storage.BackoffCeilingSeconds == 0 {
		c.Storage.BackoffCeilingSeconds = 30
	}
	if c.Storage.ReconnectIntervalSeconds == 0 {
		c.Storage.ReconnectIntervalSeconds = 60
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = 64
	}
	if c.Workers.LogCapacity == 0 {
		c.Workers.LogCapacity = 200
	}
}

// ReconnectInterval returns the background reconnect period.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Storage.ReconnectIntervalSeconds) * time.Second
}

// BackoffCeiling returns the cap for the startup connect backoff.
func (c *Config) BackoffCeiling() time.Duration {
	return time.Duration(c.Storage.BackoffCeilingSeconds) * time.Second
}

// parse unmarshals without touching defaults, so callers can fill them
// relative to the right workspace.
func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return &cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes. Defaulted
// paths resolve relative to the current directory; prefer Load when a
// workspace is known.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults(".")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
