package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the launcher configuration, read from a YAML file and
// overridden by flags.
type Config struct {
	// Name of the server in logs, a random one when empty.
	Name string `yaml:"name"`
	// Address of the Proxy Adapter port carrying requests and replies.
	Address string `yaml:"address"`
	// NotifyAddress of the Proxy Adapter port carrying Data notifications.
	// When empty notifications share the request and reply connection.
	NotifyAddress string `yaml:"notify_address"`
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Keepalive overrides the default keepalive interval.
	Keepalive *time.Duration `yaml:"keepalive"`
	// PoolSize of the adapter call pool.
	PoolSize *int `yaml:"pool_size"`

	// AdapterConfig is passed to the adapter Init.
	AdapterConfig string `yaml:"adapter_config"`
	// Params are merged into the init parameters sent by the Proxy Adapter.
	Params map[string]string `yaml:"params"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Redis   RedisConfig   `yaml:"redis"`
}

type LogConfig struct {
	// Level is one of trace, debug, info, warn, error or none.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Address to serve /metrics on, disabled when empty.
	Address string `yaml:"address"`
	// LogInterval of the metrics snapshot log, disabled when zero.
	LogInterval time.Duration `yaml:"log_interval"`
	// Namespace of the metrics.
	Namespace string `yaml:"namespace"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// DefaultConfig is used for values missing from the file.
var DefaultConfig = Config{
	Address:        "localhost:6661",
	ConnectTimeout: 10 * time.Second,
	Log: LogConfig{
		Level:  "info",
		Format: "text",
	},
}

// LoadConfig reads the configuration from the YAML file at path. An empty
// path returns DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate validates config and returns error if problems found.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("address not set")
	}
	if c.Keepalive != nil && *c.Keepalive < 0 {
		return errors.New("keepalive must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
