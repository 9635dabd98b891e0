// Package config loads lightflow's YAML configuration file: workflow
// search paths, broker/signal/store connection settings, worker
// defaults, and logging. Grounded on the teacher's core/infra/config/
// {config.go,pools.go} (env-default-then-override shape, YAML-plus-
// JSON-Schema validated file loading).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lightflow/lightflow/internal/lferr"
	"github.com/lightflow/lightflow/internal/schema"
)

const (
	envBrokerURL = "LIGHTFLOW_BROKER_URL"
	envSignalURL = "LIGHTFLOW_SIGNAL_URL"
	envStoreURL  = "LIGHTFLOW_STORE_URL"

	defaultBrokerHost = "localhost"
	defaultBrokerPort = 4222
	defaultStoreHost  = "localhost"
	defaultStorePort  = 6379
)

// BrokerConfig describes a NATS-style connection (job queue or signal
// bus), per spec.md §6's `broker`/`signal` sections.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database int    `yaml:"database,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// URL renders the NATS connection URL for this broker config.
func (b BrokerConfig) URL() string {
	if b.Password != "" {
		return fmt.Sprintf("nats://:%s@%s:%d", b.Password, b.Host, b.Port)
	}
	return fmt.Sprintf("nats://%s:%d", b.Host, b.Port)
}

// StoreConfig describes the Redis-backed document store connection.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database int    `yaml:"database,omitempty"`
	Auth     string `yaml:"auth,omitempty"`
}

// URL renders the redis:// connection URL for this store config.
func (s StoreConfig) URL() string {
	if s.Auth != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", s.Auth, s.Host, s.Port, s.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d", s.Host, s.Port, s.Database)
}

// WorkerConfig carries worker process defaults.
type WorkerConfig struct {
	Concurrency    int      `yaml:"concurrency,omitempty"`
	QueuesDefault  []string `yaml:"queues_default,omitempty"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level    string   `yaml:"level,omitempty"`
	Handlers []string `yaml:"handlers,omitempty"`
}

// Config is the fully parsed lightflow.cfg.
type Config struct {
	Workflows []string      `yaml:"workflows,omitempty"`
	Broker    BrokerConfig  `yaml:"broker"`
	Signal    BrokerConfig  `yaml:"signal,omitempty"`
	Store     StoreConfig   `yaml:"store"`
	Worker    WorkerConfig  `yaml:"worker,omitempty"`
	Logging   LoggingConfig `yaml:"logging,omitempty"`

	// BrokerURLOverride, SignalURLOverride and StoreURLOverride let an
	// environment variable bypass the structured host/port fields
	// entirely, matching the teacher's env-first resolution order.
	BrokerURLOverride string `yaml:"-"`
	SignalURLOverride string `yaml:"-"`
	StoreURLOverride  string `yaml:"-"`
}

// ResolvedBrokerURL returns BrokerURLOverride if set, else Broker.URL().
func (c *Config) ResolvedBrokerURL() string {
	if c.BrokerURLOverride != "" {
		return c.BrokerURLOverride
	}
	return c.Broker.URL()
}

// ResolvedSignalURL returns SignalURLOverride if set, else Signal.URL().
func (c *Config) ResolvedSignalURL() string {
	if c.SignalURLOverride != "" {
		return c.SignalURLOverride
	}
	return c.Signal.URL()
}

// ResolvedStoreURL returns StoreURLOverride if set, else Store.URL().
func (c *Config) ResolvedStoreURL() string {
	if c.StoreURLOverride != "" {
		return c.StoreURLOverride
	}
	return c.Store.URL()
}

// Default returns the configuration used when no file is present,
// honoring the LIGHTFLOW_*_URL environment overrides the same way the
// teacher's config.Load() honors NATS_URL/REDIS_URL.
func Default() *Config {
	cfg := &Config{
		Workflows: []string{"./workflows"},
		Broker:    BrokerConfig{Host: defaultBrokerHost, Port: defaultBrokerPort},
		Store:     StoreConfig{Host: defaultStoreHost, Port: defaultStorePort},
		Worker:    WorkerConfig{Concurrency: 4, QueuesDefault: []string{"workflow", "dag", "task"}},
		Logging:   LoggingConfig{Level: "info"},
	}
	cfg.Signal = cfg.Broker
	if v := os.Getenv(envBrokerURL); v != "" {
		cfg.BrokerURLOverride = v
	}
	if v := os.Getenv(envSignalURL); v != "" {
		cfg.SignalURLOverride = v
	}
	if v := os.Getenv(envStoreURL); v != "" {
		cfg.StoreURLOverride = v
	}
	return cfg
}

// Load reads and validates the YAML config file at path, falling back
// to Default() field values for anything the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	// #nosec G304 -- config path is operator-provided, matching the
	// teacher's pool/timeout config loaders.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, lferr.Wrap(lferr.KindConfigError, err, "read config "+path)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	var payload map[string]interface{}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "parse config "+path)
	}
	if err := schema.Validate("lightflow-config", []byte(configSchema), payload); err != nil {
		return nil, err
	}

	overlay := Default()
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, lferr.Wrap(lferr.KindConfigError, err, "decode config "+path)
	}
	return overlay, nil
}

// WriteDefault writes the default configuration to dir/lightflow.cfg,
// for the `config default <dir>` CLI verb (spec.md §6).
func WriteDefault(dir string) (string, error) {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", lferr.Wrap(lferr.KindConfigError, err, "marshal default config")
	}
	path := dir + "/lightflow.cfg"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", lferr.Wrap(lferr.KindConfigError, err, "write default config "+path)
	}
	return path, nil
}

const configSchema = `{
  "type": "object",
  "properties": {
    "workflows": {"type": "array", "items": {"type": "string"}},
    "broker": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer"},
        "database": {"type": "integer"},
        "password": {"type": "string"}
      }
    },
    "signal": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer"},
        "database": {"type": "integer"},
        "password": {"type": "string"}
      }
    },
    "store": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer"},
        "database": {"type": "integer"},
        "auth": {"type": "string"}
      }
    },
    "worker": {
      "type": "object",
      "properties": {
        "concurrency": {"type": "integer"},
        "queues_default": {"type": "array", "items": {"type": "string"}}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string"},
        "handlers": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`
