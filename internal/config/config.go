// Package config loads helix-sync daemon configuration. JSON is the native
// format; .toml and .yaml files are accepted too since desktop installs
// ship whichever the platform packaging prefers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all helix-sync configuration
type Config struct {
	Server    ServerConfig    `json:"server" toml:"server" yaml:"server"`
	Queue     QueueConfig     `json:"queue" toml:"queue" yaml:"queue"`
	Storage   StorageConfig   `json:"storage" toml:"storage" yaml:"storage"`
	Gateway   GatewayConfig   `json:"gateway" toml:"gateway" yaml:"gateway"`
	Transport TransportConfig `json:"transport" toml:"transport" yaml:"transport"`
	Drain     DrainConfig     `json:"drain,omitempty" toml:"drain" yaml:"drain"`
}

type ServerConfig struct {
	Port     int    `json:"port" toml:"port" yaml:"port"`
	DataDir  string `json:"dataDir" toml:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" toml:"logLevel" yaml:"logLevel"`
}

type QueueConfig struct {
	StorageKey  string `json:"storageKey,omitempty" toml:"storageKey" yaml:"storageKey"`
	MaxRetries  int    `json:"maxRetries" toml:"maxRetries" yaml:"maxRetries"`
	BaseDelayMs int64  `json:"baseDelayMs" toml:"baseDelayMs" yaml:"baseDelayMs"`
	MaxDelayMs  int64  `json:"maxDelayMs" toml:"maxDelayMs" yaml:"maxDelayMs"`
	Persist     bool   `json:"persist" toml:"persist" yaml:"persist"`
}

type StorageConfig struct {
	// Backend selects the persistence medium: "memory", "file" or "sqlite".
	Backend string `json:"backend" toml:"backend" yaml:"backend"`
	// Path is the sqlite database file; file stores use Server.DataDir.
	Path string `json:"path,omitempty" toml:"path" yaml:"path"`
	// EncryptionKey (hex, 32 bytes) seals snapshot values at rest when set.
	EncryptionKey string `json:"encryptionKey,omitempty" toml:"encryptionKey" yaml:"encryptionKey"`
}

type GatewayConfig struct {
	HealthURL          string `json:"healthUrl" toml:"healthUrl" yaml:"healthUrl"`
	IntervalSeconds    int    `json:"intervalSeconds" toml:"intervalSeconds" yaml:"intervalSeconds"`
	UnhealthyThreshold int    `json:"unhealthyThreshold" toml:"unhealthyThreshold" yaml:"unhealthyThreshold"`
	DrainOnReconnect   bool   `json:"drainOnReconnect" toml:"drainOnReconnect" yaml:"drainOnReconnect"`
}

type TransportConfig struct {
	// Kind selects the delivery adapter: "http", "websocket" or "mqtt".
	Kind  string `json:"kind" toml:"kind" yaml:"kind"`
	URL   string `json:"url,omitempty" toml:"url" yaml:"url"`
	Token string `json:"token,omitempty" toml:"token" yaml:"token"`
	// MQTT settings
	Broker string `json:"broker,omitempty" toml:"broker" yaml:"broker"`
	Topic  string `json:"topic,omitempty" toml:"topic" yaml:"topic"`
}

type DrainConfig struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`
	// Kind is "interval" or "cron".
	Kind       string `json:"kind,omitempty" toml:"kind" yaml:"kind"`
	IntervalMs int64  `json:"intervalMs,omitempty" toml:"intervalMs" yaml:"intervalMs"`
	Expr       string `json:"expr,omitempty" toml:"expr" yaml:"expr"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     9876,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Queue: QueueConfig{
			MaxRetries:  5,
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			Persist:     true,
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		Gateway: GatewayConfig{
			IntervalSeconds:    30,
			UnhealthyThreshold: 3,
			DrainOnReconnect:   true,
		},
		Transport: TransportConfig{
			Kind: "http",
			URL:  "http://localhost:8787/api/messages",
		},
		Drain: DrainConfig{
			Enabled:    true,
			Kind:       "interval",
			IntervalMs: 60000,
		},
	}
}

// Load reads a config file, merging it over defaults. The parser is chosen
// by file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints before the daemon wires anything.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "file":
	case "sqlite":
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(c.Server.DataDir, "helix-sync.db")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (use memory, file, or sqlite)", c.Storage.Backend)
	}

	switch c.Transport.Kind {
	case "http", "websocket":
		if c.Transport.URL == "" {
			return fmt.Errorf("transport url required for %s transport", c.Transport.Kind)
		}
	case "mqtt":
		if c.Transport.Broker == "" {
			return fmt.Errorf("broker required for mqtt transport")
		}
		if c.Transport.Topic == "" {
			return fmt.Errorf("topic required for mqtt transport")
		}
	case "":
		// No transport configured: the daemon still queues, drains are manual.
	default:
		return fmt.Errorf("unknown transport kind: %s (use http, websocket, or mqtt)", c.Transport.Kind)
	}

	if c.Drain.Enabled {
		switch c.Drain.Kind {
		case "interval":
			if c.Drain.IntervalMs <= 0 {
				return fmt.Errorf("intervalMs must be positive")
			}
		case "cron":
			if c.Drain.Expr == "" {
				return fmt.Errorf("cron expression required")
			}
			if _, err := cron.ParseStandard(c.Drain.Expr); err != nil {
				return fmt.Errorf("invalid cron expression: %w", err)
			}
		default:
			return fmt.Errorf("unknown drain schedule kind: %s (use interval or cron)", c.Drain.Kind)
		}
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative")
	}
	return nil
}
