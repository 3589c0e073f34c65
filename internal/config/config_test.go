package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "helix-sync.json", `{
		"server": {"port": 7000, "dataDir": "`+filepath.ToSlash(dir)+`"},
		"queue": {"maxRetries": 3, "baseDelayMs": 250, "persist": true},
		"transport": {"kind": "http", "url": "http://localhost:9999/sync"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", cfg.Queue.MaxRetries)
	}
	// Defaults survive a partial file.
	if cfg.Gateway.IntervalSeconds != 30 {
		t.Errorf("gateway interval = %d, want default 30", cfg.Gateway.IntervalSeconds)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "helix-sync.toml", `
[server]
port = 7100

[transport]
kind = "mqtt"
broker = "tcp://localhost:1883"
topic = "helix/sync"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("port = %d, want 7100", cfg.Server.Port)
	}
	if cfg.Transport.Kind != "mqtt" || cfg.Transport.Topic != "helix/sync" {
		t.Errorf("transport = %+v, want mqtt helix/sync", cfg.Transport)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "helix-sync.yaml", `
server:
  port: 7200
storage:
  backend: sqlite
transport:
  kind: http
  url: http://localhost:8787/api/messages
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7200 {
		t.Errorf("port = %d, want 7200", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q, want sqlite", cfg.Storage.Backend)
	}
	// sqlite backend without a path gets one under the data dir.
	if cfg.Storage.Path == "" {
		t.Error("sqlite path not defaulted")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"bad storage backend": func(c *Config) { c.Storage.Backend = "redis" },
		"bad transport kind":  func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		"http without url":    func(c *Config) { c.Transport.URL = "" },
		"mqtt without broker": func(c *Config) {
			c.Transport = TransportConfig{Kind: "mqtt", Topic: "t"}
		},
		"bad cron expr": func(c *Config) {
			c.Drain = DrainConfig{Enabled: true, Kind: "cron", Expr: "not a cron"}
		},
		"zero interval": func(c *Config) {
			c.Drain = DrainConfig{Enabled: true, Kind: "interval"}
		},
		"bad drain kind": func(c *Config) {
			c.Drain = DrainConfig{Enabled: true, Kind: "hourly"}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_CronSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Drain = DrainConfig{Enabled: true, Kind: "cron", Expr: "*/5 * * * *"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid cron rejected: %v", err)
	}
}

func TestValidate_NoTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = TransportConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty transport rejected: %v", err)
	}
}
