package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
host: 127.0.0.1
port: 9000
max_queue_size: 500
max_clients: 20
use_multi_queue: true
log_level: debug
queue:
  starvation_limit: 4
  default_ttl: 30s
connections:
  handshake_timeout: 2s
  outbound_buffer: 64
health:
  degraded_threshold: 0.5
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if !cfg.UseMultiQueue {
		t.Error("UseMultiQueue = false, want true")
	}
	if cfg.Queue.StarvationLimit != 4 {
		t.Errorf("Queue.StarvationLimit = %d, want 4", cfg.Queue.StarvationLimit)
	}
	if cfg.Queue.DefaultTTL != 30*time.Second {
		t.Errorf("Queue.DefaultTTL = %v, want 30s", cfg.Queue.DefaultTTL)
	}
	if cfg.Connections.HandshakeTimeout != 2*time.Second {
		t.Errorf("Connections.HandshakeTimeout = %v, want 2s", cfg.Connections.HandshakeTimeout)
	}
	if cfg.Health.DegradedThreshold != 0.5 {
		t.Errorf("Health.DegradedThreshold = %v, want 0.5", cfg.Health.DegradedThreshold)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_HISTORY_PASSWORD", "secret123")
	t.Setenv("TEST_ROUTER_PORT", "7070")

	yaml := `
port: ${TEST_ROUTER_PORT}
history:
  enabled: true
  host: localhost
  name: router
  user: router
  password: ${TEST_HISTORY_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.History.Password != "secret123" {
		t.Errorf("History.Password = %q, want %q", cfg.History.Password, "secret123")
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Port)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "max_clients: 5\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.MaxClients != 5 {
		t.Errorf("MaxClients = %d, want 5", cfg.MaxClients)
	}
	if cfg.MaxQueueSize != DefaultMaxQueueSize {
		t.Errorf("MaxQueueSize = %d, want %d", cfg.MaxQueueSize, DefaultMaxQueueSize)
	}
	if cfg.UseMultiQueue {
		t.Error("UseMultiQueue = true, want false by default")
	}
	if cfg.Queue.StarvationLimit != DefaultStarvationLimit {
		t.Errorf("Queue.StarvationLimit = %d, want %d", cfg.Queue.StarvationLimit, DefaultStarvationLimit)
	}
	if cfg.Connections.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("Connections.IdleTimeout = %v, want %v", cfg.Connections.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.Health.StatusPort != DefaultStatusPort {
		t.Errorf("Health.StatusPort = %d, want %d", cfg.Health.StatusPort, DefaultStatusPort)
	}
	if cfg.History.SSLMode != DefaultDBSSLMode {
		t.Errorf("History.SSLMode = %q, want %q", cfg.History.SSLMode, DefaultDBSSLMode)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded, want error")
	}

	path := writeTempFile(t, "port: [not, a, number]\n")
	if _, err := Load(path); err == nil {
		t.Error("Load(bad yaml) succeeded, want error")
	}

	path = writeTempFile(t, "max_queue_size: -1\n")
	_, err := LoadAndValidate(path)
	if err == nil || !strings.Contains(err.Error(), "max_queue_size") {
		t.Errorf("LoadAndValidate error = %v, want max_queue_size error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RouterConfig)
		wantErr string
	}{
		{"defaults are valid", func(*RouterConfig) {}, ""},
		{"bad port", func(c *RouterConfig) { c.Port = 70000 }, "port"},
		{"zero queue", func(c *RouterConfig) { c.MaxQueueSize = -5 }, "max_queue_size"},
		{"zero clients", func(c *RouterConfig) { c.MaxClients = -1 }, "max_clients"},
		{"bad log level", func(c *RouterConfig) { c.LogLevel = "loud" }, "log_level"},
		{"starvation limit one", func(c *RouterConfig) { c.Queue.StarvationLimit = 1 }, "starvation_limit"},
		{"negative ttl", func(c *RouterConfig) { c.Queue.DefaultTTL = -time.Second }, "default_ttl"},
		{"threshold above one", func(c *RouterConfig) { c.Health.DegradedThreshold = 1.5 }, "degraded_threshold"},
		{"status port clash", func(c *RouterConfig) { c.Health.StatusPort = c.Port }, "status_port"},
		{"status disabled", func(c *RouterConfig) { c.Health.StatusPort = -1 }, ""},
		{"history missing host", func(c *RouterConfig) {
			c.History.Enabled = true
			c.History.Name = "db"
			c.History.User = "u"
		}, "history.host"},
		{"history complete", func(c *RouterConfig) {
			c.History = HistoryConfig{
				Enabled: true, Host: "localhost", Name: "db", User: "u",
				MaxConns: 2, MinConns: 1, BatchSize: 10, FlushInterval: time.Second,
			}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestAddrs(t *testing.T) {
	cfg := Default()
	cfg.Host = "localhost"
	if got := cfg.Addr(); got != "localhost:8080" {
		t.Errorf("Addr() = %q, want %q", got, "localhost:8080")
	}
	if got := cfg.StatusAddr(); got != "localhost:8081" {
		t.Errorf("StatusAddr() = %q, want %q", got, "localhost:8081")
	}
	cfg.Health.StatusPort = -1
	if got := cfg.StatusAddr(); got != "" {
		t.Errorf("StatusAddr() = %q, want empty", got)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
