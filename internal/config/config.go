// Package config loads and validates the router configuration.
package config

import "time"

// RouterConfig is the root configuration for an event router instance.
// It is built once at startup and never mutated afterwards.
type RouterConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxQueueSize  int    `yaml:"max_queue_size"`
	MaxClients    int    `yaml:"max_clients"`
	UseMultiQueue bool   `yaml:"use_multi_queue"`
	LogLevel      string `yaml:"log_level"` // debug, info, warn, error

	Queue       QueueConfig       `yaml:"queue"`
	Connections ConnectionsConfig `yaml:"connections"`
	Health      HealthConfig      `yaml:"health"`
	History     HistoryConfig     `yaml:"history"`
}

// QueueConfig holds event queue settings.
type QueueConfig struct {
	StarvationLimit int           `yaml:"starvation_limit"` // K, multi-queue only
	DefaultTTL      time.Duration `yaml:"default_ttl"`      // 0 = events never expire
}

// ConnectionsConfig holds connection manager settings.
type ConnectionsConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	OutboundBuffer    int           `yaml:"outbound_buffer"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	SlowConsumerDrops int           `yaml:"slow_consumer_drops"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
}

// HealthConfig holds health monitor and status API settings.
type HealthConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	DegradedThreshold float64       `yaml:"degraded_threshold"` // fraction of max_queue_size
	StatusPort        int           `yaml:"status_port"`        // negative disables the status API
}

// HistoryConfig holds the optional Postgres health-history sink.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SSLMode       string        `yaml:"ssl_mode"`
	MaxConns      int           `yaml:"max_conns"`
	MinConns      int           `yaml:"min_conns"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}
