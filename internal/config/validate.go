package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RouterConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if c.MaxQueueSize < 1 {
		return errors.New("max_queue_size must be >= 1")
	}
	if c.MaxClients < 1 {
		return errors.New("max_clients must be >= 1")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Queue.StarvationLimit < 2 {
		return errors.New("queue.starvation_limit must be >= 2")
	}
	if c.Queue.DefaultTTL < 0 {
		return errors.New("queue.default_ttl must be >= 0")
	}

	if c.Connections.HandshakeTimeout <= 0 {
		return errors.New("connections.handshake_timeout must be > 0")
	}
	if c.Connections.IdleTimeout < 0 {
		return errors.New("connections.idle_timeout must be >= 0")
	}
	if c.Connections.OutboundBuffer < 1 {
		return errors.New("connections.outbound_buffer must be >= 1")
	}
	if c.Connections.WriteTimeout <= 0 {
		return errors.New("connections.write_timeout must be > 0")
	}
	if c.Connections.PingInterval < 0 {
		return errors.New("connections.ping_interval must be >= 0")
	}
	if c.Connections.SlowConsumerDrops < 1 {
		return errors.New("connections.slow_consumer_drops must be >= 1")
	}
	if c.Connections.MaxMessageBytes < 1 {
		return errors.New("connections.max_message_bytes must be >= 1")
	}

	if c.Health.SampleInterval <= 0 {
		return errors.New("health.sample_interval must be > 0")
	}
	if c.Health.DegradedThreshold <= 0 || c.Health.DegradedThreshold > 1 {
		return fmt.Errorf("health.degraded_threshold must be in (0, 1], got %v", c.Health.DegradedThreshold)
	}
	if c.Health.StatusPort == 0 || c.Health.StatusPort > 65535 {
		return fmt.Errorf("health.status_port must be 1-65535 or negative to disable, got %d", c.Health.StatusPort)
	}
	if c.Health.StatusPort == c.Port {
		return errors.New("health.status_port must differ from port")
	}

	if c.History.Enabled {
		if err := c.History.validate("history"); err != nil {
			return err
		}
	}

	return nil
}

func (h *HistoryConfig) validate(prefix string) error {
	if h.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if h.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if h.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if h.MaxConns < h.MinConns {
		return fmt.Errorf("%s.max_conns must be >= min_conns", prefix)
	}
	if h.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	if h.FlushInterval <= 0 {
		return fmt.Errorf("%s.flush_interval must be > 0", prefix)
	}
	return nil
}

// ParseLogLevel maps a log_level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}

// Addr returns the router listen address.
func (c *RouterConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatusAddr returns the status API listen address, or "" when disabled.
func (c *RouterConfig) StatusAddr() string {
	if c.Health.StatusPort < 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Health.StatusPort)
}
