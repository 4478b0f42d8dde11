package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8080
	DefaultMaxQueueSize      = 10000
	DefaultMaxClients        = 1000
	DefaultLogLevel          = "info"
	DefaultStarvationLimit   = 8
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultOutboundBuffer    = 256
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultDrainTimeout      = 2 * time.Second
	DefaultSlowConsumerDrops = 64
	DefaultMaxMessageBytes   = 1 << 20
	DefaultSampleInterval    = 1 * time.Second
	DefaultDegradedThreshold = 0.75
	DefaultStatusPort        = 8081
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 10 * time.Second
)

func (c *RouterConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxClients == 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	// Queue defaults
	if c.Queue.StarvationLimit == 0 {
		c.Queue.StarvationLimit = DefaultStarvationLimit
	}

	// Connections defaults
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.IdleTimeout == 0 {
		c.Connections.IdleTimeout = DefaultIdleTimeout
	}
	if c.Connections.OutboundBuffer == 0 {
		c.Connections.OutboundBuffer = DefaultOutboundBuffer
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.DrainTimeout == 0 {
		c.Connections.DrainTimeout = DefaultDrainTimeout
	}
	if c.Connections.SlowConsumerDrops == 0 {
		c.Connections.SlowConsumerDrops = DefaultSlowConsumerDrops
	}
	if c.Connections.MaxMessageBytes == 0 {
		c.Connections.MaxMessageBytes = DefaultMaxMessageBytes
	}

	// Health defaults
	if c.Health.SampleInterval == 0 {
		c.Health.SampleInterval = DefaultSampleInterval
	}
	if c.Health.DegradedThreshold == 0 {
		c.Health.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.Health.StatusPort == 0 {
		c.Health.StatusPort = DefaultStatusPort
	}

	// History defaults
	if c.History.Port == 0 {
		c.History.Port = DefaultDBPort
	}
	if c.History.SSLMode == "" {
		c.History.SSLMode = DefaultDBSSLMode
	}
	if c.History.MaxConns == 0 {
		c.History.MaxConns = DefaultMaxConns
	}
	if c.History.MinConns == 0 {
		c.History.MinConns = DefaultMinConns
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultFlushInterval
	}
}
