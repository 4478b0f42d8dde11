// Package health implements the Health Monitor: a passive sampler of queue,
// connection and dispatch counters that publishes point-in-time snapshots.
package health

import (
	"context"
	"time"

	"github.com/rickgao/eventrouter/internal/connection"
	"github.com/rickgao/eventrouter/internal/dispatch"
	"github.com/rickgao/eventrouter/internal/queue"
)

// Status is the derived router health.
type Status string

const (
	StatusHealthy    Status = "HEALTHY"
	StatusDegraded   Status = "DEGRADED"
	StatusOverloaded Status = "OVERLOADED"
)

// DeriveStatus classifies a queue depth. OVERLOADED means the queue is at
// max and publishes are being rejected; DEGRADED means depth is at or above
// threshold*max.
func DeriveStatus(depth, max int, threshold float64) Status {
	if max > 0 && depth >= max {
		return StatusOverloaded
	}
	if float64(depth) >= threshold*float64(max) {
		return StatusDegraded
	}
	return StatusHealthy
}

// Snapshot is the health/status query result.
type Snapshot struct {
	Status               Status         `json:"status"`
	Timestamp            time.Time      `json:"timestamp"`
	QueueMode            string         `json:"queue_mode"`
	QueueDepthTotal      int            `json:"queue_depth_total"`
	QueueDepthByPriority map[string]int `json:"queue_depth_by_priority,omitempty"`
	MaxQueueSize         int            `json:"max_queue_size"`
	ConnectedClients     int            `json:"connected_clients"`

	EventsPublishedTotal int64      `json:"events_published_total"`
	EventsProcessedTotal int64      `json:"events_processed_total"`
	EventsDroppedTotal   int64      `json:"events_dropped_total"`
	DroppedByCause       DropCounts `json:"dropped_by_cause"`
	EventsUnroutedTotal  int64      `json:"events_unrouted_total"`
	EventsPerSecond      float64    `json:"events_per_second"`
	AverageLatencyMs     float64    `json:"average_latency_ms"`
	UptimeSeconds        float64    `json:"uptime_seconds"`

	ConnectionsOpenedTotal   int64 `json:"connections_opened_total"`
	ConnectionsClosedTotal   int64 `json:"connections_closed_total"`
	ConnectionsRejectedTotal int64 `json:"connections_rejected_total"`
	SlowConsumerClosesTotal  int64 `json:"slow_consumer_closes_total"`

	Process ProcessStats `json:"process"`
}

// DropCounts breaks events_dropped_total down by cause.
type DropCounts struct {
	QueueFull      int64 `json:"queue_full"`
	TTLExpired     int64 `json:"ttl_expired"`
	DeliveryFailed int64 `json:"delivery_failed"` // per subscriber delivery
	Internal       int64 `json:"internal"`
}

// Total sums every cause.
func (d DropCounts) Total() int64 {
	return d.QueueFull + d.TTLExpired + d.DeliveryFailed + d.Internal
}

// ProcessStats describes the router process.
type ProcessStats struct {
	CPUPercent       float64 `json:"cpu_percent"`
	RSSMB            float64 `json:"rss_mb"`
	SystemMemPercent float64 `json:"system_mem_percent"`
	Goroutines       int     `json:"goroutines"`
}

// QueueSource provides event queue counters.
type QueueSource interface {
	Stats() queue.Stats
}

// ConnectionSource provides connection manager counters.
type ConnectionSource interface {
	Stats() connection.ManagerStats
}

// DispatchSource provides dispatcher counters.
type DispatchSource interface {
	Stats() dispatch.Stats
}

// Sources are the components the monitor observes.
type Sources struct {
	Queue       QueueSource
	Connections ConnectionSource
	Dispatch    DispatchSource
}

// Sink receives every sample. HandleSample must not block the sampler for long.
type Sink interface {
	HandleSample(ctx context.Context, s Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Snapshot)

func (f SinkFunc) HandleSample(ctx context.Context, s Snapshot) { f(ctx, s) }

// Config configures the monitor.
type Config struct {
	SampleInterval    time.Duration
	DegradedThreshold float64 // fraction of MaxQueueSize
	MaxQueueSize      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    time.Second,
		DegradedThreshold: 0.75,
	}
}
