package writer

import (
	"time"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds samples waiting to be batched. Samples beyond it
	// are dropped so the monitor never blocks on the database.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 10 * time.Second,
		BufferSize:    1000,
	}
}

// healthRow represents a row for the router_health_samples table.
type healthRow struct {
	SampledAt        time.Time
	Status           string
	QueueDepth       int
	DepthLow         int
	DepthNormal      int
	DepthHigh        int
	DepthCritical    int
	ConnectedClients int
	Published        int64
	Processed        int64
	Dropped          int64
	DroppedQueueFull int64
	DroppedTTL       int64
	DroppedDelivery  int64
	DroppedInternal  int64
	Unrouted         int64
	EventsPerSecond  float64
	AvgLatencyMs     float64
	CPUPercent       float64
	RSSMB            float64
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts int64
	Errors  int64
	Flushes int64
	Dropped int64 // samples refused by a full input buffer
}
