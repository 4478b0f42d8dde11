package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rickgao/eventrouter/internal/health"
)

func TestHealthWriter_Transform(t *testing.T) {
	w := NewHealthWriter(DefaultWriterConfig(), nil, nil)

	sampledAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	s := health.Snapshot{
		Status:               health.StatusDegraded,
		Timestamp:            sampledAt,
		QueueDepthTotal:      9,
		QueueDepthByPriority: map[string]int{"low": 1, "normal": 2, "high": 3, "critical": 3},
		ConnectedClients:     4,
		EventsPublishedTotal: 100,
		EventsProcessedTotal: 91,
		EventsDroppedTotal:   7,
		DroppedByCause:       health.DropCounts{QueueFull: 3, TTLExpired: 2, DeliveryFailed: 1, Internal: 1},
		EventsUnroutedTotal:  5,
		EventsPerSecond:      12.5,
		AverageLatencyMs:     1.25,
		Process:              health.ProcessStats{CPUPercent: 3.5, RSSMB: 42},
	}

	row := w.transform(s)

	if !row.SampledAt.Equal(sampledAt) || row.SampledAt.Location() != time.UTC {
		t.Errorf("SampledAt = %v, want %v in UTC", row.SampledAt, sampledAt)
	}
	if row.Status != "DEGRADED" {
		t.Errorf("Status = %s, want DEGRADED", row.Status)
	}
	if row.DepthLow != 1 || row.DepthNormal != 2 || row.DepthHigh != 3 || row.DepthCritical != 3 {
		t.Errorf("depths = %d/%d/%d/%d, want 1/2/3/3", row.DepthLow, row.DepthNormal, row.DepthHigh, row.DepthCritical)
	}
	if row.Dropped != 7 || row.DroppedQueueFull != 3 || row.DroppedTTL != 2 {
		t.Errorf("drops = %d (%d, %d), want 7 (3, 2)", row.Dropped, row.DroppedQueueFull, row.DroppedTTL)
	}
	if row.Unrouted != 5 {
		t.Errorf("Unrouted = %d, want 5", row.Unrouted)
	}
	if row.EventsPerSecond != 12.5 || row.AvgLatencyMs != 1.25 {
		t.Errorf("rates = %v, %v; want 12.5, 1.25", row.EventsPerSecond, row.AvgLatencyMs)
	}
	if row.RSSMB != 42 {
		t.Errorf("RSSMB = %v, want 42", row.RSSMB)
	}
}

func TestHealthWriter_Transform_SingleQueueDepths(t *testing.T) {
	w := NewHealthWriter(DefaultWriterConfig(), nil, nil)
	row := w.transform(health.Snapshot{QueueDepthTotal: 2})
	if row.DepthLow != 0 || row.DepthCritical != 0 || row.QueueDepth != 2 {
		t.Errorf("row = %+v, want zero per-level depths", row)
	}
}

func TestHealthWriter_AppendReportsFullBatch(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.BatchSize = 2
	w := NewHealthWriter(cfg, nil, nil)

	if w.append(health.Snapshot{}) {
		t.Error("append(1) reported full batch")
	}
	if !w.append(health.Snapshot{}) {
		t.Error("append(2) did not report full batch")
	}
}

func TestHealthWriter_HandleSampleNeverBlocks(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.BufferSize = 1
	w := NewHealthWriter(cfg, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			w.HandleSample(context.Background(), health.Snapshot{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSample blocked on a full buffer")
	}
	if got := w.Stats().Dropped; got != 4 {
		t.Errorf("Dropped = %d, want 4", got)
	}
}
