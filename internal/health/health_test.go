package health

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/eventrouter/internal/connection"
	"github.com/rickgao/eventrouter/internal/dispatch"
	"github.com/rickgao/eventrouter/internal/model"
	"github.com/rickgao/eventrouter/internal/queue"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		depth     int
		max       int
		threshold float64
		want      Status
	}{
		{"empty", 0, 100, 0.75, StatusHealthy},
		{"below threshold", 74, 100, 0.75, StatusHealthy},
		{"at threshold", 75, 100, 0.75, StatusDegraded},
		{"between", 99, 100, 0.75, StatusDegraded},
		{"full", 100, 100, 0.75, StatusOverloaded},
		{"max one full", 1, 1, 0.75, StatusOverloaded},
		{"max one empty", 0, 1, 0.75, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.depth, tt.max, tt.threshold); got != tt.want {
				t.Errorf("DeriveStatus(%d, %d, %v) = %s, want %s", tt.depth, tt.max, tt.threshold, got, tt.want)
			}
		})
	}
}

type fakeSources struct {
	mu sync.Mutex
	q  queue.Stats
	c  connection.ManagerStats
	d  dispatch.Stats
}

type fakeQueue struct{ f *fakeSources }
type fakeConns struct{ f *fakeSources }
type fakeDispatch struct{ f *fakeSources }

func (q fakeQueue) Stats() queue.Stats {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	return q.f.q
}

func (c fakeConns) Stats() connection.ManagerStats {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.c
}

func (d fakeDispatch) Stats() dispatch.Stats {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	return d.f.d
}

func (f *fakeSources) sources() Sources {
	return Sources{Queue: fakeQueue{f}, Connections: fakeConns{f}, Dispatch: fakeDispatch{f}}
}

func TestMonitor_Sample(t *testing.T) {
	f := &fakeSources{
		q: queue.Stats{
			Mode:       queue.ModeMulti,
			Depth:      8,
			ByPriority: [model.NumPriorities]int{1, 2, 3, 2},
			MaxSize:    10,
			Enqueued:   50,
			Rejected:   4,
			Expired:    2,
		},
		c: connection.ManagerStats{
			Connected:          3,
			Opened:             5,
			Closed:             2,
			Rejected:           1,
			SlowConsumerCloses: 1,
			LatencySum:         30 * time.Millisecond,
			LatencyCount:       3,
		},
		d: dispatch.Stats{Processed: 40, DeliveryFailed: 3, Internal: 1, Unrouted: 6},
	}

	m := NewMonitor(Config{SampleInterval: time.Hour, DegradedThreshold: 0.75}, f.sources(), nil)
	snap := m.Sample()

	if snap.Status != StatusDegraded {
		t.Errorf("Status = %s, want DEGRADED", snap.Status)
	}
	if snap.QueueDepthTotal != 8 || snap.MaxQueueSize != 10 {
		t.Errorf("depth = %d/%d, want 8/10", snap.QueueDepthTotal, snap.MaxQueueSize)
	}
	if snap.QueueDepthByPriority["normal"] != 2 || snap.QueueDepthByPriority["critical"] != 2 {
		t.Errorf("QueueDepthByPriority = %v", snap.QueueDepthByPriority)
	}
	if snap.ConnectedClients != 3 {
		t.Errorf("ConnectedClients = %d, want 3", snap.ConnectedClients)
	}
	if snap.EventsProcessedTotal != 42 {
		t.Errorf("EventsProcessedTotal = %d, want 42", snap.EventsProcessedTotal)
	}
	want := DropCounts{QueueFull: 4, TTLExpired: 2, DeliveryFailed: 3, Internal: 1}
	if snap.DroppedByCause != want {
		t.Errorf("DroppedByCause = %+v, want %+v", snap.DroppedByCause, want)
	}
	if snap.EventsDroppedTotal != 10 {
		t.Errorf("EventsDroppedTotal = %d, want 10", snap.EventsDroppedTotal)
	}
	if snap.EventsUnroutedTotal != 6 {
		t.Errorf("EventsUnroutedTotal = %d, want 6", snap.EventsUnroutedTotal)
	}
	if snap.AverageLatencyMs != 10 {
		t.Errorf("AverageLatencyMs = %v, want 10", snap.AverageLatencyMs)
	}
	if snap.Process.Goroutines == 0 {
		t.Error("Process.Goroutines = 0")
	}
}

func TestMonitor_WindowRates(t *testing.T) {
	f := &fakeSources{
		q: queue.Stats{MaxSize: 10},
		c: connection.ManagerStats{LatencySum: 100 * time.Millisecond, LatencyCount: 10},
		d: dispatch.Stats{Processed: 100},
	}
	m := NewMonitor(Config{SampleInterval: time.Hour, DegradedThreshold: 0.75}, f.sources(), nil)
	m.Sample()

	f.mu.Lock()
	f.d.Processed = 200
	f.c.LatencySum += 40 * time.Millisecond
	f.c.LatencyCount += 2
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	snap := m.Sample()
	if snap.EventsPerSecond <= 0 {
		t.Errorf("EventsPerSecond = %v, want > 0", snap.EventsPerSecond)
	}
	if snap.AverageLatencyMs != 20 {
		t.Errorf("AverageLatencyMs = %v, want 20 (window average)", snap.AverageLatencyMs)
	}

	// No deliveries in the next window.
	snap = m.Sample()
	if snap.AverageLatencyMs != 0 {
		t.Errorf("AverageLatencyMs = %v, want 0 for an idle window", snap.AverageLatencyMs)
	}
}

func TestMonitor_Overloaded(t *testing.T) {
	f := &fakeSources{q: queue.Stats{Depth: 5, MaxSize: 5}}
	m := NewMonitor(Config{DegradedThreshold: 0.75}, f.sources(), nil)
	if got := m.Snapshot().Status; got != StatusOverloaded {
		t.Errorf("Status = %s, want OVERLOADED", got)
	}
}

func TestMonitor_SinksReceiveSamples(t *testing.T) {
	f := &fakeSources{q: queue.Stats{MaxSize: 10}}
	m := NewMonitor(Config{SampleInterval: 10 * time.Millisecond, DegradedThreshold: 0.75}, f.sources(), nil)

	got := make(chan Snapshot, 16)
	m.AddSink(SinkFunc(func(_ context.Context, s Snapshot) {
		select {
		case got <- s:
		default:
		}
	}))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case s := <-got:
		if s.Status != StatusHealthy {
			t.Errorf("sample status = %s, want HEALTHY", s.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink received no sample")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{Status: StatusHealthy, QueueDepthByPriority: map[string]int{"low": 1}}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"status", "queue_depth_total", "queue_depth_by_priority", "connected_clients",
		"events_processed_total", "events_dropped_total", "average_latency_ms", "uptime_seconds",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
}
