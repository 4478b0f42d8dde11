package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// Monitor samples its sources on a fixed interval. It never acts on what
// it sees.
type Monitor struct {
	cfg     Config
	src     Sources
	logger  *slog.Logger
	proc    *processSampler
	started time.Time

	sinksMu sync.RWMutex
	sinks   []Sink

	latest atomic.Pointer[Snapshot]

	// Previous sample for rates.
	mu           sync.Mutex
	prevAt       time.Time
	prevDone     int64
	prevLatSum   time.Duration
	prevLatCount int64
	lastStatus   Status

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Health Monitor over src.
func NewMonitor(cfg Config, src Sources, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	return &Monitor{
		cfg:     cfg,
		src:     src,
		logger:  logger,
		proc:    newProcessSampler(),
		started: time.Now(),
	}
}

// AddSink registers a sample consumer.
func (m *Monitor) AddSink(s Sink) {
	m.sinksMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinksMu.Unlock()
}

// Start begins periodic sampling.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.Sample()

	m.wg.Add(1)
	go m.sampleLoop(ctx)

	m.logger.Info("health monitor started", "interval", m.cfg.SampleInterval)
	return nil
}

// Stop stops sampling.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("health monitor stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("health monitor stop timed out")
		return ctx.Err()
	}
}

func (m *Monitor) sampleLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.Sample()
			m.publish(ctx, snap)
		}
	}
}

func (m *Monitor) publish(ctx context.Context, snap Snapshot) {
	m.sinksMu.RLock()
	sinks := m.sinks
	m.sinksMu.RUnlock()

	for _, s := range sinks {
		s.HandleSample(ctx, snap)
	}
}

// Snapshot returns the latest sample, taking one if none exists yet.
func (m *Monitor) Snapshot() Snapshot {
	if s := m.latest.Load(); s != nil {
		return *s
	}
	return m.Sample()
}

// Sample reads every source now and stores the result as the latest snapshot.
func (m *Monitor) Sample() Snapshot {
	now := time.Now()
	qs := m.src.Queue.Stats()
	cs := m.src.Connections.Stats()
	ds := m.src.Dispatch.Stats()

	maxSize := m.cfg.MaxQueueSize
	if maxSize == 0 {
		maxSize = qs.MaxSize
	}

	byPriority := make(map[string]int, model.NumPriorities)
	for p, n := range qs.ByPriority {
		byPriority[model.Priority(p).String()] = n
	}

	drops := DropCounts{
		QueueFull:      qs.Rejected,
		TTLExpired:     qs.Expired,
		DeliveryFailed: ds.DeliveryFailed,
		Internal:       ds.Internal,
	}
	done := ds.Processed + qs.Expired

	snap := Snapshot{
		Status:                   DeriveStatus(qs.Depth, maxSize, m.cfg.DegradedThreshold),
		Timestamp:                now,
		QueueMode:                qs.Mode,
		QueueDepthTotal:          qs.Depth,
		QueueDepthByPriority:     byPriority,
		MaxQueueSize:             maxSize,
		ConnectedClients:         cs.Connected,
		EventsPublishedTotal:     qs.Enqueued,
		EventsProcessedTotal:     done,
		EventsDroppedTotal:       drops.Total(),
		DroppedByCause:           drops,
		EventsUnroutedTotal:      ds.Unrouted,
		UptimeSeconds:            now.Sub(m.started).Seconds(),
		ConnectionsOpenedTotal:   cs.Opened,
		ConnectionsClosedTotal:   cs.Closed,
		ConnectionsRejectedTotal: cs.Rejected,
		SlowConsumerClosesTotal:  cs.SlowConsumerCloses,
		Process:                  m.proc.sample(),
	}

	m.mu.Lock()
	if !m.prevAt.IsZero() {
		if elapsed := now.Sub(m.prevAt).Seconds(); elapsed > 0 {
			snap.EventsPerSecond = float64(done-m.prevDone) / elapsed
		}
	}
	if n := cs.LatencyCount - m.prevLatCount; n > 0 {
		window := cs.LatencySum - m.prevLatSum
		snap.AverageLatencyMs = float64(window) / float64(n) / float64(time.Millisecond)
	}
	m.prevAt, m.prevDone = now, done
	m.prevLatSum, m.prevLatCount = cs.LatencySum, cs.LatencyCount

	if snap.Status != m.lastStatus {
		if m.lastStatus != "" {
			m.logger.Warn("health status changed",
				"from", m.lastStatus,
				"to", snap.Status,
				"queue_depth", snap.QueueDepthTotal,
				"max_queue_size", maxSize,
			)
		}
		m.lastStatus = snap.Status
	}
	m.mu.Unlock()

	m.latest.Store(&snap)
	return snap
}
