package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/eventrouter/internal/health"
)

const insertHealthSample = `
	INSERT INTO router_health_samples (
		sampled_at, status, queue_depth, depth_low, depth_normal, depth_high, depth_critical,
		connected_clients, events_published, events_processed, events_dropped,
		dropped_queue_full, dropped_ttl, dropped_delivery, dropped_internal, events_unrouted,
		events_per_second, avg_latency_ms, cpu_percent, rss_mb
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
`

// HealthWriter consumes health samples and writes them to router_health_samples.
type HealthWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the Health Monitor
	input chan health.Snapshot

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []healthRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewHealthWriter creates a new HealthWriter.
func NewHealthWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *HealthWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &HealthWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan health.Snapshot, cfg.BufferSize),
		batch:  make([]healthRow, 0, cfg.BatchSize),
	}
}

// HandleSample implements health.Sink. It never blocks.
func (w *HealthWriter) HandleSample(_ context.Context, s health.Snapshot) {
	select {
	case w.input <- s:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// Start begins consuming samples and writing to the database.
func (w *HealthWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("health writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what is buffered.
func (w *HealthWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping health writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("health writer stopped")
	case <-ctx.Done():
		w.logger.Warn("health writer stop timed out")
	}

	// Move anything still queued into the batch, then final flush.
drain:
	for {
		select {
		case s := <-w.input:
			w.append(s)
		default:
			break drain
		}
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *HealthWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads samples and accumulates batches.
func (w *HealthWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case s := <-w.input:
			if w.append(s) {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *HealthWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// append transforms and adds a sample to the batch, reporting whether the
// batch is full.
func (w *HealthWriter) append(s health.Snapshot) bool {
	row := w.transform(s)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a snapshot to a healthRow.
func (w *HealthWriter) transform(s health.Snapshot) healthRow {
	return healthRow{
		SampledAt:        s.Timestamp.UTC(),
		Status:           string(s.Status),
		QueueDepth:       s.QueueDepthTotal,
		DepthLow:         s.QueueDepthByPriority["low"],
		DepthNormal:      s.QueueDepthByPriority["normal"],
		DepthHigh:        s.QueueDepthByPriority["high"],
		DepthCritical:    s.QueueDepthByPriority["critical"],
		ConnectedClients: s.ConnectedClients,
		Published:        s.EventsPublishedTotal,
		Processed:        s.EventsProcessedTotal,
		Dropped:          s.EventsDroppedTotal,
		DroppedQueueFull: s.DroppedByCause.QueueFull,
		DroppedTTL:       s.DroppedByCause.TTLExpired,
		DroppedDelivery:  s.DroppedByCause.DeliveryFailed,
		DroppedInternal:  s.DroppedByCause.Internal,
		Unrouted:         s.EventsUnroutedTotal,
		EventsPerSecond:  s.EventsPerSecond,
		AvgLatencyMs:     s.AverageLatencyMs,
		CPUPercent:       s.Process.CPUPercent,
		RSSMB:            s.Process.RSSMB,
	}
}

// flush writes the current batch to the database.
func (w *HealthWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]healthRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed health samples",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (w *HealthWriter) batchInsert(ctx context.Context, rows []healthRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertHealthSample,
			r.SampledAt, r.Status, r.QueueDepth, r.DepthLow, r.DepthNormal, r.DepthHigh, r.DepthCritical,
			r.ConnectedClients, r.Published, r.Processed, r.Dropped,
			r.DroppedQueueFull, r.DroppedTTL, r.DroppedDelivery, r.DroppedInternal, r.Unrouted,
			r.EventsPerSecond, r.AvgLatencyMs, r.CPUPercent, r.RSSMB,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
