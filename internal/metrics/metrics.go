package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rickgao/eventrouter/internal/health"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "eventrouter"

// Drop cause attribute values.
const (
	CauseQueueFull      = "queue_full"
	CauseTTLExpired     = "ttl_expired"
	CauseDeliveryFailed = "delivery_failed"
	CauseInternal       = "internal"
)

// Recorder turns health samples into OTel counters and gauges and records
// delivery latency directly.
type Recorder struct {
	published        metric.Int64Counter
	dispatched       metric.Int64Counter
	dropped          metric.Int64Counter
	deliveriesFailed metric.Int64Counter
	latency          metric.Float64Histogram

	mu     sync.Mutex
	prev   health.Snapshot
	latest health.Snapshot
	seen   bool
}

// NewRecorder registers the router instruments on mp, or on the global
// meter provider when mp is nil.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)
	r := &Recorder{}

	var err error
	r.published, err = meter.Int64Counter("eventrouter.events.published",
		metric.WithDescription("Events admitted to the queue"),
	)
	if err != nil {
		return nil, err
	}

	r.dispatched, err = meter.Int64Counter("eventrouter.events.dispatched",
		metric.WithDescription("Events taken off the queue"),
	)
	if err != nil {
		return nil, err
	}

	r.dropped, err = meter.Int64Counter("eventrouter.events.dropped",
		metric.WithDescription("Events or deliveries dropped, by cause"),
	)
	if err != nil {
		return nil, err
	}

	r.deliveriesFailed, err = meter.Int64Counter("eventrouter.deliveries.failed",
		metric.WithDescription("Per-subscriber deliveries refused by a full outbound buffer"),
	)
	if err != nil {
		return nil, err
	}

	r.latency, err = meter.Float64Histogram("eventrouter.delivery.latency_ms",
		metric.WithDescription("Publish to write latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge("eventrouter.queue.depth",
		metric.WithDescription("Buffered events by priority"),
		metric.WithInt64Callback(r.observeDepth),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge("eventrouter.clients.connected",
		metric.WithDescription("Connected clients"),
		metric.WithInt64Callback(r.observeClients),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// HandleSample implements health.Sink. Counters advance by the difference
// from the previous sample.
func (r *Recorder) HandleSample(ctx context.Context, s health.Snapshot) {
	r.mu.Lock()
	prev := r.prev
	r.prev, r.latest, r.seen = s, s, true
	r.mu.Unlock()

	add(ctx, r.published, s.EventsPublishedTotal-prev.EventsPublishedTotal)
	add(ctx, r.dispatched, s.EventsProcessedTotal-prev.EventsProcessedTotal)
	add(ctx, r.deliveriesFailed, s.DroppedByCause.DeliveryFailed-prev.DroppedByCause.DeliveryFailed)

	causes := []struct {
		name string
		n    int64
	}{
		{CauseQueueFull, s.DroppedByCause.QueueFull - prev.DroppedByCause.QueueFull},
		{CauseTTLExpired, s.DroppedByCause.TTLExpired - prev.DroppedByCause.TTLExpired},
		{CauseDeliveryFailed, s.DroppedByCause.DeliveryFailed - prev.DroppedByCause.DeliveryFailed},
		{CauseInternal, s.DroppedByCause.Internal - prev.DroppedByCause.Internal},
	}
	for _, c := range causes {
		add(ctx, r.dropped, c.n, attribute.String("cause", c.name))
	}
}

// ObserveLatency records one delivery's end-to-end latency.
func (r *Recorder) ObserveLatency(d time.Duration) {
	r.latency.Record(context.Background(), float64(d)/float64(time.Millisecond))
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if n <= 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

func (r *Recorder) observeDepth(_ context.Context, o metric.Int64Observer) error {
	r.mu.Lock()
	s, seen := r.latest, r.seen
	r.mu.Unlock()
	if !seen {
		return nil
	}
	for priority, n := range s.QueueDepthByPriority {
		o.Observe(int64(n), metric.WithAttributes(attribute.String("priority", priority)))
	}
	return nil
}

func (r *Recorder) observeClients(_ context.Context, o metric.Int64Observer) error {
	r.mu.Lock()
	s, seen := r.latest, r.seen
	r.mu.Unlock()
	if seen {
		o.Observe(int64(s.ConnectedClients))
	}
	return nil
}
