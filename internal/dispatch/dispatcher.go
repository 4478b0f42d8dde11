// Package dispatch drains the event queue and fans events out to the
// outbound paths of matching connections.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
	"github.com/rickgao/eventrouter/internal/queue"
)

// Matcher resolves a topic to subscriber connection ids.
type Matcher interface {
	Match(topic string) []string
}

// Deliverer hands an encoded event to one connection's outbound buffer.
// It must not block. It returns model.ErrConnectionClosed when the target
// is gone or closing, and model.ErrDeliveryFailed when its buffer is full.
type Deliverer interface {
	Deliver(connID string, d model.Delivery) error
}

// Dispatcher runs the dispatch loop.
type Dispatcher interface {
	// Start begins draining the queue.
	Start(ctx context.Context) error

	// Stop stops the loop and waits for the in-flight event.
	Stop(ctx context.Context) error

	// Stats returns current dispatcher statistics.
	Stats() Stats
}

// Stats contains runtime statistics.
type Stats struct {
	Processed      int64 // events taken off the queue
	Delivered      int64 // successful per-subscriber deliveries
	DeliveryFailed int64 // per-subscriber deliveries rejected by a full buffer
	StaleTargets   int64 // matched connections that were already closing
	Unrouted       int64 // events with no subscribers
	Internal       int64 // events lost to a recovered panic or encode failure
	LastDispatch   time.Time
}

type dispatcher struct {
	q       queue.Queue
	matcher Matcher
	out     Deliverer
	logger  *slog.Logger

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu    sync.RWMutex
	stats Stats
}

// New creates a dispatcher over q.
func New(q queue.Queue, matcher Matcher, out Deliverer, logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{
		q:       q,
		matcher: matcher,
		out:     out,
		logger:  logger,
	}
}

// Start begins the dispatch loop.
func (d *dispatcher) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.run(ctx)

	d.logger.Info("dispatcher started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (d *dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher")

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (d *dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

func (d *dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		entry, err := d.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				d.logger.Info("queue closed, dispatcher exiting")
			}
			return
		}
		d.dispatch(entry)
	}
}

// dispatch delivers one entry. A panic here loses only this event.
func (d *dispatcher) dispatch(entry queue.Entry) {
	ev := entry.Event
	var res result

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic recovered",
				"event_id", ev.ID,
				"topic", ev.Topic,
				"panic", fmt.Sprint(r),
			)
			res.internal = true
		}
		d.record(res)
	}()

	d.deliver(ev, &res)
}

type result struct {
	delivered int64
	failed    int64
	stale     int64
	unrouted  bool
	internal  bool
}

// deliver fans ev out, accumulating into res as it goes so counts taken
// before a panic are kept.
func (d *dispatcher) deliver(ev *model.Event, res *result) {
	targets := d.matcher.Match(ev.Topic)
	if len(targets) == 0 {
		res.unrouted = true
		return
	}

	frame, err := model.EncodeEvent(ev)
	if err != nil {
		d.logger.Error("failed to encode event", "event_id", ev.ID, "error", err)
		res.internal = true
		return
	}
	msg := model.Delivery{Frame: frame, EventID: ev.ID, PublishedAt: ev.PublishedAt}

	for _, id := range targets {
		err := d.out.Deliver(id, msg)
		switch {
		case err == nil:
			res.delivered++
		case errors.Is(err, model.ErrConnectionClosed):
			res.stale++
		default:
			res.failed++
			d.logger.Debug("delivery failed",
				"event_id", ev.ID,
				"conn_id", id,
				"error", err,
			)
		}
	}
}

func (d *dispatcher) record(res result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Processed++
	d.stats.Delivered += res.delivered
	d.stats.DeliveryFailed += res.failed
	d.stats.StaleTargets += res.stale
	if res.unrouted {
		d.stats.Unrouted++
	}
	if res.internal {
		d.stats.Internal++
	}
	d.stats.LastDispatch = time.Now()
}
