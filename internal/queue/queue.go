// Package queue implements the admission-controlled event queue.
//
// Two strategies share the Queue interface: a single FIFO ordered by
// enqueue time, and one FIFO per priority level served priority-first with
// a starvation guard. The strategy is chosen once, in New.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// DefaultStarvationLimit is the default K for the priority strategy.
const DefaultStarvationLimit = 8

// Entry wraps an admitted event.
type Entry struct {
	Event      *model.Event
	EnqueuedAt time.Time
	Seq        uint64 // global admission ordinal
}

// Queue is the Event Queue contract.
type Queue interface {
	// Enqueue admits e or fails fast with model.ErrQueueFull. It never blocks
	// and never evicts.
	Enqueue(e *model.Event) error

	// Dequeue blocks until an unexpired entry is available, ctx is done,
	// or the queue is closed and drained.
	Dequeue(ctx context.Context) (Entry, error)

	// Len is the number of buffered entries across all levels.
	Len() int

	Stats() Stats

	// Close stops admission and wakes blocked consumers. Entries already
	// buffered can still be dequeued.
	Close()
}

// Config selects and sizes a queue.
type Config struct {
	MaxSize         int  // total entries across all levels
	MultiQueue      bool // one FIFO per priority level
	StarvationLimit int  // K >= 2, multi-queue only

	// OnExpired is called, outside the queue lock, for each entry discarded
	// on dequeue because its TTL elapsed.
	OnExpired func(Entry)
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Mode       string
	Depth      int
	ByPriority [model.NumPriorities]int
	MaxSize    int
	Enqueued   int64
	Rejected   int64 // QUEUE_FULL
	Dequeued   int64
	Expired    int64
	Promotions int64 // dispatch slots granted by the starvation guard
	Closed     bool
}

// Strategy names reported in Stats.Mode.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// New creates a queue with the strategy selected by cfg.MultiQueue.
func New(cfg Config) Queue {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.StarvationLimit < 2 {
		cfg.StarvationLimit = DefaultStarvationLimit
	}
	if cfg.MultiQueue {
		return newPriorityQueue(cfg)
	}
	return newFIFOQueue(cfg)
}

// signal wakes blocked consumers.
type signal struct {
	notify chan struct{}
	done   chan struct{}
}

func newSignal() signal {
	return signal{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s signal) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dequeueLoop implements the blocking Dequeue on top of a non-blocking take.
// take reports (entry, ok, closed).
func dequeueLoop(ctx context.Context, s signal, take func() (Entry, bool, bool)) (Entry, error) {
	for {
		e, ok, closed := take()
		if ok {
			return e, nil
		}
		if closed {
			return Entry{}, ErrClosed
		}
		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

func expire(fn func(Entry), expired []Entry) {
	if fn == nil {
		return
	}
	for _, e := range expired {
		fn(e)
	}
}
