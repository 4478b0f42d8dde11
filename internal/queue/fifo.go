package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// fifoQueue is the single-queue strategy: strict enqueue order, priority
// is carried as metadata only.
type fifoQueue struct {
	cfg Config
	sig signal

	mu         sync.Mutex
	ring       *ring[Entry]
	byPriority [model.NumPriorities]int
	seq        uint64
	closed     bool

	enqueued int64
	rejected int64
	dequeued int64
	expired  int64
}

func newFIFOQueue(cfg Config) *fifoQueue {
	return &fifoQueue{
		cfg:  cfg,
		sig:  newSignal(),
		ring: newRing[Entry](min(cfg.MaxSize, 1024)),
	}
}

func (q *fifoQueue) Enqueue(e *model.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if !e.Priority.Valid() {
		q.mu.Unlock()
		return model.Errorf(model.ErrInvalidRequest, "priority %d", int(e.Priority))
	}
	if q.ring.len() >= q.cfg.MaxSize {
		q.rejected++
		q.mu.Unlock()
		return model.Errorf(model.ErrQueueFull, "%d entries buffered", q.cfg.MaxSize)
	}
	q.seq++
	q.ring.push(Entry{Event: e, EnqueuedAt: time.Now(), Seq: q.seq})
	q.byPriority[e.Priority]++
	q.enqueued++
	q.mu.Unlock()

	q.sig.wake()
	return nil
}

// take pops the next unexpired entry.
func (q *fifoQueue) take() (Entry, bool, bool) {
	var expired []Entry
	now := time.Now()

	q.mu.Lock()
	var (
		out Entry
		ok  bool
	)
	for {
		e, has := q.ring.pop()
		if !has {
			break
		}
		q.byPriority[e.Event.Priority]--
		if e.Event.Expired(now) {
			q.expired++
			expired = append(expired, e)
			continue
		}
		q.dequeued++
		out, ok = e, true
		break
	}
	closed := q.closed
	remaining := q.ring.len()
	q.mu.Unlock()

	expire(q.cfg.OnExpired, expired)
	if ok && remaining > 0 {
		q.sig.wake()
	}
	return out, ok, closed
}

func (q *fifoQueue) Dequeue(ctx context.Context) (Entry, error) {
	return dequeueLoop(ctx, q.sig, q.take)
}

func (q *fifoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.len()
}

func (q *fifoQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Mode:       ModeSingle,
		Depth:      q.ring.len(),
		ByPriority: q.byPriority,
		MaxSize:    q.cfg.MaxSize,
		Enqueued:   q.enqueued,
		Rejected:   q.rejected,
		Dequeued:   q.dequeued,
		Expired:    q.expired,
		Closed:     q.closed,
	}
}

func (q *fifoQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.sig.done)
	}
}
