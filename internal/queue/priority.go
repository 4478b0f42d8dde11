package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// priorityQueue is the multi-queue strategy: one FIFO per priority level.
//
// The highest non-empty level is served first. Each non-empty level below
// the one served accumulates a wait count; once a level has waited
// StarvationLimit dispatches it takes the next slot (the highest such level
// wins), so a waiting LOW entry under a CRITICAL flood is served within
// StarvationLimit+1 dequeues.
type priorityQueue struct {
	cfg Config
	sig signal

	mu     sync.Mutex
	levels [model.NumPriorities]*ring[Entry]
	waited [model.NumPriorities]int
	size   int
	seq    uint64
	closed bool

	enqueued   int64
	rejected   int64
	dequeued   int64
	expired    int64
	promotions int64
}

func newPriorityQueue(cfg Config) *priorityQueue {
	q := &priorityQueue{cfg: cfg, sig: newSignal()}
	initial := min(cfg.MaxSize, 256)
	for i := range q.levels {
		q.levels[i] = newRing[Entry](initial)
	}
	return q
}

func (q *priorityQueue) Enqueue(e *model.Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if !e.Priority.Valid() {
		q.mu.Unlock()
		return model.Errorf(model.ErrInvalidRequest, "priority %d", int(e.Priority))
	}
	if q.size >= q.cfg.MaxSize {
		q.rejected++
		q.mu.Unlock()
		return model.Errorf(model.ErrQueueFull, "%d entries buffered", q.cfg.MaxSize)
	}
	q.seq++
	q.levels[e.Priority].push(Entry{Event: e, EnqueuedAt: time.Now(), Seq: q.seq})
	q.size++
	q.enqueued++
	q.mu.Unlock()

	q.sig.wake()
	return nil
}

// pick chooses the level to serve next and updates wait counts. A lower
// non-empty level that has been passed over K-1 times takes the next slot,
// so it is served within K dequeues. Returns -1 when every level is empty.
// Caller holds mu.
func (q *priorityQueue) pick() int {
	top := -1
	for _, p := range model.Priorities {
		if q.levels[p].len() > 0 {
			top = int(p)
			break
		}
	}
	if top < 0 {
		return -1
	}

	chosen := top
	for p := top - 1; p >= 0; p-- {
		if q.levels[p].len() > 0 && q.waited[p] >= q.cfg.StarvationLimit-1 {
			chosen = p
			q.promotions++
			break
		}
	}

	for p := range q.levels {
		switch {
		case p == chosen || q.levels[p].len() == 0:
			q.waited[p] = 0
		case p < chosen:
			q.waited[p]++
		}
	}
	return chosen
}

func (q *priorityQueue) take() (Entry, bool, bool) {
	var expired []Entry
	now := time.Now()

	q.mu.Lock()
	var (
		out Entry
		ok  bool
	)
	for {
		level := q.pick()
		if level < 0 {
			break
		}
		e, _ := q.levels[level].pop()
		q.size--
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
	remaining := q.size
	q.mu.Unlock()

	expire(q.cfg.OnExpired, expired)
	if ok && remaining > 0 {
		q.sig.wake()
	}
	return out, ok, closed
}

func (q *priorityQueue) Dequeue(ctx context.Context) (Entry, error) {
	return dequeueLoop(ctx, q.sig, q.take)
}

func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *priorityQueue) depthsLocked() [model.NumPriorities]int {
	var d [model.NumPriorities]int
	for i, l := range q.levels {
		d[i] = l.len()
	}
	return d
}

func (q *priorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Mode:       ModeMulti,
		Depth:      q.size,
		ByPriority: q.depthsLocked(),
		MaxSize:    q.cfg.MaxSize,
		Enqueued:   q.enqueued,
		Rejected:   q.rejected,
		Dequeued:   q.dequeued,
		Expired:    q.expired,
		Promotions: q.promotions,
		Closed:     q.closed,
	}
}

func (q *priorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.sig.done)
	}
}
