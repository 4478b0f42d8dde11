package queue

// ring is a FIFO ring buffer that doubles its capacity when full.
// It is not safe for concurrent use; the owning queue holds the lock.
type ring[T any] struct {
	buf   []T
	head  int // read position
	tail  int // write position
	count int
}

func newRing[T any](initialCapacity int) *ring[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &ring[T]{buf: make([]T, initialCapacity)}
}

func (r *ring[T]) push(item T) {
	if r.count == len(r.buf) {
		r.grow()
	}
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.buf[r.head]
	r.buf[r.head] = zero // Clear reference for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return item, true
}

func (r *ring[T]) len() int {
	return r.count
}

func (r *ring[T]) cap() int {
	return len(r.buf)
}

// grow doubles the capacity, unwrapping the contents to start at index 0.
func (r *ring[T]) grow() {
	newBuf := make([]T, len(r.buf)*2)
	if r.count > 0 {
		if r.head < r.tail {
			copy(newBuf, r.buf[r.head:r.tail])
		} else {
			n := copy(newBuf, r.buf[r.head:])
			copy(newBuf[n:], r.buf[:r.tail])
		}
	}
	r.buf = newBuf
	r.head = 0
	r.tail = r.count
}
