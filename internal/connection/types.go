package connection

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// State is a connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// atomicState is a State with compare-and-swap transitions.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() State {
	return State(a.v.Load())
}

func (a *atomicState) Store(s State) {
	a.v.Store(int32(s))
}

// advance moves from one of the allowed states to next.
func (a *atomicState) advance(next State, from ...State) bool {
	for _, f := range from {
		if a.v.CompareAndSwap(int32(f), int32(next)) {
			return true
		}
	}
	return false
}

// Registry is the subscription index the manager writes to.
type Registry interface {
	Add(connID, pattern string) (bool, error)
	Remove(connID, pattern string) bool
	RemoveAll(connID string) int
	Patterns(connID string) []string
}

// Publisher admits events into the event queue.
type Publisher interface {
	Enqueue(e *model.Event) error
}

// Config configures the Connection Manager.
type Config struct {
	MaxClients        int           // Open connection limit
	HandshakeTimeout  time.Duration // Max time from upgrade to first valid frame
	IdleTimeout       time.Duration // Close after this long without inbound requests; pongs do not count
	WriteTimeout      time.Duration // Write deadline for each frame
	PingInterval      time.Duration // Server ping period (0 = no pings)
	DrainTimeout      time.Duration // Bound on flushing the outbound buffer while CLOSING
	OutboundBuffer    int           // Per-connection outbound buffer (events)
	SlowConsumerDrops int           // Consecutive failed deliveries before force-close
	MaxMessageBytes   int64         // Inbound frame size limit
	DefaultTTL        time.Duration // Applied when a publish carries no ttl_ms

	// CheckOrigin is passed to the upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxClients:        1000,
		HandshakeTimeout:  5 * time.Second,
		IdleTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		DrainTimeout:      2 * time.Second,
		OutboundBuffer:    256,
		SlowConsumerDrops: 64,
		MaxMessageBytes:   1 << 20,
	}
}

// ConnStats is a snapshot of one connection.
type ConnStats struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Remote       string    `json:"remote"`
	State        string    `json:"state"`
	Patterns     []string  `json:"patterns"`
	Queued       int       `json:"queued"`
	Delivered    int64     `json:"delivered"`
	Drops        int64     `json:"drops"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Connected          int   // Connections holding a slot (CONNECTING or OPEN or draining)
	Opened             int64 // Upgrades accepted
	Closed             int64 // Connections fully closed
	Rejected           int64 // CAPACITY_EXCEEDED
	HandshakeTimeouts  int64
	IdleCloses         int64 // Closed after IdleTimeout without inbound requests
	ProtocolErrors     int64
	SlowConsumerCloses int64
	Panics             int64
	Published          int64 // Publishes admitted to the queue
	PublishRejected    int64 // Publishes refused by validation or admission
	Delivered          int64 // Event frames written
	Drops              int64 // Deliveries refused by full outbound buffers
	LatencySum         time.Duration
	LatencyCount       int64
}
