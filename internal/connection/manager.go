package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/eventrouter/internal/model"
)

// Manager accepts agent connections and owns their lifecycle.
type Manager interface {
	// ServeHTTP upgrades the request and runs the connection until it closes.
	http.Handler

	// Deliver queues an encoded event on a connection's outbound buffer
	// without blocking.
	Deliver(connID string, d model.Delivery) error

	// SetDeliveryObserver registers a callback for end-to-end latency of
	// each event frame written. Call before serving.
	SetDeliveryObserver(fn func(latency time.Duration))

	// Stop closes every connection (bounded drain) and waits for them.
	Stop(ctx context.Context) error

	// Stats returns current connection statistics.
	Stats() ManagerStats

	// Connections returns a snapshot of every live connection, sorted by id.
	Connections() []ConnStats
}

// manager implements the Manager interface.
type manager struct {
	cfg      Config
	registry Registry
	pub      Publisher
	logger   *slog.Logger
	upgrader websocket.Upgrader
	observe  func(time.Duration)

	// Slots are reserved before any connection state exists.
	slots atomic.Int64

	mu       sync.RWMutex
	conns    map[string]*conn
	stopping bool
	wg       sync.WaitGroup

	// Stats
	opened          atomic.Int64
	closed          atomic.Int64
	rejected        atomic.Int64
	handshakeTO     atomic.Int64
	idleCloses      atomic.Int64
	protocolErrors  atomic.Int64
	slowCloses      atomic.Int64
	panics          atomic.Int64
	published       atomic.Int64
	publishRejected atomic.Int64
	delivered       atomic.Int64
	drops           atomic.Int64
	latencySum      atomic.Int64 // nanoseconds
	latencyCount    atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg Config, registry Registry, pub Publisher, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxClients < 1 {
		cfg.MaxClients = 1
	}
	if cfg.OutboundBuffer < 1 {
		cfg.OutboundBuffer = 1
	}
	if cfg.SlowConsumerDrops < 1 {
		cfg.SlowConsumerDrops = 1
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &manager{
		cfg:      cfg,
		registry: registry,
		pub:      pub,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[string]*conn),
	}
}

func (m *manager) SetDeliveryObserver(fn func(time.Duration)) {
	m.observe = fn
}

// reserve claims a connection slot, failing if max_clients are held.
func (m *manager) reserve() bool {
	for {
		cur := m.slots.Load()
		if cur >= int64(m.cfg.MaxClients) {
			return false
		}
		if m.slots.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (m *manager) release() {
	m.slots.Add(-1)
}

// ServeHTTP is accept(): it admits a new session or rejects it with
// CAPACITY_EXCEEDED before any connection state is created.
func (m *manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	stopping := m.stopping
	m.mu.RUnlock()
	if stopping {
		http.Error(w, "router shutting down", http.StatusServiceUnavailable)
		return
	}

	if !m.reserve() {
		m.reject(w, r)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.release()
		m.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := m.newConn(ws, r.RemoteAddr)

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		m.release()
		c.writeCloseFrame(websocket.CloseGoingAway, "router shutting down")
		ws.Close()
		return
	}
	m.conns[c.id] = c
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	m.opened.Add(1)
	c.logger.Debug("connection accepted")

	go c.writeLoop()
	c.readLoop()

	c.beginClose(websocket.CloseNormalClosure, "")
	<-c.writeDone
	m.finish(c)
}

// reject completes the upgrade only to report CAPACITY_EXCEEDED.
func (m *manager) reject(w http.ResponseWriter, r *http.Request) {
	m.rejected.Add(1)
	m.logger.Warn("connection rejected", "remote", r.RemoteAddr, "max_clients", m.cfg.MaxClients)

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	deadline := time.Now().Add(m.cfg.WriteTimeout)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.WriteJSON(model.ErrorResponse("", model.ErrCapacityExceeded))
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, string(model.CodeCapacityExceeded)),
		deadline,
	)
}

func (m *manager) newConn(ws *websocket.Conn, remote string) *conn {
	id := uuid.NewString()
	now := time.Now()
	c := &conn{
		id:          id,
		remote:      remote,
		ws:          ws,
		m:           m,
		logger:      m.logger.With("conn_id", id, "remote", remote),
		out:         make(chan model.Delivery, m.cfg.OutboundBuffer),
		closing:     make(chan struct{}),
		writeDone:   make(chan struct{}),
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// finish is onDisconnect: registry cleanup, buffer release, slot release.
func (m *manager) finish(c *conn) {
	removed := m.registry.RemoveAll(c.id)

	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()

	// Release the outbound buffer.
	discarded := 0
drain:
	for {
		select {
		case <-c.out:
			discarded++
		default:
			break drain
		}
	}

	c.state.Store(StateClosed)
	m.release()
	m.closed.Add(1)

	c.logger.Info("connection closed",
		"reason", c.reason(),
		"patterns_removed", removed,
		"discarded", discarded,
		"delivered", c.delivered.Load(),
		"drops", c.drops.Load(),
	)
}

// Deliver implements dispatch.Deliverer.
func (m *manager) Deliver(connID string, d model.Delivery) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok || c.state.Load() != StateOpen {
		return model.ErrConnectionClosed
	}

	select {
	case c.out <- d:
		c.consecutiveDrops.Store(0)
		return nil
	default:
	}

	c.drops.Add(1)
	m.drops.Add(1)
	if n := c.consecutiveDrops.Add(1); n >= int64(m.cfg.SlowConsumerDrops) {
		if c.beginClose(websocket.ClosePolicyViolation, "slow consumer") {
			m.slowCloses.Add(1)
			c.logger.Warn("slow consumer closed",
				"consecutive_drops", n,
				"outbound_buffer", m.cfg.OutboundBuffer,
			)
		}
	}
	return model.Wrap(model.ErrDeliveryFailed, errOutboundFull)
}

// Stop closes every connection and waits for their loops to exit.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	m.stopping = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.beginClose(websocket.CloseGoingAway, "router shutting down")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped", "closed", len(conns))
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		for _, c := range conns {
			c.ws.Close()
		}
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		Connected:          int(m.slots.Load()),
		Opened:             m.opened.Load(),
		Closed:             m.closed.Load(),
		Rejected:           m.rejected.Load(),
		HandshakeTimeouts:  m.handshakeTO.Load(),
		IdleCloses:         m.idleCloses.Load(),
		ProtocolErrors:     m.protocolErrors.Load(),
		SlowConsumerCloses: m.slowCloses.Load(),
		Panics:             m.panics.Load(),
		Published:          m.published.Load(),
		PublishRejected:    m.publishRejected.Load(),
		Delivered:          m.delivered.Load(),
		Drops:              m.drops.Load(),
		LatencySum:         time.Duration(m.latencySum.Load()),
		LatencyCount:       m.latencyCount.Load(),
	}
}

// Connections returns a snapshot of every live connection.
func (m *manager) Connections() []ConnStats {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]ConnStats, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *manager) recordDelivery(publishedAt time.Time) {
	m.delivered.Add(1)
	if publishedAt.IsZero() {
		return
	}
	latency := time.Since(publishedAt)
	m.latencySum.Add(int64(latency))
	m.latencyCount.Add(1)
	if m.observe != nil {
		m.observe(latency)
	}
}
