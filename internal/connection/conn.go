package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/eventrouter/internal/model"
	"github.com/rickgao/eventrouter/internal/topic"
)

var errOutboundFull = errors.New("outbound buffer full")

// conn holds the state for a single agent connection.
type conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	m      *manager
	logger *slog.Logger
	state  atomicState

	// Outbound path, consumed only by writeLoop.
	out       chan model.Delivery
	closing   chan struct{}
	closeOnce sync.Once
	writeDone chan struct{}

	// Write serialization between replies (readLoop) and events (writeLoop).
	writeMu sync.Mutex

	connectedAt      time.Time
	lastActivity     atomic.Int64 // unix nanos
	delivered        atomic.Int64
	drops            atomic.Int64
	consecutiveDrops atomic.Int64

	mu        sync.Mutex
	name      string
	closeCode int
	closeText string
}

// beginClose moves the connection to CLOSING. Only the first call wins
// and decides the close code.
func (c *conn) beginClose(code int, text string) bool {
	if !c.state.advance(StateClosing, StateConnecting, StateOpen) {
		return false
	}
	c.mu.Lock()
	c.closeCode, c.closeText = code, text
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closing) })
	return true
}

func (c *conn) reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeText == "" {
		return "normal"
	}
	return c.closeText
}

// touch records inbound request activity. Pongs do not count.
func (c *conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// idleRemaining reports how long until the connection counts as idle.
func (c *conn) idleRemaining() time.Duration {
	last := time.Unix(0, c.lastActivity.Load())
	return c.m.cfg.IdleTimeout - time.Since(last)
}

// livenessDeadline returns the read deadline for an OPEN connection. With
// pings enabled a peer that stops answering them is dropped; idleness is
// enforced separately by writeLoop.
func (c *conn) livenessDeadline() time.Time {
	if c.m.cfg.PingInterval <= 0 {
		return time.Time{}
	}
	return time.Now().Add(2*c.m.cfg.PingInterval + c.m.cfg.WriteTimeout)
}

// readLoop handles inbound frames until the connection fails or closes.
// A panic here tears down only this connection.
func (c *conn) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.m.panics.Add(1)
			c.logger.Error("connection panic recovered", "panic", fmt.Sprint(r))
			c.beginClose(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	c.ws.SetReadLimit(c.m.cfg.MaxMessageBytes)
	c.ws.SetPongHandler(func(string) error {
		if c.state.Load() == StateOpen {
			return c.ws.SetReadDeadline(c.livenessDeadline())
		}
		return nil
	})
	_ = c.ws.SetReadDeadline(time.Now().Add(c.m.cfg.HandshakeTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		c.touch()

		select {
		case <-c.closing:
			return
		default:
		}

		var req model.Request
		if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
			c.protocolError(req.ID, "malformed request")
			return
		}

		if c.state.advance(StateOpen, StateConnecting) {
			c.logger.Debug("handshake complete", "first_request", req.Type)
		}
		_ = c.ws.SetReadDeadline(c.livenessDeadline())

		if !c.handle(req) {
			return
		}
	}
}

func (c *conn) readFailed(err error) {
	select {
	case <-c.closing:
		return
	default:
	}

	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		if c.state.Load() == StateConnecting {
			c.m.handshakeTO.Add(1)
			c.logger.Info("handshake timeout", "timeout", c.m.cfg.HandshakeTimeout)
			c.reply(model.ErrorResponse("", model.ErrHandshakeTimeout))
			c.beginClose(websocket.ClosePolicyViolation, "handshake timeout")
			return
		}
		c.logger.Info("peer unresponsive", "ping_interval", c.m.cfg.PingInterval)
		c.beginClose(websocket.CloseGoingAway, "peer unresponsive")

	case errors.Is(err, websocket.ErrReadLimit):
		c.m.protocolErrors.Add(1)
		c.logger.Warn("inbound frame too large", "limit", c.m.cfg.MaxMessageBytes)
		c.beginClose(websocket.CloseMessageTooBig, "message too large")

	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.beginClose(websocket.CloseNormalClosure, "peer closed")

	default:
		c.logger.Debug("read failed", "error", err)
		c.beginClose(websocket.CloseNormalClosure, "read error")
	}
}

func (c *conn) protocolError(id, detail string) {
	c.m.protocolErrors.Add(1)
	c.logger.Warn("protocol violation", "detail", detail)
	c.reply(model.ErrorResponse(id, model.Errorf(model.ErrInvalidRequest, "%s", detail)))
	c.beginClose(websocket.ClosePolicyViolation, "protocol violation")
}

// handle dispatches one request. It returns false when the connection
// must stop reading.
func (c *conn) handle(req model.Request) bool {
	switch req.Type {
	case model.TypeHello:
		c.mu.Lock()
		c.name = req.Name
		c.mu.Unlock()
		c.reply(model.Response{Type: model.TypeAck, ID: req.ID, Status: model.StatusConnected, ConnID: c.id})

	case model.TypePublish:
		c.publish(req)

	case model.TypeSubscribe:
		c.subscribe(req)

	case model.TypeUnsubscribe:
		c.unsubscribe(req)

	case model.TypePing:
		c.reply(model.Pong(req.ID))

	default:
		c.protocolError(req.ID, fmt.Sprintf("unknown request type %q", req.Type))
		return false
	}
	return true
}

func (c *conn) publish(req model.Request) {
	if err := topic.ValidateTopic(req.Topic); err != nil {
		c.rejectPublish(req, err)
		return
	}
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		c.rejectPublish(req, model.Errorf(model.ErrInvalidRequest, "%v", err))
		return
	}
	if req.TTLMillis < 0 {
		c.rejectPublish(req, model.Errorf(model.ErrInvalidRequest, "negative ttl_ms %d", req.TTLMillis))
		return
	}

	ttl := c.m.cfg.DefaultTTL
	if req.TTLMillis > 0 {
		ttl = time.Duration(req.TTLMillis) * time.Millisecond
	}

	ev := model.NewEvent(req.Topic, req.Payload, priority, ttl, c.id)
	if err := c.m.pub.Enqueue(ev); err != nil {
		c.rejectPublish(req, err)
		return
	}

	c.m.published.Add(1)
	c.reply(model.Response{
		Type:          model.TypeAck,
		ID:            req.ID,
		Status:        model.StatusQueued,
		ServerEventID: ev.ID,
	})
}

func (c *conn) rejectPublish(req model.Request, err error) {
	c.m.publishRejected.Add(1)
	level := slog.LevelDebug
	if model.KindOf(err) == model.KindInternal {
		level = slog.LevelError
	}
	c.logger.Log(context.Background(), level, "publish rejected",
		"topic", req.Topic,
		"kind", model.KindOf(err),
		"code", model.CodeOf(err),
		"error", err,
	)
	c.reply(model.ErrorResponse(req.ID, err))
}

func (c *conn) subscribe(req model.Request) {
	added, err := c.m.registry.Add(c.id, req.Pattern)
	if err != nil {
		c.reply(model.ErrorResponse(req.ID, err))
		return
	}
	if added {
		c.logger.Debug("subscribed", "pattern", req.Pattern)
	}
	c.reply(model.Ack(req.ID, model.StatusSubscribed))
}

func (c *conn) unsubscribe(req model.Request) {
	if req.Pattern == model.UnsubscribeAll {
		n := c.m.registry.RemoveAll(c.id)
		c.logger.Debug("unsubscribed all", "removed", n)
		c.reply(model.Ack(req.ID, model.StatusUnsubscribed))
		return
	}
	if err := topic.ValidatePattern(req.Pattern); err != nil {
		c.reply(model.ErrorResponse(req.ID, err))
		return
	}
	if c.m.registry.Remove(c.id, req.Pattern) {
		c.logger.Debug("unsubscribed", "pattern", req.Pattern)
	}
	c.reply(model.Ack(req.ID, model.StatusUnsubscribed))
}

// reply writes a response frame from the read side.
func (c *conn) reply(resp model.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode response", "type", resp.Type, "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.m.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("reply write failed", "type", resp.Type, "error", err)
		c.beginClose(websocket.CloseNormalClosure, "write error")
	}
}

// writeLoop delivers queued events and pings until the connection closes,
// then drains the outbound buffer for at most DrainTimeout.
func (c *conn) writeLoop() {
	defer close(c.writeDone)

	var ping <-chan time.Time
	if c.m.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.m.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if c.m.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(c.m.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case d := <-c.out:
			if err := c.writeEvent(d); err != nil {
				c.logger.Debug("event write failed", "event_id", d.EventID, "error", err)
				c.beginClose(websocket.CloseNormalClosure, "write error")
				c.ws.Close()
				return
			}

		case <-ping:
			deadline := time.Now().Add(c.m.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				c.beginClose(websocket.CloseNormalClosure, "write error")
				c.ws.Close()
				return
			}

		case <-idle:
			if rest := c.idleRemaining(); rest > 0 || c.state.Load() != StateOpen {
				if rest <= 0 {
					rest = c.m.cfg.IdleTimeout
				}
				idleTimer.Reset(rest)
				continue
			}
			c.m.idleCloses.Add(1)
			c.logger.Info("idle timeout", "timeout", c.m.cfg.IdleTimeout)
			c.beginClose(websocket.CloseNormalClosure, "idle timeout")

		case <-c.closing:
			c.drain()
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			c.writeCloseFrame(code, text)
			c.ws.Close()
			return
		}
	}
}

func (c *conn) drain() {
	deadline := time.Now().Add(c.m.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		select {
		case d := <-c.out:
			if err := c.writeEvent(d); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) writeEvent(d model.Delivery) error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.m.cfg.WriteTimeout))
	err := c.ws.WriteMessage(websocket.TextMessage, d.Frame)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.delivered.Add(1)
	c.m.recordDelivery(d.PublishedAt)
	return nil
}

func (c *conn) writeCloseFrame(code int, text string) {
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(c.m.cfg.WriteTimeout),
	)
}

func (c *conn) stats() ConnStats {
	c.mu.Lock()
	name := c.name
	c.mu.Unlock()

	patterns := c.m.registry.Patterns(c.id)
	if patterns == nil {
		patterns = []string{}
	}
	return ConnStats{
		ID:           c.id,
		Name:         name,
		Remote:       c.remote,
		State:        c.state.Load().String(),
		Patterns:     patterns,
		Queued:       len(c.out),
		Delivered:    c.delivered.Load(),
		Drops:        c.drops.Load(),
		ConnectedAt:  c.connectedAt,
		LastActivity: time.Unix(0, c.lastActivity.Load()),
	}
}
