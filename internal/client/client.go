package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/eventrouter/internal/model"
)

// Client is a single agent connection to the router.
type Client struct {
	cfg    Config
	logger *slog.Logger

	conn   *websocket.Conn
	connID string

	// Output channels
	events chan Event
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// Request correlation
	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan model.Response
	closed  bool

	closeOnce sync.Once
	dropped   atomic.Int64
}

// Dial connects to the router and completes the hello handshake.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaults.ResponseTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		events:  make(chan Event, cfg.BufferSize),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		pending: make(map[string]chan model.Response),
	}

	go c.readLoop()

	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	ack, err := c.request(hctx, model.Request{Type: model.TypeHello, Name: cfg.Name})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	c.connID = ack.ConnID

	c.logger.Debug("connected to router", "url", cfg.URL, "conn_id", c.connID)
	return c, nil
}

// ConnID is the id the router assigned to this connection.
func (c *Client) ConnID() string {
	return c.connID
}

// Publish submits an event and returns the router-assigned event id once
// the router has queued it. A full queue returns an error matching
// model.ErrQueueFull.
func (c *Client) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	req := model.Request{Type: model.TypePublish, Topic: topic, Payload: raw}
	for _, opt := range opts {
		opt(&req)
	}

	ack, err := c.request(ctx, req)
	if err != nil {
		return "", err
	}
	return ack.ServerEventID, nil
}

// Subscribe registers a topic pattern. Subscribing twice is a no-op.
func (c *Client) Subscribe(ctx context.Context, pattern string) error {
	_, err := c.request(ctx, model.Request{Type: model.TypeSubscribe, Pattern: pattern})
	return err
}

// Unsubscribe removes a topic pattern. The pattern "*" is reserved on the
// wire and removes every pattern, see UnsubscribeAll.
func (c *Client) Unsubscribe(ctx context.Context, pattern string) error {
	_, err := c.request(ctx, model.Request{Type: model.TypeUnsubscribe, Pattern: pattern})
	return err
}

// UnsubscribeAll removes every pattern held by this connection.
func (c *Client) UnsubscribeAll(ctx context.Context) error {
	return c.Unsubscribe(ctx, model.UnsubscribeAll)
}

// Ping measures an application-level round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.request(ctx, model.Request{Type: model.TypePing}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Events returns delivered events. The channel closes when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors returns the terminal connection error, including the router's
// close frame when it closed the connection.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// Dropped is the number of events discarded because Events() was not drained.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)

		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// request sends req with a fresh id and waits for the matching ack, pong
// or error.
func (c *Client) request(ctx context.Context, req model.Request) (model.Response, error) {
	req.ID = strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan model.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Response{}, ErrClosed
	}
	c.pending[req.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResponseTimeout)
		defer cancel()
	}

	if err := c.send(req); err != nil {
		return model.Response{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return model.Response{}, ErrClosed
		}
		if resp.Type == model.TypeError {
			return resp, responseError(resp)
		}
		if resp.Type != model.TypeAck && resp.Type != model.TypePong {
			return resp, fmt.Errorf("%w: %s", ErrUnexpectedReply, resp.Type)
		}
		return resp, nil
	case <-ctx.Done():
		return model.Response{}, ctx.Err()
	}
}

func (c *Client) send(req model.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop routes replies to waiting requests and events to Events().
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.events)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
			default:
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}

		var resp model.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		if resp.Type == model.TypeEvent {
			select {
			case c.events <- eventFromResponse(resp, receivedAt):
			default:
				c.dropped.Add(1)
				c.logger.Warn("event buffer full, dropping event", "event_id", resp.ServerEventID)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
			continue
		}
		if resp.Type == model.TypeError {
			c.logger.Warn("router error", "code", resp.Code, "message", resp.Message)
		}
	}
}
