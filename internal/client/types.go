package client

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/eventrouter/internal/model"
)

// Config configures a Client.
type Config struct {
	URL  string
	Name string // sent in hello, shows up in router logs

	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration // per request, when ctx has no deadline
	WriteTimeout     time.Duration
	BufferSize       int // delivered events held before dropping
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ResponseTimeout:  10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Event is a delivered event as seen by a subscriber.
type Event struct {
	ID          string
	Topic       string
	Payload     json.RawMessage
	Priority    model.Priority
	PublishedAt time.Time
	TTL         time.Duration
	ReceivedAt  time.Time
}

// Latency is the time from publish to receipt.
func (e Event) Latency() time.Duration {
	return e.ReceivedAt.Sub(e.PublishedAt)
}

func eventFromResponse(r model.Response, receivedAt time.Time) Event {
	ev := Event{
		ID:         r.ServerEventID,
		Topic:      r.Topic,
		Payload:    r.Payload,
		TTL:        time.Duration(r.TTLMillis) * time.Millisecond,
		ReceivedAt: receivedAt,
	}
	if p, err := model.ParsePriority(r.Priority); err == nil {
		ev.Priority = p
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.PublishTimestamp); err == nil {
		ev.PublishedAt = ts
	}
	return ev
}

// PublishOption customises a publish request.
type PublishOption func(*model.Request)

// WithPriority sets the event priority. The router defaults to normal.
func WithPriority(p model.Priority) PublishOption {
	return func(r *model.Request) { r.Priority = p.String() }
}

// WithTTL sets the event time-to-live. Zero uses the router default.
func WithTTL(d time.Duration) PublishOption {
	return func(r *model.Request) { r.TTLMillis = d.Milliseconds() }
}

// Errors
var (
	ErrClosed          = errors.New("client closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// responseError converts an error response into a *model.Error so callers
// can match it against the model sentinels with errors.Is.
func responseError(r model.Response) error {
	kind := model.KindInternal
	for _, base := range sentinels {
		if base.Code == r.Code {
			kind = base.Kind
			break
		}
	}
	return &model.Error{Kind: kind, Code: r.Code, Message: r.Message}
}

var sentinels = []*model.Error{
	model.ErrInvalidTopic,
	model.ErrInvalidPattern,
	model.ErrInvalidRequest,
	model.ErrQueueFull,
	model.ErrCapacityExceeded,
	model.ErrHandshakeTimeout,
	model.ErrDeliveryFailed,
	model.ErrConnectionClosed,
	model.ErrInternal,
}
