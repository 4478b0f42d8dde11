package model

import (
	"encoding/json"
	"time"
)

// Request types sent by agents.
const (
	TypeHello       = "hello"
	TypePublish     = "publish"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Response types sent by the router.
const (
	TypeAck   = "ack"
	TypeError = "error"
	TypeEvent = "event"
	TypePong  = "pong"
)

// Ack statuses.
const (
	StatusConnected    = "connected"
	StatusQueued       = "queued"
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// UnsubscribeAll is the pattern value that removes every subscription.
// It shadows the single-segment pattern "*": a connection subscribed to
// "*" can only drop it together with all its other patterns.
const UnsubscribeAll = "*"

// Request is the inbound envelope. Fields are used depending on Type.
type Request struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Pattern   string          `json:"pattern,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  string          `json:"priority,omitempty"`
	TTLMillis int64           `json:"ttl_ms,omitempty"`
	Name      string          `json:"name,omitempty"` // hello only
}

// Response is the outbound envelope for ack, error, event and pong.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	ConnID  string `json:"conn_id,omitempty"`

	// Set on publish acks and on events.
	ServerEventID string `json:"server_event_id,omitempty"`

	// Event fields
	Topic            string          `json:"topic,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Priority         string          `json:"priority,omitempty"`
	PublishTimestamp string          `json:"publish_timestamp,omitempty"`
	TTLMillis        int64           `json:"ttl_ms,omitempty"`
}

// Ack builds an ack response.
func Ack(id, status string) Response {
	return Response{Type: TypeAck, ID: id, Status: status}
}

// ErrorResponse builds an error response from any error.
func ErrorResponse(id string, err error) Response {
	return Response{
		Type:    TypeError,
		ID:      id,
		Code:    CodeOf(err),
		Message: err.Error(),
	}
}

// Pong builds a pong response.
func Pong(id string) Response {
	return Response{Type: TypePong, ID: id}
}

// EventResponse builds the event envelope delivered to subscribers.
func EventResponse(e *Event) Response {
	return Response{
		Type:             TypeEvent,
		ServerEventID:    e.ID,
		Topic:            e.Topic,
		Payload:          e.Payload,
		Priority:         e.Priority.String(),
		PublishTimestamp: e.PublishedAt.UTC().Format(time.RFC3339Nano),
		TTLMillis:        e.TTL.Milliseconds(),
	}
}

// EncodeEvent encodes an event once so the frame can be shared by all subscribers.
func EncodeEvent(e *Event) ([]byte, error) {
	return json.Marshal(EventResponse(e))
}
