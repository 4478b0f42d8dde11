package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Priority
// -----------------------------------------------------------------------------

// Priority is the ordinal dispatch class of an event.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// NumPriorities is the number of priority levels.
const NumPriorities = 4

// Priorities lists all levels from highest to lowest.
var Priorities = [NumPriorities]Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority parses a case-insensitive priority name.
// An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// -----------------------------------------------------------------------------
// Event
// -----------------------------------------------------------------------------

// Event is a published message. Immutable once created.
type Event struct {
	ID          string          // UUIDv7, assigned by the router
	Topic       string          // Validated dot-segmented topic
	Payload     json.RawMessage // Opaque payload
	Priority    Priority
	PublishedAt time.Time
	TTL         time.Duration // 0 = never expires
	Publisher   string        // Connection ID of the publisher ("" for internal)
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(topic string, payload json.RawMessage, priority Priority, ttl time.Duration, publisher string) *Event {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &Event{
		ID:          newEventID(),
		Topic:       topic,
		Payload:     payload,
		Priority:    priority,
		PublishedAt: time.Now(),
		TTL:         ttl,
		Publisher:   publisher,
	}
}

// Expired reports whether the event outlived its TTL at now.
func (e *Event) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.PublishedAt) > e.TTL
}

// Age returns how long ago the event was published.
func (e *Event) Age(now time.Time) time.Duration {
	return now.Sub(e.PublishedAt)
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// V7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// Delivery is an encoded event on its way to one connection.
type Delivery struct {
	Frame       []byte    // Encoded "event" envelope, shared across subscribers
	EventID     string    // For logging
	PublishedAt time.Time // For end-to-end latency
}
