// Package event defines the events routed by the botflow dispatcher.
//
// Events are built by platform adapters and consumed read-only by the
// dispatcher and its listeners. Every event carries a hierarchical Key used
// for listener matching, the identifier of the platform or bot it came from,
// and an arbitrary payload.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the core interface for all events in the system.
// Events are immutable once created.
type Event interface {
	ID() string           // Unique event identifier
	Key() *Key            // Event type, used for listener matching
	Source() string       // Originating platform or bot
	Timestamp() time.Time // When the event occurred
	Data() any            // Payload
}

// Texter is implemented by events and payloads that carry plain text,
// such as chat messages.
type Texter interface {
	PlainText() string
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID     string    `json:"id"`
	EventKey    *Key      `json:"-"`
	EventSource string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// BaseEvent provides a generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.Meta.EventID
}

// Key returns the event key.
func (e *BaseEvent[T]) Key() *Key {
	return e.Meta.EventKey
}

// Source returns the event source.
func (e *BaseEvent[T]) Source() string {
	return e.Meta.EventSource
}

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// PlainText returns the payload text when the payload is a string or a
// Texter, and "" otherwise.
func (e *BaseEvent[T]) PlainText() string {
	switch p := any(e.Payload).(type) {
	case string:
		return p
	case Texter:
		return p.PlainText()
	}
	return ""
}

func (e *BaseEvent[T]) String() string {
	return fmt.Sprintf("%s[%s from %s]", e.Meta.EventKey.Name(), e.Meta.EventID, e.Meta.EventSource)
}

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id        string
	timestamp time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new event with the given key, source, and payload.
// A nil key is replaced by RootKey.
func New[T any](key *Key, source string, payload T, opts ...EventOption) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if key == nil {
		key = RootKey
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:     cfg.id,
			EventKey:    key,
			EventSource: source,
			Timestamp:   cfg.timestamp,
		},
		Payload: payload,
	}
}

// Message is the payload of a chat message event.
type Message struct {
	AuthorID  string `json:"author_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Text      string `json:"text"`
}

// PlainText returns the message text.
func (m Message) PlainText() string {
	return m.Text
}

// NewMessage creates a MessageKey event carrying msg.
func NewMessage(source string, msg Message, opts ...EventOption) *BaseEvent[Message] {
	return New(MessageKey, source, msg, opts...)
}

// TextOf extracts plain text from an event. It reports false when neither
// the event nor its payload carries text.
func TextOf(e Event) (string, bool) {
	if e == nil {
		return "", false
	}
	if t, ok := e.(Texter); ok {
		if s := t.PlainText(); s != "" {
			return s, true
		}
	}
	switch p := e.Data().(type) {
	case string:
		return p, true
	case Texter:
		return p.PlainText(), true
	}
	return "", false
}

// Compile-time interface checks.
var (
	_ Event  = (*BaseEvent[any])(nil)
	_ Texter = (*BaseEvent[any])(nil)
	_ Texter = Message{}
)
