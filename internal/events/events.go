package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Event types
const (
	RecordCreated = "record.created"
	RecordUpdated = "record.updated"
	RecordDeleted = "record.deleted"
)

// RecordEventsStream is the stream name; Kafka uses it as the topic name.
const RecordEventsStream = "records.events"

// Base event structure
type Event struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Publisher publishes domain events to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// Keyed is implemented by payloads that need per-key ordering on
// partitioned transports.
type Keyed interface {
	EventKey() string
}

// Record events
type RecordEvent struct {
	Kind     string `json:"kind"`
	OwnerID  string `json:"ownerId"`
	RecordID string `json:"recordId"`
}

func (e RecordEvent) EventKey() string { return e.OwnerID }

// ErrUnprocessable marks an event no retry can handle. Consumers acknowledge
// such events and drop them.
var ErrUnprocessable = errors.New("unprocessable event")

// Unprocessable wraps err so that errors.Is(err, ErrUnprocessable) holds.
func Unprocessable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnprocessable, err)
}

// DecodeData re-decodes the generic Data payload of an event into T. A
// payload of the wrong shape is unprocessable.
func DecodeData[T any](event Event) (T, error) {
	var out T
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return out, Unprocessable(fmt.Errorf("failed to marshal %s payload: %w", event.Type, err))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, Unprocessable(fmt.Errorf("failed to unmarshal %s payload: %w", event.Type, err))
	}
	return out, nil
}

// settled logs a handler outcome and reports whether the message should be
// acknowledged.
func settled(logger *slog.Logger, err error, attrs ...any) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrUnprocessable):
		logger.Warn("dropping unprocessable event", append(attrs, "err", err)...)
		return true
	default:
		logger.Error("event handler failed", append(attrs, "err", err)...)
		return false
	}
}

// NopPublisher drops every event. It backs single-process runs without a broker.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
