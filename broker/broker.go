// Package broker is the pub/sub fabric that carries room and direct events
// between relay instances. Any instance may publish; every instance
// subscribed to a channel receives every event on it, including its own.
package broker

import (
	"context"
	"encoding/json"
)

// Event is the unit of cross-instance broadcast. Envelope is an opaque,
// already-encoded server->client action envelope; the fabric never inspects
// it.
type Event struct {
	Key      string          `json:"key"`
	Origin   string          `json:"origin"`
	RoomID   string          `json:"roomId,omitempty"`
	Target   string          `json:"target,omitempty"`
	Exclude  string          `json:"exclude,omitempty"`
	Envelope json.RawMessage `json:"envelope"`
}

// MessageBroker is the fabric contract. Subscribe registers the channel with
// the underlying broker exactly once per call site; callers are responsible
// for ref-counting (the connection registry does this for room channels).
// Connection-level failures after startup are logged and retried, never
// fatal.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, channel string) error
	Type() string
	Close() error
}
