package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

// RedisBroker implements MessageBroker over Redis pub/sub. A single
// subscriber connection carries all channels; a dispatch goroutine routes
// inbound payloads to per-channel Go channels. The go-redis PubSub handles
// reconnection internally; decode failures are logged and dropped.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *zap.Logger

	mu     sync.Mutex
	subs   map[string]chan Event
	closed bool
}

func NewRedisBroker(ctx context.Context, client *redis.Client, log *zap.Logger) *RedisBroker {
	b := &RedisBroker{
		client: client,
		pubsub: client.Subscribe(ctx),
		log:    log,
		subs:   make(map[string]chan Event),
	}
	go b.dispatch()
	return b
}

func (b *RedisBroker) Type() string { return "redis" }

func (b *RedisBroker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}
	if _, ok := b.subs[channel]; ok {
		return nil, fmt.Errorf("already subscribed to %s", channel)
	}

	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		return nil, fmt.Errorf("redis subscribe to %s failed: %w", channel, err)
	}

	events := make(chan Event, subscriberBuffer)
	b.subs[channel] = events
	return events, nil
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	if !b.drop(channel) {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis unsubscribe from %s failed: %w", channel, err)
	}
	return nil
}

// drop closes and unregisters the channel's feed. Holding the mutex across
// the close is what makes deliver safe: an in-flight event either sends
// before the close or observes the entry gone, never both.
func (b *RedisBroker) drop(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, ok := b.subs[channel]
	if !ok {
		return false
	}
	close(events)
	delete(b.subs, channel)
	return true
}

func (b *RedisBroker) dispatch() {
	for msg := range b.pubsub.Channel() {
		b.deliver(msg.Channel, msg.Payload)
	}
}

// deliver routes one raw pub/sub payload to the channel's subscriber. The
// send happens under the same mutex that drop and Close close the feed
// under; a racing unsubscribe can therefore never turn the send into a
// send-on-closed-channel panic.
func (b *RedisBroker) deliver(channel, payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.log.Warn("dropping undecodable fabric event",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	events, ok := b.subs[channel]
	if !ok {
		return // unsubscribed while in flight
	}
	select {
	case events <- event:
	default:
		b.log.Warn("subscriber buffer full, dropping fabric event",
			zap.String("channel", channel),
			zap.String("key", event.Key))
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for channel, events := range b.subs {
		close(events)
		delete(b.subs, channel)
	}
	return b.pubsub.Close()
}
