package broker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process fabric core. It backs single-instance
// deployments and lets tests run several relay instances against one shared
// fabric: each instance takes its own Handle. Delivery order per channel
// matches publish order.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*MemoryHandle]chan Event
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[*MemoryHandle]chan Event),
	}
}

// Handle returns this instance's view of the shared fabric.
func (b *MemoryBroker) Handle() *MemoryHandle {
	return &MemoryHandle{core: b}
}

func (b *MemoryBroker) publish(channel string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	for _, events := range b.subs[channel] {
		select {
		case events <- event:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

func (b *MemoryBroker) subscribe(h *MemoryHandle, channel string) (chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*MemoryHandle]chan Event)
	}
	if _, ok := b.subs[channel][h]; ok {
		return nil, fmt.Errorf("already subscribed to %s", channel)
	}
	events := make(chan Event, subscriberBuffer)
	b.subs[channel][h] = events
	return events, nil
}

func (b *MemoryBroker) unsubscribe(h *MemoryHandle, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if events, ok := b.subs[channel][h]; ok {
		close(events)
		delete(b.subs[channel], h)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for channel, handles := range b.subs {
		for h, events := range handles {
			close(events)
			delete(handles, h)
		}
		delete(b.subs, channel)
	}
	return nil
}

// MemoryHandle implements MessageBroker for one relay instance on top of a
// shared MemoryBroker core.
type MemoryHandle struct {
	core *MemoryBroker
}

func (h *MemoryHandle) Type() string { return "memory" }

func (h *MemoryHandle) Publish(_ context.Context, channel string, event Event) error {
	return h.core.publish(channel, event)
}

func (h *MemoryHandle) Subscribe(_ context.Context, channel string) (<-chan Event, error) {
	return h.core.subscribe(h, channel)
}

func (h *MemoryHandle) Unsubscribe(_ context.Context, channel string) error {
	h.core.unsubscribe(h, channel)
	return nil
}

func (h *MemoryHandle) Close() error {
	return nil
}
