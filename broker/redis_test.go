package broker

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testRedisBroker builds a broker with no network attached; deliver and
// drop only touch the subscriber map, so the routing contract can be
// exercised without a Redis connection.
func testRedisBroker() *RedisBroker {
	return &RedisBroker{
		log:  zap.NewNop(),
		subs: make(map[string]chan Event),
	}
}

func TestRedisBroker_DeliverRoutesToSubscriber(t *testing.T) {
	b := testRedisBroker()
	feed := make(chan Event, 1)
	b.subs["relay:room:general"] = feed

	payload, err := json.Marshal(Event{Key: "k1", Origin: "instance-a", RoomID: "general"})
	require.NoError(t, err)

	b.deliver("relay:room:general", string(payload))

	event := recvEvent(t, feed)
	assert.Equal(t, "k1", event.Key)
	assert.Equal(t, "instance-a", event.Origin)
}

func TestRedisBroker_DeliverAfterDropIsNoOp(t *testing.T) {
	b := testRedisBroker()
	feed := make(chan Event, 1)
	b.subs["relay:direct"] = feed

	require.True(t, b.drop("relay:direct"))
	_, open := <-feed
	assert.False(t, open, "drop should close the feed")

	payload, err := json.Marshal(Event{Key: "late"})
	require.NoError(t, err)
	b.deliver("relay:direct", string(payload))

	assert.False(t, b.drop("relay:direct"), "second drop should report nothing removed")
}

func TestRedisBroker_DeliverIgnoresUndecodablePayload(t *testing.T) {
	b := testRedisBroker()
	feed := make(chan Event, 1)
	b.subs["relay:global"] = feed

	b.deliver("relay:global", "{not json")

	select {
	case event := <-feed:
		t.Fatalf("undecodable payload reached the feed: %+v", event)
	default:
	}
}

// A steady stream of deliveries racing subscribe/unsubscribe churn on the
// same channel must never send on a closed feed. Any such send panics and
// fails the run outright.
func TestRedisBroker_DeliverUnsubscribeRace(t *testing.T) {
	b := testRedisBroker()
	payload, err := json.Marshal(Event{Key: "k", RoomID: "general"})
	require.NoError(t, err)

	const iterations = 5000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			b.deliver("relay:room:general", string(payload))
		}
	}()

	for i := 0; i < iterations; i++ {
		feed := make(chan Event, 1)
		b.mu.Lock()
		b.subs["relay:room:general"] = feed
		b.mu.Unlock()
		b.drop("relay:room:general")
		for range feed {
		}
	}
	wg.Wait()
}
