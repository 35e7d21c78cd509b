package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/broker"
	"github.com/rili-live/therr-app-sub008/session"
)

const (
	redisAddr   = "localhost:6379"
	testTimeout = 15 * time.Second
)

func requireRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test: set INTEGRATION env var to run")
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err(), "Failed to connect to Redis")
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSessionStoreLifecycle(t *testing.T) {
	client := requireRedis(t)
	store := session.NewRedisStore(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	userID := fmt.Sprintf("it-user-%d", time.Now().UnixNano())
	rec := &session.Record{
		App:          "therrChat",
		ConnectionID: "it-conn-1",
		IP:           "127.0.0.1",
		User: session.User{
			ID:       userID,
			UserName: "integration",
			IDToken:  "secret-token",
			Status:   session.StatusActive,
		},
	}
	t.Cleanup(func() {
		client.Del(context.Background(), "userSockets:it-conn-1", "userSockets:it-conn-2", "users:"+userID)
	})

	// Create wires both index directions.
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)

	byConn, err := store.GetByConnectionID(ctx, "it-conn-1")
	require.NoError(t, err)
	require.NotNil(t, byConn)
	assert.Equal(t, userID, byConn.ID)
	assert.Equal(t, "it-conn-1", byConn.ConnectionID)

	byUser, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, byUser)
	assert.Equal(t, "it-conn-1", byUser.ConnectionID)
	assert.Empty(t, byUser.User.ConnectionID, "routing metadata must be stripped from the profile")

	// Update re-keys and retires the old reverse index.
	updated := *rec
	updated.ConnectionID = "it-conn-2"
	updated.User.PreviousConnectionID = "it-conn-1"
	_, err = store.Update(ctx, &updated)
	require.NoError(t, err)

	stale, err := store.GetByConnectionID(ctx, "it-conn-1")
	require.NoError(t, err)
	assert.Nil(t, stale, "previous connection id must no longer resolve")

	current, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "it-conn-2", current.ConnectionID)

	// Batch lookups omit absent users and strip credentials.
	many, err := store.GetManyByUserIDs(ctx, []string{userID, "it-no-such-user"})
	require.NoError(t, err)
	require.Len(t, many, 1)
	assert.Empty(t, many[0].IDToken)

	// Remove clears both directions.
	require.NoError(t, store.Remove(ctx, "it-conn-2"))
	gone, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSessionStoreCreateRekeysExistingUser(t *testing.T) {
	client := requireRedis(t)
	store := session.NewRedisStore(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	userID := fmt.Sprintf("it-rekey-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(context.Background(), "userSockets:it-rekey-a", "userSockets:it-rekey-b", "users:"+userID)
	})

	first := &session.Record{
		ConnectionID: "it-rekey-a",
		User:         session.User{ID: userID, UserName: "rekey"},
	}
	_, err := store.Create(ctx, first)
	require.NoError(t, err)

	// A second login for the same user replaces the session instead of
	// leaving two live reverse entries.
	second := &session.Record{
		ConnectionID: "it-rekey-b",
		User:         session.User{ID: userID, UserName: "rekey"},
	}
	_, err = store.Create(ctx, second)
	require.NoError(t, err)

	stale, err := store.GetByConnectionID(ctx, "it-rekey-a")
	require.NoError(t, err)
	assert.Nil(t, stale)

	current, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "it-rekey-b", current.ConnectionID)
}

func TestSessionStoreNotificationThrottle(t *testing.T) {
	client := requireRedis(t)
	store := session.NewRedisStore(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	key := fmt.Sprintf("dmNotificationThrottles:it-%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), key) })

	first, err := store.ShouldNotify(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first, "first caller within the window wins")

	second, err := store.ShouldNotify(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "throttle must be armed")
}

func TestRedisBrokerFanOut(t *testing.T) {
	client := requireRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	b := broker.NewRedisBroker(ctx, client, zap.NewNop())
	defer b.Close()

	channel := fmt.Sprintf("it-relay:%d", time.Now().UnixNano())
	events, err := b.Subscribe(ctx, channel)
	require.NoError(t, err)

	// Redis pub/sub has no replay; give the subscription a beat to land.
	time.Sleep(200 * time.Millisecond)

	sent := broker.Event{
		Key:      "it-key",
		Origin:   "it-instance",
		RoomID:   "general",
		Envelope: json.RawMessage(`{"type":"SEND_MESSAGE"}`),
	}
	require.NoError(t, b.Publish(ctx, channel, sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.Key, got.Key)
		assert.Equal(t, sent.Origin, got.Origin)
		assert.JSONEq(t, string(sent.Envelope), string(got.Envelope))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fabric event")
	}

	require.NoError(t, b.Unsubscribe(ctx, channel))
}
