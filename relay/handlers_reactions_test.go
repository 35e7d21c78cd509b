package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rili-live/therr-app-sub008/broker"
	"github.com/rili-live/therr-app-sub008/rest"
)

func TestReaction_LikeNotifiesContentOwner(t *testing.T) {
	core := broker.NewMemoryBroker()
	defer core.Close()
	store := newFakeStore()

	var mu sync.Mutex
	var received []rest.NotificationInput
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/notifications", r.URL.Path)
		var input rest.NotificationInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		mu.Lock()
		received = append(received, input)
		mu.Unlock()
		json.NewEncoder(w).Encode(rest.Notification{ID: "n-1"})
	}))
	defer upstream.Close()

	r := newTestRelay(t, "instance-a", core, store, upstream.URL)
	c := attachClient(r, "conn-a", validToken(t))

	r.handleCreateOrUpdateReaction(context.Background(), c, &Claims{ID: "user-2"}, ReactionData{
		MomentReaction: &ContentReaction{
			MomentID:     "moment-7",
			UserID:       "user-2",
			UserHasLiked: true,
		},
		AreaUserID:      "user-owner",
		ReactorUserName: "bob",
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "user-owner", received[0].UserID)
	assert.Equal(t, "NEW_LIKE_RECEIVED", received[0].Type)
	assert.Equal(t, "notifications.newLikeReceived", received[0].MessageLocaleKey)
	assert.Equal(t, map[string]string{
		"areaId":   "moment-7",
		"userId":   "user-2",
		"userName": "bob",
		"postType": "moments",
	}, received[0].MessageParams)
	assert.Equal(t, "bob", received[0].FromUserName)
}

func TestReaction_SuperLikeOnThoughtSelectsOwnTypeAndParams(t *testing.T) {
	core := broker.NewMemoryBroker()
	defer core.Close()
	store := newFakeStore()

	var mu sync.Mutex
	var received []rest.NotificationInput
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var input rest.NotificationInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		mu.Lock()
		received = append(received, input)
		mu.Unlock()
		json.NewEncoder(w).Encode(rest.Notification{ID: "n-1"})
	}))
	defer upstream.Close()

	r := newTestRelay(t, "instance-a", core, store, upstream.URL)
	c := attachClient(r, "conn-a", validToken(t))

	r.handleCreateOrUpdateReaction(context.Background(), c, &Claims{ID: "user-2"}, ReactionData{
		ThoughtReaction: &ContentReaction{
			ThoughtID:         "thought-3",
			UserID:            "user-2",
			UserHasSuperLiked: true,
		},
		ThoughtUserID:   "user-owner",
		ReactorUserName: "bob",
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "NEW_SUPER_LIKE_RECEIVED", received[0].Type)
	assert.Equal(t, "notifications.newSuperLikeReceived", received[0].MessageLocaleKey)
	assert.Equal(t, map[string]string{
		"thoughtId": "thought-3",
		"userName":  "bob",
		"postType":  "thoughts",
	}, received[0].MessageParams)
}

func TestReaction_RepeatWithinWindowIsThrottled(t *testing.T) {
	core := broker.NewMemoryBroker()
	defer core.Close()
	store := newFakeStore()

	var mu sync.Mutex
	notifications := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		notifications++
		mu.Unlock()
		json.NewEncoder(w).Encode(rest.Notification{ID: "n-1"})
	}))
	defer upstream.Close()

	r := newTestRelay(t, "instance-a", core, store, upstream.URL)
	c := attachClient(r, "conn-a", validToken(t))

	data := ReactionData{
		SpaceReaction: &ContentReaction{
			SpaceID:      "space-1",
			UserID:       "user-2",
			UserHasLiked: true,
		},
		AreaUserID:      "user-owner",
		ReactorUserName: "bob",
	}
	r.handleCreateOrUpdateReaction(context.Background(), c, &Claims{ID: "user-2"}, data)
	r.handleCreateOrUpdateReaction(context.Background(), c, &Claims{ID: "user-2"}, data)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notifications, "repeat like within the throttle window must not notify again")
}

func TestReaction_RemovedLikeIsSilent(t *testing.T) {
	core := broker.NewMemoryBroker()
	defer core.Close()
	store := newFakeStore()

	var mu sync.Mutex
	upstreamCalls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		upstreamCalls++
		mu.Unlock()
		json.NewEncoder(w).Encode(rest.Notification{ID: "n-1"})
	}))
	defer upstream.Close()

	r := newTestRelay(t, "instance-a", core, store, upstream.URL)
	c := attachClient(r, "conn-a", validToken(t))

	r.handleCreateOrUpdateReaction(context.Background(), c, &Claims{ID: "user-2"}, ReactionData{
		MomentReaction: &ContentReaction{
			MomentID: "moment-7",
			UserID:   "user-2",
		},
		AreaUserID:      "user-owner",
		ReactorUserName: "bob",
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, upstreamCalls)
}
