package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rili-live/therr-app-sub008/rest"
)

func TestCounterpartID(t *testing.T) {
	testCases := []struct {
		name   string
		conn   rest.UserConnection
		selfID string
		want   string
	}{
		{
			name:   "self is requester",
			conn:   rest.UserConnection{RequestingUserID: "user-1", AcceptingUserID: "user-2"},
			selfID: "user-1",
			want:   "user-2",
		},
		{
			name:   "self is accepter",
			conn:   rest.UserConnection{RequestingUserID: "user-2", AcceptingUserID: "user-1"},
			selfID: "user-1",
			want:   "user-2",
		},
		{
			name: "users list fallback",
			conn: rest.UserConnection{Users: []rest.ConnectionUser{
				{ID: "user-1"}, {ID: "user-3"},
			}},
			selfID: "user-1",
			want:   "user-3",
		},
		{
			name:   "empty connection",
			conn:   rest.UserConnection{},
			selfID: "user-1",
			want:   "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, counterpartID(tc.conn, tc.selfID))
		})
	}
}
