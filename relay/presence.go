package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/rest"
	"github.com/rili-live/therr-app-sub008/session"
)

// notifyConnections fans a presence event out to the user's social
// connections: fetch the social graph from the users service, batch-resolve
// which counterparts are online, and address the event to each of their
// connections. Failures here are logged and the fan-out skipped; presence
// is best-effort.
func (r *Relay) notifyConnections(ctx context.Context, c *Client, user session.User, t ActionType) {
	connections, err := r.upstream.FetchUserConnections(ctx, r.creds(c), user.ID)
	if err != nil {
		r.log.Warn("presence fan-out skipped: connections fetch failed",
			zap.String("userId", user.ID),
			zap.Error(err))
		return
	}
	if len(connections) == 0 {
		return
	}

	counterpartIDs := make([]string, 0, len(connections))
	for _, conn := range connections {
		if id := counterpartID(conn, user.ID); id != "" {
			counterpartIDs = append(counterpartIDs, id)
		}
	}

	activeUsers, err := r.store.GetManyByUserIDs(ctx, counterpartIDs)
	if err != nil {
		r.log.Warn("presence fan-out skipped: session lookup failed",
			zap.String("userId", user.ID),
			zap.Error(err))
		return
	}

	// Never forward the credential to other users.
	payload := user
	payload.IDToken = ""

	for _, active := range activeUsers {
		if active.ConnectionID == "" {
			continue
		}
		r.publishToConnection(ctx, active.ConnectionID, t, payload)
	}
}

// counterpartID picks the other participant of a social connection.
func counterpartID(conn rest.UserConnection, selfID string) string {
	if conn.RequestingUserID != "" || conn.AcceptingUserID != "" {
		if conn.RequestingUserID == selfID {
			return conn.AcceptingUserID
		}
		return conn.RequestingUserID
	}
	for _, u := range conn.Users {
		if u.ID != selfID {
			return u.ID
		}
	}
	return ""
}
