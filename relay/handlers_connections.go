package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/metrics"
	"github.com/rili-live/therr-app-sub008/rest"
	"github.com/rili-live/therr-app-sub008/session"
)

const (
	requestStatusComplete = "complete"

	notificationTypeConnectionAccepted = "CONNECTION_REQUEST_ACCEPTED"
)

// handleCreateConnection delivers a connection-request notification to the
// accepting user, if they are online anywhere on the fleet. The request
// itself was already persisted by the caller through the REST API.
func (r *Relay) handleCreateConnection(ctx context.Context, c *Client, claims *Claims, data CreateConnectionData) {
	r.log.Info("user connection created",
		zap.String("connectionId", c.ID),
		zap.String("userName", data.User.UserName),
		zap.String("acceptingUserId", data.Connection.AcceptingUserID))

	resolved, err := r.store.GetByUserID(ctx, data.Connection.AcceptingUserID)
	if err != nil {
		r.log.Warn("accepting user lookup failed",
			zap.String("acceptingUserId", data.Connection.AcceptingUserID),
			zap.Error(err))
		return
	}
	if resolved == nil || resolved.ConnectionID == "" {
		return // offline; the persisted notification reaches them later
	}

	payload := make(map[string]interface{}, len(data.Connection.Notification)+1)
	for k, v := range data.Connection.Notification {
		payload[k] = v
	}
	connection := data.Connection
	connection.Notification = nil
	payload["userConnection"] = connection

	r.publishToConnection(ctx, resolved.ConnectionID, EventNotificationCreated, payload)
}

// handleUpdateConnection runs the accept/deny/break flow: persist the
// change upstream, then notify both parties. Denials notify no one.
func (r *Relay) handleUpdateConnection(ctx context.Context, c *Client, claims *Claims, data UpdateConnectionData) {
	connection, err := r.upstream.UpdateUserConnection(ctx, r.creds(c), data.Connection.OtherUserID, data.Connection)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("update_user_connection").Inc()
		r.log.Error("user connection update failed",
			zap.String("connectionId", c.ID),
			zap.String("otherUserId", data.Connection.OtherUserID),
			zap.Error(err))
		return
	}

	r.log.Info("user connection updated",
		zap.String("connectionId", c.ID),
		zap.String("userName", data.User.UserName),
		zap.String("requestStatus", connection.RequestStatus))

	resolved, err := r.store.GetByUserID(ctx, connection.RequestingUserID)
	if err != nil {
		r.log.Warn("requesting user lookup failed",
			zap.String("requestingUserId", connection.RequestingUserID),
			zap.Error(err))
		resolved = nil
	}

	switch {
	case connection.IsConnectionBroken:
		// Tell the other side to drop the connection and its content.
		if resolved != nil && resolved.ConnectionID != "" {
			r.publishToConnection(ctx, resolved.ConnectionID, EventUserConnectionUpdated, connection)
		}

	case connection.RequestStatus == requestStatusComplete:
		if resolved != nil && resolved.ConnectionID != "" {
			r.publishToConnection(ctx, resolved.ConnectionID, EventUserConnectionUpdated, connection)
		}
		c.Emit(EventUserConnectionUpdated, connection)

		r.notifyRequesterOfAcceptance(ctx, c, data.User, connection.ID, connection.RequestingUserID, resolved)
	}
}

func (r *Relay) notifyRequesterOfAcceptance(ctx context.Context, c *Client, acceptingUser session.User, connectionID, requestingUserID string, resolved *session.Resolved) {
	notification, err := r.upstream.CreateNotification(ctx, r.creds(c), rest.NotificationInput{
		UserID:           requestingUserID,
		Type:             notificationTypeConnectionAccepted,
		AssociationID:    connectionID,
		IsUnread:         true,
		MessageLocaleKey: "notifications.connectionRequestAccepted",
		MessageParams: map[string]string{
			"userName": acceptingUser.UserName,
		},
		FromUserName: acceptingUser.UserName,
	})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("create_notification").Inc()
		r.log.Error("acceptance notification failed",
			zap.String("requestingUserId", requestingUserID),
			zap.Error(err))
		return
	}

	if resolved != nil && resolved.ConnectionID != "" {
		r.publishToConnection(ctx, resolved.ConnectionID, EventNotificationCreated, notification)
	}
}

// handleLoadActiveConnections answers "which of my connections are online
// right now": intersect the caller's social graph with the session store
// in one batched lookup.
func (r *Relay) handleLoadActiveConnections(ctx context.Context, c *Client, claims *Claims, data LoadActiveConnectionsData) {
	counterpartIDs := make([]string, 0, len(data.Connections))
	for _, conn := range data.Connections {
		if id := counterpartID(conn, data.UserID); id != "" {
			counterpartIDs = append(counterpartIDs, id)
		}
	}

	activeUsers, err := r.store.GetManyByUserIDs(ctx, counterpartIDs)
	if err != nil {
		r.log.Warn("active connections lookup failed",
			zap.String("userId", data.UserID),
			zap.Error(err))
		return
	}

	c.Emit(EventActiveConnectionsLoaded, map[string]interface{}{
		"activeUsers": activeUsers,
	})
}
