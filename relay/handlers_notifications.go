package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/metrics"
)

// handleUpdateNotification marks a notification read/unread upstream and
// echoes the merged result back so the client's copy matches the stored
// record without a refetch.
func (r *Relay) handleUpdateNotification(ctx context.Context, c *Client, claims *Claims, data NotificationData) {
	id, _ := data.Notification["id"].(string)
	if id == "" {
		r.log.Warn("notification update missing id", zap.String("connectionId", c.ID))
		return
	}
	isUnread, _ := data.Notification["isUnread"].(bool)

	updated, err := r.upstream.UpdateNotification(ctx, r.creds(c), id, isUnread)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("update_notification").Inc()
		r.log.Error("notification update failed",
			zap.String("connectionId", c.ID),
			zap.String("notificationId", id),
			zap.Error(err))
		return
	}

	r.log.Info("notification updated",
		zap.String("connectionId", c.ID),
		zap.String("userName", data.UserName),
		zap.String("notificationId", updated.ID))

	c.Emit(EventNotificationUpdated, map[string]interface{}{
		"notification": mergeNotification(data.Notification, updated),
	})
}

// mergeNotification overlays the stored record on the fields the client
// sent, so client-side extras (message text, association payloads) survive
// the round trip.
func mergeNotification(original map[string]interface{}, updated interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(original))
	for k, v := range original {
		merged[k] = v
	}

	raw, err := json.Marshal(updated)
	if err != nil {
		return merged
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return merged
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
