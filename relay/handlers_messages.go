package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/metrics"
	"github.com/rili-live/therr-app-sub008/rest"
)

const (
	notificationTypeNewDM     = "NEW_DM_RECEIVED"
	dmNotificationThrottleKey = "dmNotificationThrottles:%s:%s"
	dmNotificationMinWait     = 20 * time.Minute
)

// handleSendMessage relays an ephemeral room message: echoed to the sender
// immediately and broadcast to the room across the fleet. Room chat is not
// persisted.
func (r *Relay) handleSendMessage(ctx context.Context, c *Client, claims *Claims, data RoomMessageData) {
	now := formatEventTime(time.Now())

	c.Emit(EventSendMessage, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   "you",
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("You: %s", data.Message),
		},
	})

	r.publishToRoom(ctx, data.RoomID, c.ID, EventSendMessage, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   data.UserName,
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("%s: %s", data.UserName, data.Message),
		},
	})
}

// handleSendDirectMessage persists the message first and emits nothing at
// all if persistence fails; the echo and the recipient delivery both carry
// the stored message's id and timestamp. An offline recipient gets a
// throttled notification instead of a live event.
func (r *Relay) handleSendDirectMessage(ctx context.Context, c *Client, claims *Claims, data DirectMessageData) {
	stored, err := r.upstream.CreateDirectMessage(ctx, r.creds(c), rest.DirectMessageInput{
		Message:    data.Message,
		ToUserID:   data.To.ID,
		FromUserID: data.UserID,
		IsUnread:   false,
	})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("create_direct_message").Inc()
		r.log.Error("direct message persistence failed",
			zap.String("connectionId", c.ID),
			zap.String("toUserId", data.To.ID),
			zap.Error(err))
		return
	}

	createdAt := stored.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	timeFormatted := formatEventTime(createdAt)

	c.Emit(EventSendDirectMessage, map[string]interface{}{
		"contextUserId": data.To.ID,
		"message": ChatMessage{
			ID:             stored.ID,
			FromUserName:   "you",
			FromUserImgSrc: data.UserImgSrc,
			Time:           timeFormatted,
			Text:           data.Message,
		},
	})

	resolved, err := r.store.GetByUserID(ctx, data.To.ID)
	if err != nil {
		r.log.Warn("recipient session lookup failed",
			zap.String("toUserId", data.To.ID),
			zap.Error(err))
		return
	}

	if resolved != nil && resolved.ConnectionID != "" {
		r.publishToConnection(ctx, resolved.ConnectionID, EventSendDirectMessage, map[string]interface{}{
			"contextUserId": data.UserID,
			"message": ChatMessage{
				ID:             stored.ID,
				FromUserName:   data.UserName,
				FromUserImgSrc: data.UserImgSrc,
				Time:           timeFormatted,
				Text:           data.Message,
			},
		})
		return
	}

	// Recipient is offline: create a persisted notification, throttled so
	// a burst of messages doesn't stack push notifications.
	r.notifyOfflineRecipient(ctx, c, data)
}

func (r *Relay) notifyOfflineRecipient(ctx context.Context, c *Client, data DirectMessageData) {
	key := fmt.Sprintf(dmNotificationThrottleKey, data.To.ID, data.UserID)
	shouldNotify, err := r.store.ShouldNotify(ctx, key, dmNotificationMinWait)
	if err != nil {
		r.log.Warn("dm notification throttle check failed",
			zap.String("toUserId", data.To.ID),
			zap.Error(err))
		return
	}
	if !shouldNotify {
		return
	}

	if _, err := r.upstream.CreateNotification(ctx, r.creds(c), rest.NotificationInput{
		UserID:           data.To.ID,
		Type:             notificationTypeNewDM,
		IsUnread:         true,
		MessageLocaleKey: "notifications.newDmReceived",
		MessageParams: map[string]string{
			"userId":   data.UserID,
			"userName": data.UserName,
		},
		FromUserName: data.UserName,
	}); err != nil {
		metrics.UpstreamFailures.WithLabelValues("create_notification").Inc()
		r.log.Error("offline dm notification failed",
			zap.String("toUserId", data.To.ID),
			zap.Error(err))
	}
}
