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
	notificationTypeNewLike      = "NEW_LIKE_RECEIVED"
	notificationTypeNewSuperLike = "NEW_SUPER_LIKE_RECEIVED"

	reactionNotificationThrottleKey = "reactionNotificationThrottles:%s:%s"
	reactionNotificationMinWait     = time.Minute
)

// handleCreateOrUpdateReaction tells a content owner that someone liked
// their moment, space or thought. The reaction itself was already persisted
// by the reactions service; the relay only raises the notification,
// throttled per owner/reactor pair so repeated like-unlike toggles don't
// stack.
func (r *Relay) handleCreateOrUpdateReaction(ctx context.Context, c *Client, claims *Claims, data ReactionData) {
	area := data.MomentReaction
	postType := "moments"
	if area == nil {
		area = data.SpaceReaction
		postType = "spaces"
	}

	var (
		reaction  *ContentReaction
		ownerID   string
		contentID string
		isArea    bool
	)
	switch {
	case area != nil && (area.UserHasLiked || area.UserHasSuperLiked):
		reaction = area
		ownerID = data.AreaUserID
		contentID = area.MomentID
		if contentID == "" {
			contentID = area.SpaceID
		}
		isArea = true
	case data.ThoughtReaction != nil && (data.ThoughtReaction.UserHasLiked || data.ThoughtReaction.UserHasSuperLiked):
		reaction = data.ThoughtReaction
		ownerID = data.ThoughtUserID
		contentID = data.ThoughtReaction.ThoughtID
		postType = "thoughts"
	default:
		return // removed or unknown reaction, nothing to announce
	}
	if ownerID == "" {
		return
	}

	key := fmt.Sprintf(reactionNotificationThrottleKey, ownerID, reaction.UserID)
	shouldNotify, err := r.store.ShouldNotify(ctx, key, reactionNotificationMinWait)
	if err != nil {
		r.log.Warn("reaction notification throttle check failed",
			zap.String("contentUserId", ownerID),
			zap.Error(err))
		return
	}
	if !shouldNotify {
		return
	}

	notificationType := notificationTypeNewLike
	messageLocaleKey := "notifications.newLikeReceived"
	if reaction.UserHasSuperLiked {
		notificationType = notificationTypeNewSuperLike
		messageLocaleKey = "notifications.newSuperLikeReceived"
	}

	params := map[string]string{
		"userName": data.ReactorUserName,
		"postType": postType,
	}
	if isArea {
		params["areaId"] = contentID
		params["userId"] = reaction.UserID
	} else {
		params["thoughtId"] = contentID
	}

	if _, err := r.upstream.CreateNotification(ctx, r.creds(c), rest.NotificationInput{
		UserID:           ownerID,
		Type:             notificationType,
		IsUnread:         true,
		MessageLocaleKey: messageLocaleKey,
		MessageParams:    params,
		FromUserName:     data.ReactorUserName,
	}); err != nil {
		metrics.UpstreamFailures.WithLabelValues("create_notification").Inc()
		r.log.Error("reaction notification failed",
			zap.String("contentUserId", ownerID),
			zap.Error(err))
	}
}
