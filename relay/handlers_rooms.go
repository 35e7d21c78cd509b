package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// handleJoinRoom adds the connection to a room. Rooms are never created
// explicitly; the first local member lazily creates the registry entry and
// subscribes the room's fabric channel. Everyone on the fleet gets a fresh
// rooms directory afterward.
func (r *Relay) handleJoinRoom(ctx context.Context, c *Client, claims *Claims, data RoomData) {
	now := formatEventTime(time.Now())

	r.joinRoomSubscription(ctx, c, data.RoomID)

	r.log.Info("joined room",
		zap.String("connectionId", c.ID),
		zap.String("roomId", data.RoomID),
		zap.String("userName", data.UserName))

	c.Emit(EventJoinedRoom, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   "you",
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("You joined the room, %s", roomDisplayName(data)),
			IsAnnouncement: true,
		},
		"userName": data.UserName,
	})

	r.publishToRoom(ctx, data.RoomID, c.ID, EventOtherJoinedRoom, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   data.UserName,
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("%s joined the room, %s", data.UserName, roomDisplayName(data)),
			IsAnnouncement: true,
		},
	})

	// The rooms directory is public; every connected socket hears about
	// the change, not just room members.
	r.publishGlobal(ctx, c.ID, EventSendRoomsList, r.roomsDirectory())
}

// handleLeaveRoom is the inverse of handleJoinRoom; the last local member
// leaving tears the fabric subscription down, leaving the registry
// indistinguishable from never having joined.
func (r *Relay) handleLeaveRoom(ctx context.Context, c *Client, claims *Claims, data RoomData) {
	now := formatEventTime(time.Now())

	r.publishToRoom(ctx, data.RoomID, c.ID, EventLeftRoom, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   data.UserName,
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("%s left the room", data.UserName),
			IsAnnouncement: true,
		},
	})

	r.leaveRoomSubscription(ctx, c.ID, data.RoomID)

	c.Emit(EventLeftRoom, map[string]interface{}{
		"roomId": data.RoomID,
		"message": ChatMessage{
			Key:            messageKey(),
			FromUserName:   "you",
			FromUserImgSrc: data.UserImgSrc,
			Time:           now,
			Text:           fmt.Sprintf("You left the room, %s", roomDisplayName(data)),
			IsAnnouncement: true,
		},
	})

	r.log.Info("left room",
		zap.String("connectionId", c.ID),
		zap.String("roomId", data.RoomID),
		zap.String("userName", data.UserName))

	r.publishGlobal(ctx, c.ID, EventSendRoomsList, r.roomsDirectory())
}

func roomDisplayName(data RoomData) string {
	if data.RoomName != "" {
		return data.RoomName
	}
	return data.RoomID
}
