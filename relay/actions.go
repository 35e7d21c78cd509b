package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rili-live/therr-app-sub008/rest"
	"github.com/rili-live/therr-app-sub008/session"
)

// ActionType routes an envelope to its handler and determines whether the
// action requires authentication.
type ActionType string

// Client -> server actions.
const (
	ActionLogin                  ActionType = "LOGIN"
	ActionLogout                 ActionType = "LOGOUT"
	ActionUpdateSession          ActionType = "UPDATE_SESSION"
	ActionJoinRoom               ActionType = "JOIN_ROOM"
	ActionExitRoom               ActionType = "EXIT_ROOM"
	ActionSendMessage            ActionType = "SEND_MESSAGE"
	ActionSendDirectMessage      ActionType = "SEND_DIRECT_MESSAGE"
	ActionUpdateNotification     ActionType = "UPDATE_NOTIFICATION"
	ActionLoadActiveConnections  ActionType = "LOAD_ACTIVE_CONNECTIONS"
	ActionCreateUserConnection   ActionType = "CREATE_USER_CONNECTION"
	ActionUpdateUserConnection   ActionType = "UPDATE_USER_CONNECTION"
	ActionCreateOrUpdateReaction ActionType = "CREATE_OR_UPDATE_REACTION"
)

// Server -> client events.
const (
	EventSessionCreated            ActionType = "SESSION_CREATED"
	EventSessionUpdated            ActionType = "SESSION_UPDATED"
	EventSessionClosed             ActionType = "SESSION_CLOSED"
	EventUserLoginSuccess          ActionType = "USER_LOGIN_SUCCESS"
	EventUserLogoutSuccess         ActionType = "USER_LOGOUT_SUCCESS"
	EventJoinedRoom                ActionType = "JOINED_ROOM"
	EventOtherJoinedRoom           ActionType = "OTHER_JOINED_ROOM"
	EventLeftRoom                  ActionType = "LEFT_ROOM"
	EventSendRoomsList             ActionType = "SEND_ROOMS_LIST"
	EventSendMessage               ActionType = "SEND_MESSAGE"
	EventSendDirectMessage         ActionType = "SEND_DIRECT_MESSAGE"
	EventNotificationCreated       ActionType = "NOTIFICATION_CREATED"
	EventNotificationUpdated       ActionType = "NOTIFICATION_UPDATED"
	EventUserConnectionUpdated     ActionType = "USER_CONNECTION_UPDATED"
	EventActiveConnectionLoggedIn  ActionType = "ACTIVE_CONNECTION_LOGGED_IN"
	EventActiveConnectionLoggedOut ActionType = "ACTIVE_CONNECTION_LOGGED_OUT"
	EventActiveConnectionRefreshed ActionType = "ACTIVE_CONNECTION_REFRESHED"
	EventActiveConnectionsLoaded   ActionType = "ACTIVE_CONNECTIONS_LOADED"
	EventUnauthorized              ActionType = "UNAUTHORIZED"
)

// Envelope is the unit of client<->server communication. Data stays raw on
// the inbound path until the action type selects its payload struct.
type Envelope struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(t ActionType, data interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
	}
	return json.Marshal(Envelope{Type: t, Data: raw})
}

// decodeData decodes an envelope's payload into its typed struct.
func decodeData(env Envelope, out interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s is missing data", ErrMalformedAction, env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedAction, env.Type, err)
	}
	return nil
}

// commonDateFormat mirrors the display format chat clients expect,
// e.g. "March 4/26, 2:05pm".
const commonDateFormat = "January 2/06, 3:04pm"

// ChatMessage is the message shape embedded in room and direct-message
// events.
type ChatMessage struct {
	ID             string `json:"id,omitempty"`
	Key            string `json:"key,omitempty"`
	FromUserName   string `json:"fromUserName,omitempty"`
	FromUserImgSrc string `json:"fromUserImgSrc,omitempty"`
	Time           string `json:"time"`
	Text           string `json:"text"`
	IsAnnouncement bool   `json:"isAnnouncement,omitempty"`
}

// LoginData also serves LOGOUT, which echoes the profile back.
type LoginData struct {
	ID        string `json:"id"`
	UserName  string `json:"userName"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	IDToken   string `json:"idToken,omitempty"`
}

type UpdateSessionData struct {
	LoginData
	PreviousConnectionID string `json:"previousSocketId,omitempty"`
}

type RoomData struct {
	RoomID     string `json:"roomId"`
	RoomName   string `json:"roomName,omitempty"`
	UserName   string `json:"userName,omitempty"`
	UserImgSrc string `json:"userImgSrc,omitempty"`
}

type RoomMessageData struct {
	RoomID     string `json:"roomId"`
	RoomName   string `json:"roomName,omitempty"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserImgSrc string `json:"userImgSrc,omitempty"`
	Message    string `json:"message"`
}

type DirectMessageTarget struct {
	ID           string `json:"id"`
	ConnectionID string `json:"socketId,omitempty"`
}

type DirectMessageData struct {
	To         DirectMessageTarget `json:"to"`
	UserID     string              `json:"userId"`
	UserName   string              `json:"userName"`
	UserImgSrc string              `json:"userImgSrc,omitempty"`
	Message    string              `json:"message"`
}

// NotificationData keeps the notification as a loose map so the
// NOTIFICATION_UPDATED emit can merge the REST response over the original
// fields the client sent.
type NotificationData struct {
	Notification map[string]interface{} `json:"notification"`
	UserName     string                 `json:"userName,omitempty"`
}

type PendingConnection struct {
	ID               string                 `json:"id,omitempty"`
	RequestingUserID string                 `json:"requestingUserId,omitempty"`
	AcceptingUserID  string                 `json:"acceptingUserId"`
	Notification     map[string]interface{} `json:"notification,omitempty"`
}

type CreateConnectionData struct {
	Connection PendingConnection `json:"connection"`
	User       session.User      `json:"user"`
}

type UpdateConnectionData struct {
	Connection rest.UserConnectionUpdate `json:"connection"`
	User       session.User              `json:"user"`
}

type LoadActiveConnectionsData struct {
	UserID      string                `json:"userId"`
	Connections []rest.UserConnection `json:"connections"`
}

// ContentReaction is one user's reaction to a moment, space or thought.
// Only one of the id fields is set, matching the content kind.
type ContentReaction struct {
	MomentID          string `json:"momentId,omitempty"`
	SpaceID           string `json:"spaceId,omitempty"`
	ThoughtID         string `json:"thoughtId,omitempty"`
	UserID            string `json:"userId"`
	UserHasLiked      bool   `json:"userHasLiked"`
	UserHasSuperLiked bool   `json:"userHasSuperLiked"`
}

type ReactionData struct {
	MomentReaction  *ContentReaction `json:"momentReaction,omitempty"`
	SpaceReaction   *ContentReaction `json:"spaceReaction,omitempty"`
	ThoughtReaction *ContentReaction `json:"thoughtReaction,omitempty"`
	AreaUserID      string           `json:"areaUserId,omitempty"`
	ThoughtUserID   string           `json:"thoughtUserId,omitempty"`
	ReactorUserName string           `json:"reactorUserName"`
}

func formatEventTime(t time.Time) string {
	return t.Format(commonDateFormat)
}

func messageKey() string {
	return fmt.Sprintf("%d", time.Now().UnixMilli())
}
