package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/metrics"
	"github.com/rili-live/therr-app-sub008/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket accepts a websocket handshake and services the
// connection until it closes. The handshake token and locale are captured
// once; the token is re-verified per privileged action.
func (r *Relay) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get(r.cfg.Auth.TokenQueryParam)
	locale := req.URL.Query().Get(r.cfg.Auth.LocaleParam)
	if locale == "" {
		locale = defaultLocale
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	ip := req.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(req.RemoteAddr); splitErr == nil {
		ip = host
	}

	c := newClient(uuid.New().String(), conn, token, locale, ip, &r.cfg.WebSocket, r.log)
	r.addClient(c)
	r.wg.Add(1)

	conn.SetReadLimit(int64(r.cfg.WebSocket.MessageSizeLimit))
	conn.SetPongHandler(c.pongHandler())
	c.refreshDeadline()

	go c.writePump()
	go r.dispatchLoop(c)

	r.log.Info("new connection", zap.String("connectionId", c.ID), zap.String("ip", ip))

	// Send the current world state to the newly connected client.
	c.Emit(EventSendRoomsList, r.roomsDirectory())

	r.readLoop(c)
}

// readLoop decodes inbound frames into envelopes and queues them on the
// connection's single-consumer action channel, preserving receipt order.
func (r *Relay) readLoop(c *Client) {
	defer func() {
		close(c.actions)
		c.Close(websocket.CloseNormalClosure, "Client disconnected")
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				r.log.Debug("read error", zap.String("connectionId", c.ID), zap.Error(err))
			}
			return
		}
		c.refreshDeadline()

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			r.log.Warn("dropping malformed action",
				zap.String("connectionId", c.ID),
				zap.Error(err))
			continue
		}
		metrics.ActionsReceived.WithLabelValues(string(env.Type)).Inc()

		select {
		case c.actions <- env:
		case <-c.ctx.Done():
			return
		}
	}
}

// dispatchLoop drains the action channel; when the connection closes it
// runs the disconnect path.
func (r *Relay) dispatchLoop(c *Client) {
	defer r.wg.Done()

	for env := range c.actions {
		r.dispatch(c, env)
	}
	r.handleDisconnect(c)
}

// dispatch routes one action. LOGIN and LOGOUT may proceed anonymously;
// everything else is behind the auth gate. Handler errors never escape
// here: a dropped action must not crash the connection.
func (r *Relay) dispatch(c *Client, env Envelope) {
	ctx := c.ctx

	switch env.Type {
	case ActionLogin:
		var data LoginData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleLogin(ctx, c, data)

	case ActionLogout:
		var data LoginData
		// LOGOUT without data still clears the session.
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				r.logActionError(c, env.Type, err)
				return
			}
		}
		r.handleLogout(ctx, c, data)

	default:
		claims := r.auth.authenticate(c)
		if claims == nil {
			return
		}
		r.dispatchPrivileged(ctx, c, claims, env)
	}
}

func (r *Relay) dispatchPrivileged(ctx context.Context, c *Client, claims *Claims, env Envelope) {
	switch env.Type {
	case ActionUpdateSession:
		var data UpdateSessionData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleUpdateSession(ctx, c, claims, data)

	case ActionJoinRoom:
		var data RoomData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleJoinRoom(ctx, c, claims, data)

	case ActionExitRoom:
		var data RoomData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleLeaveRoom(ctx, c, claims, data)

	case ActionSendMessage:
		var data RoomMessageData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleSendMessage(ctx, c, claims, data)

	case ActionSendDirectMessage:
		var data DirectMessageData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleSendDirectMessage(ctx, c, claims, data)

	case ActionUpdateNotification:
		var data NotificationData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleUpdateNotification(ctx, c, claims, data)

	case ActionLoadActiveConnections:
		var data LoadActiveConnectionsData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleLoadActiveConnections(ctx, c, claims, data)

	case ActionCreateUserConnection:
		var data CreateConnectionData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleCreateConnection(ctx, c, claims, data)

	case ActionUpdateUserConnection:
		var data UpdateConnectionData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleUpdateConnection(ctx, c, claims, data)

	case ActionCreateOrUpdateReaction:
		var data ReactionData
		if err := decodeData(env, &data); err != nil {
			r.logActionError(c, env.Type, err)
			return
		}
		r.handleCreateOrUpdateReaction(ctx, c, claims, data)

	default:
		r.log.Debug("unknown action type",
			zap.String("connectionId", c.ID),
			zap.String("type", string(env.Type)))
	}
}

func (r *Relay) logActionError(c *Client, t ActionType, err error) {
	r.log.Warn("action dropped",
		zap.String("connectionId", c.ID),
		zap.String("type", string(t)),
		zap.Error(err))
}

// handleDisconnect runs when a connection is gone: leave every joined room
// with a departure announcement (only for connections that completed
// login), mark the user away, and fan presence out to their social
// connections. The session itself is kept; TTL expiry is the backstop that
// distinguishes a network blip from an explicit logout.
func (r *Relay) handleDisconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Rest.RequestTimeout)*time.Second)
	defer cancel()

	r.removeClient(c)
	r.leaveAndNotifyRooms(ctx, c)

	user, err := r.store.GetByConnectionID(ctx, c.ID)
	if err != nil {
		r.log.Warn("disconnect session lookup failed", zap.String("connectionId", c.ID), zap.Error(err))
		return
	}
	if user == nil {
		return // never logged in; nothing to announce
	}

	if err := r.store.UpdateStatus(ctx, user, session.StatusAway); err != nil {
		r.log.Warn("failed to mark user away", zap.String("userId", user.ID), zap.Error(err))
	}
	away := *user
	away.Status = session.StatusAway
	r.notifyConnections(ctx, c, away, EventActiveConnectionLoggedOut)

	r.log.Info("disconnected",
		zap.String("connectionId", c.ID),
		zap.String("userName", user.UserName))
}

// leaveAndNotifyRooms announces the departure to each room the connection
// had joined, but only when the session store can still resolve a username
// for it.
func (r *Relay) leaveAndNotifyRooms(ctx context.Context, c *Client) {
	departed := r.registry.Rooms(c.ID)
	if len(departed) == 0 {
		return
	}

	user, err := r.store.GetByConnectionID(ctx, c.ID)
	if err != nil {
		r.log.Debug("room departure lookup failed", zap.String("connectionId", c.ID), zap.Error(err))
	}

	for _, roomID := range departed {
		r.leaveRoomSubscription(ctx, c.ID, roomID)

		if user == nil || user.UserName == "" {
			continue
		}
		now := formatEventTime(time.Now())
		r.publishToRoom(ctx, roomID, c.ID, EventLeftRoom, map[string]interface{}{
			"roomId": roomID,
			"message": ChatMessage{
				Key:            messageKey(),
				FromUserName:   user.UserName,
				Time:           now,
				Text:           user.UserName + " left the room",
				IsAnnouncement: true,
			},
		})
	}
}
