package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/session"
)

// handleLogin creates the user-connection session and announces the user's
// presence to their social connections. A failed session write is logged
// and degrades the login (no SESSION_CREATED) rather than aborting it; TTL
// expiry bounds the damage of the missing record.
func (r *Relay) handleLogin(ctx context.Context, c *Client, data LoginData) {
	now := formatEventTime(time.Now())

	user := session.User{
		ID:        data.ID,
		UserName:  data.UserName,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		IDToken:   data.IDToken,
		Status:    session.StatusActive,
	}

	rec := &session.Record{
		App:          r.appName,
		ConnectionID: c.ID,
		IP:           c.ip,
		TTL:          r.sessionTTL,
		User:         user,
	}

	stored, err := r.store.Create(ctx, rec)
	if err != nil {
		r.log.Error("session create failed",
			zap.String("connectionId", c.ID),
			zap.String("userName", data.UserName),
			zap.Error(err))
	} else {
		c.Emit(EventSessionCreated, stored)
		r.notifyConnections(ctx, c, user, EventActiveConnectionLoggedIn)
	}

	r.log.Info("user logged in",
		zap.String("connectionId", c.ID),
		zap.String("userName", data.UserName),
		zap.String("ip", c.ip))

	c.Emit(EventUserLoginSuccess, map[string]interface{}{
		"message": ChatMessage{
			Key:  messageKey(),
			Time: now,
			Text: "You have been logged in successfully.",
		},
		"userName": data.UserName,
	})
}

// handleLogout removes the session and announces the departure. Allowed
// while anonymous; a logout with no profile data just clears whatever
// session the connection holds.
func (r *Relay) handleLogout(ctx context.Context, c *Client, data LoginData) {
	now := formatEventTime(time.Now())

	if data.ID != "" {
		user := session.User{
			ID:       data.ID,
			UserName: data.UserName,
		}
		r.notifyConnections(ctx, c, user, EventActiveConnectionLoggedOut)
	}

	if err := r.store.Remove(ctx, c.ID); err != nil {
		r.log.Warn("session remove failed",
			zap.String("connectionId", c.ID),
			zap.Error(err))
	}
	c.Emit(EventSessionClosed, map[string]interface{}{})

	c.Emit(EventUserLogoutSuccess, map[string]interface{}{
		"message": ChatMessage{
			Key:  messageKey(),
			Time: now,
			Text: "You have been logged out successfully.",
		},
		"userName": data.UserName,
	})

	r.log.Info("user logged out",
		zap.String("connectionId", c.ID),
		zap.String("userName", data.UserName))
}

// handleUpdateSession re-keys the session on reconnect or refresh: the
// previous connection id's index entry is retired so stale lookups cannot
// resolve to it, and peers are told to re-point at the new connection id.
func (r *Relay) handleUpdateSession(ctx context.Context, c *Client, claims *Claims, data UpdateSessionData) {
	user := session.User{
		ID:                   data.ID,
		UserName:             data.UserName,
		FirstName:            data.FirstName,
		LastName:             data.LastName,
		IDToken:              data.IDToken,
		Status:               session.StatusActive,
		PreviousConnectionID: data.PreviousConnectionID,
	}

	rec := &session.Record{
		App:          r.appName,
		ConnectionID: c.ID,
		IP:           c.ip,
		TTL:          r.sessionTTL,
		User:         user,
	}

	stored, err := r.store.Update(ctx, rec)
	if err != nil {
		r.log.Error("session update failed",
			zap.String("connectionId", c.ID),
			zap.String("previousConnectionId", data.PreviousConnectionID),
			zap.String("userName", data.UserName),
			zap.Error(err))
		return
	}

	c.Emit(EventSessionUpdated, stored)
	r.notifyConnections(ctx, c, user, EventActiveConnectionRefreshed)

	r.log.Info("session refreshed",
		zap.String("connectionId", c.ID),
		zap.String("previousConnectionId", data.PreviousConnectionID),
		zap.String("userName", data.UserName))
}
