// Package rest is the adapter for the external REST collaborators that own
// message, notification and user-connection persistence. The relay forwards
// the originating connection's bearer credential and locale on every call
// and never becomes the source of truth for these entities.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrUpstream wraps failed or timed-out collaborator calls. Handlers catch
// it, log, and commit no partial local state.
var ErrUpstream = errors.New("upstream request failed")

const (
	restMaxRetries     = 2
	restInitialBackoff = 200 * time.Millisecond
)

// Credentials carries the handshake token and locale forwarded upstream.
type Credentials struct {
	Token  string
	Locale string
}

type Client struct {
	http            *http.Client
	usersBaseURL    string
	messagesBaseURL string
	log             *zap.Logger
}

func NewClient(usersBaseURL, messagesBaseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		http:            &http.Client{Timeout: timeout},
		usersBaseURL:    usersBaseURL,
		messagesBaseURL: messagesBaseURL,
		log:             log,
	}
}

type DirectMessageInput struct {
	Message    string `json:"message"`
	ToUserID   string `json:"toUserId"`
	FromUserID string `json:"fromUserId"`
	IsUnread   bool   `json:"isUnread"`
}

type DirectMessage struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	ToUserID  string    `json:"toUserId"`
	CreatedAt time.Time `json:"createdAt"`
}

type NotificationInput struct {
	UserID           string            `json:"userId"`
	Type             string            `json:"type"`
	AssociationID    string            `json:"associationId,omitempty"`
	IsUnread         bool              `json:"isUnread"`
	MessageLocaleKey string            `json:"messageLocaleKey"`
	MessageParams    map[string]string `json:"messageParams,omitempty"`
	FromUserName     string            `json:"fromUserName,omitempty"`
}

type Notification struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Type          string          `json:"type"`
	AssociationID string          `json:"associationId,omitempty"`
	IsUnread      bool            `json:"isUnread"`
	MessageParams json.RawMessage `json:"messageParams,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

type ConnectionUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName,omitempty"`
}

type UserConnection struct {
	ID                 string           `json:"id"`
	RequestingUserID   string           `json:"requestingUserId"`
	AcceptingUserID    string           `json:"acceptingUserId"`
	RequestStatus      string           `json:"requestStatus,omitempty"`
	IsConnectionBroken bool             `json:"isConnectionBroken,omitempty"`
	InteractionCount   int              `json:"interactionCount,omitempty"`
	Users              []ConnectionUser `json:"users,omitempty"`
}

type UserConnectionUpdate struct {
	InteractionCount   int    `json:"interactionCount,omitempty"`
	IsConnectionBroken bool   `json:"isConnectionBroken"`
	OtherUserID        string `json:"otherUserId"`
	RequestStatus      string `json:"requestStatus,omitempty"`
}

// CreateDirectMessage persists a direct message and returns the stored
// record (generated id and timestamp included).
func (c *Client) CreateDirectMessage(ctx context.Context, creds Credentials, input DirectMessageInput) (*DirectMessage, error) {
	var out DirectMessage
	url := fmt.Sprintf("%s/direct-messages", c.messagesBaseURL)
	if err := c.do(ctx, http.MethodPost, url, creds, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateNotification persists a notification for a user (e.g. an offline
// direct-message recipient).
func (c *Client) CreateNotification(ctx context.Context, creds Credentials, input NotificationInput) (*Notification, error) {
	var out Notification
	url := fmt.Sprintf("%s/users/notifications", c.usersBaseURL)
	if err := c.do(ctx, http.MethodPost, url, creds, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNotification toggles a notification's read state.
func (c *Client) UpdateNotification(ctx context.Context, creds Credentials, notificationID string, isUnread bool) (*Notification, error) {
	var out Notification
	url := fmt.Sprintf("%s/users/notifications/%s", c.usersBaseURL, notificationID)
	body := map[string]bool{"isUnread": isUnread}
	if err := c.do(ctx, http.MethodPut, url, creds, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUserConnection updates the social connection between the caller and
// another user (accept, deny, break).
func (c *Client) UpdateUserConnection(ctx context.Context, creds Credentials, userID string, update UserConnectionUpdate) (*UserConnection, error) {
	var out UserConnection
	url := fmt.Sprintf("%s/users/connections/%s", c.usersBaseURL, userID)
	if err := c.do(ctx, http.MethodPut, url, creds, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchUserConnections loads the caller's social graph for presence fan-out.
func (c *Client) FetchUserConnections(ctx context.Context, creds Credentials, userID string) ([]UserConnection, error) {
	var out []UserConnection
	url := fmt.Sprintf("%s/users/connections?userId=%s&shouldCheckReverse=true", c.usersBaseURL, userID)
	if err := c.do(ctx, http.MethodGet, url, creds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, url string, creds Credentials, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+creds.Token)
		if creds.Locale != "" {
			req.Header.Set("x-localecode", creds.Locale)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Client errors won't improve on retry.
			return backoff.Permanent(fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(restInitialBackoff),
			),
			restMaxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		c.log.Warn("retrying upstream request",
			zap.String("method", method),
			zap.String("url", url),
			zap.Duration("nextAttemptIn", d),
			zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}
