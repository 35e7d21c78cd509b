package session

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps failures to reach the backing store. Callers are
// expected to log and degrade rather than fail the client-facing action.
var ErrUnavailable = errors.New("session store unavailable")

// User is the session payload stored per authenticated user. The embedded
// ConnectionID is transport routing metadata, not part of the user profile;
// GetByUserID strips it into a sibling field before returning.
type User struct {
	ID                   string `json:"id"`
	UserName             string `json:"userName"`
	FirstName            string `json:"firstName,omitempty"`
	LastName             string `json:"lastName,omitempty"`
	IDToken              string `json:"idToken,omitempty"`
	Status               string `json:"status,omitempty"`
	ConnectionID         string `json:"socketId,omitempty"`
	PreviousConnectionID string `json:"previousSocketId,omitempty"`
}

// User presence statuses.
const (
	StatusActive = "active"
	StatusAway   = "away"
)

// Record is a user-connection pairing as written to the store.
type Record struct {
	App          string        `json:"app"`
	ConnectionID string        `json:"socketId"`
	IP           string        `json:"ip"`
	TTL          time.Duration `json:"-"`
	User         User          `json:"data"`
}

// Resolved pairs a user payload with the connection currently carrying it.
type Resolved struct {
	User         User
	ConnectionID string
}

// Store is the session store client. Writes to the two index families
// (connection id -> user id, user id -> payload) must be pipelined so no
// reader can observe one entry without the other.
type Store interface {
	// Create writes both index entries with the record's TTL. If the user
	// already holds a session, the write re-keys it like Update.
	Create(ctx context.Context, rec *Record) (*Record, error)
	// Update re-keys a session on reconnect: writes both entries and
	// deletes the index entry for the user's previous connection id.
	Update(ctx context.Context, rec *Record) (*Record, error)
	// Remove deletes the session. Used on logout.
	Remove(ctx context.Context, connectionID string) error
	// UpdateStatus rewrites the user payload in place with a new presence
	// status, preserving the connection id.
	UpdateStatus(ctx context.Context, user *User, status string) error
	// GetByConnectionID answers "who is this socket". Returns nil, nil
	// when no session exists.
	GetByConnectionID(ctx context.Context, connectionID string) (*User, error)
	// GetByUserID answers "is this user online, and on which connection".
	// Returns nil, nil when the user has no session.
	GetByUserID(ctx context.Context, userID string) (*Resolved, error)
	// GetManyByUserIDs batch-resolves sessions in a single round trip.
	// Absent users are omitted; idTokens are stripped from the results.
	GetManyByUserIDs(ctx context.Context, userIDs []string) ([]User, error)
	// ShouldNotify reports whether a throttled notification keyed by key
	// may fire, and arms the throttle for minWait when it does.
	ShouldNotify(ctx context.Context, key string, minWait time.Duration) (bool, error)
}
