package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements Store on Redis using two key families:
// userSockets:<connectionId> -> userId and users:<userId> -> JSON payload,
// both TTL-bound.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func NewRedisStore(client *redis.Client, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
	}
}

func connectionKey(connectionID string) string {
	return fmt.Sprintf("userSockets:%s", connectionID)
}

func userKey(userID string) string {
	return fmt.Sprintf("users:%s", userID)
}

func (s *RedisStore) ttl(rec *Record) time.Duration {
	if rec.TTL > 0 {
		return rec.TTL
	}
	return s.defaultTTL
}

// Create writes both index entries in one pipeline. A user who already has
// a session is re-keyed via Update so at most one authoritative payload
// exists per user id.
func (s *RedisStore) Create(ctx context.Context, rec *Record) (*Record, error) {
	existing, err := s.GetByUserID(ctx, rec.User.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		update := *rec
		update.User.PreviousConnectionID = existing.ConnectionID
		return s.Update(ctx, &update)
	}

	if err := s.writeIndexes(ctx, rec, ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update re-keys the session and deletes the stale reverse index entry for
// the previous connection id, so stale lookups cannot resolve to a user who
// has since reconnected.
func (s *RedisStore) Update(ctx context.Context, rec *Record) (*Record, error) {
	if err := s.writeIndexes(ctx, rec, rec.User.PreviousConnectionID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) writeIndexes(ctx context.Context, rec *Record, previousConnectionID string) error {
	ttl := s.ttl(rec)
	payload := rec.User
	payload.ConnectionID = rec.ConnectionID

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session payload: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previousConnectionID != "" {
			pipe.Del(ctx, connectionKey(previousConnectionID))
		}
		pipe.Set(ctx, connectionKey(rec.ConnectionID), rec.User.ID, ttl)
		pipe.Set(ctx, userKey(rec.User.ID), data, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Remove deletes both index entries for the connection.
func (s *RedisStore) Remove(ctx context.Context, connectionID string) error {
	user, err := s.GetByConnectionID(ctx, connectionID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if user != nil && user.ID != "" {
			pipe.Del(ctx, userKey(user.ID))
		}
		pipe.Del(ctx, connectionKey(connectionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateStatus rewrites the user payload with a new presence status,
// keeping the existing TTL clock by rewriting with the default TTL.
func (s *RedisStore) UpdateStatus(ctx context.Context, user *User, status string) error {
	payload := *user
	payload.Status = status

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session payload: %w", err)
	}
	if err := s.client.Set(ctx, userKey(user.ID), data, s.defaultTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetByConnectionID(ctx context.Context, connectionID string) (*User, error) {
	userID, err := s.client.Get(ctx, connectionKey(connectionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resolved, err := s.GetByUserID(ctx, userID)
	if err != nil || resolved == nil {
		return nil, err
	}
	user := resolved.User
	user.ConnectionID = resolved.ConnectionID
	return &user, nil
}

func (s *RedisStore) GetByUserID(ctx context.Context, userID string) (*Resolved, error) {
	data, err := s.client.Get(ctx, userKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session payload: %w", err)
	}

	resolved := &Resolved{
		User:         user,
		ConnectionID: user.ConnectionID,
	}
	// Routing metadata, not profile data.
	resolved.User.ConnectionID = ""
	return resolved, nil
}

// GetManyByUserIDs pipelines the lookups to avoid N sequential round trips.
func (s *RedisStore) GetManyByUserIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(userIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = pipe.Get(ctx, userKey(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	active := make([]User, 0, len(userIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue // absent or unreadable; omit
		}
		var user User
		if err := json.Unmarshal([]byte(data), &user); err != nil {
			continue
		}
		user.IDToken = ""
		active = append(active, user)
	}
	return active, nil
}

// ShouldNotify implements a lock-key throttle: the first caller within the
// window wins and arms the key for minWait.
func (s *RedisStore) ShouldNotify(ctx context.Context, key string, minWait time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, 1, minWait).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}
