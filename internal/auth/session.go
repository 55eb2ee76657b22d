package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	SessionCookie     = "session_id"

	sessionPrefix = "kepin:session:"
)

// SessionStore keeps session ids in Redis. Sessions slide: every successful
// lookup pushes the expiry out by the TTL again.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) TTL() time.Duration { return s.ttl }

// Create opens a session for userID and returns its id.
func (s *SessionStore) Create(ctx context.Context, userID string) (string, error) {
	sid := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionPrefix+sid, userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return sid, nil
}

// Get resolves a session to its user id. Unknown and expired sessions give
// "" with no error.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	userID, err := s.rdb.GetEx(ctx, sessionPrefix+sessionID, s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return userID, err
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionPrefix+sessionID).Err()
}

var _ Sessions = (*SessionStore)(nil)
