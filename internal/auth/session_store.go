package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore remembers which identity a browser session is signed in as,
// so a restarted server can restore it.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*Identity, error)
	Save(ctx context.Context, sessionID string, id Identity) error
	Delete(ctx context.Context, sessionID string) error
}

type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return "auth:session:" + sessionID
}

// Load returns nil, nil when the session is not signed in.
func (s *RedisSessionStore) Load(ctx context.Context, sessionID string) (*Identity, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load auth session: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("decode auth session: %w", err)
	}
	return &id, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sessionID string, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save auth session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete auth session: %w", err)
	}
	return nil
}
