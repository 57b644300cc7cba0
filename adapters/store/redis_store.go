package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the SessionStore interface
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a new Redis store keeping the credential under
// passport:<key>
func NewRedisStore(client *redis.Client, key string) ports.SessionStore {
	return &RedisStore{
		client: client,
		key:    "passport:" + key,
	}
}

// Read returns the stored credential
func (s *RedisStore) Read(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s.key, err)
	}
	return val, nil
}

// Write stores the credential without expiry; the identity service decides
// when it stops being valid
func (s *RedisStore) Write(ctx context.Context, credential string) error {
	if err := s.client.Set(ctx, s.key, credential, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.key, err)
	}
	return nil
}

// Clear removes the stored credential
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.key, err)
	}
	return nil
}
