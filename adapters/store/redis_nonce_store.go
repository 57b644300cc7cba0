package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/redis/go-redis/v9"
)

const (
	// retiredTTL is how long spent nonces are remembered so that late
	// signatures over them can be told apart from forged ones
	retiredTTL = time.Hour
	retiredMax = 8
)

// RedisNonceStore is a Redis implementation of the NonceStore interface
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisNonceStore creates a new Redis nonce store
func NewRedisNonceStore(client *redis.Client) ports.NonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "passport:nonce:",
	}
}

// Issue makes nonce the only active nonce for address
func (s *RedisNonceStore) Issue(ctx context.Context, address, nonce string, ttl time.Duration) error {
	prev, err := s.client.SetArgs(ctx, s.prefix+address, nonce, redis.SetArgs{TTL: ttl, Get: true}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to issue nonce: %w", err)
	}
	if prev != "" {
		return s.retire(ctx, address, prev)
	}
	return nil
}

// Consume atomically removes and returns the active nonce for address
func (s *RedisNonceStore) Consume(ctx context.Context, address string) (string, error) {
	nonce, err := s.client.GetDel(ctx, s.prefix+address).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrChallengeExpiredOrConsumed
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume nonce: %w", err)
	}
	if err := s.retire(ctx, address, nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// Retired lists recently consumed or superseded nonces for address
func (s *RedisNonceStore) Retired(ctx context.Context, address string) ([]string, error) {
	nonces, err := s.client.LRange(ctx, s.retiredKey(address), 0, retiredMax-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list retired nonces: %w", err)
	}
	return nonces, nil
}

func (s *RedisNonceStore) retire(ctx context.Context, address, nonce string) error {
	key := s.retiredKey(address)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, nonce)
		pipe.LTrim(ctx, key, 0, retiredMax-1)
		pipe.Expire(ctx, key, retiredTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retire nonce: %w", err)
	}
	return nil
}

func (s *RedisNonceStore) retiredKey(address string) string {
	return s.prefix + "retired:" + address
}
