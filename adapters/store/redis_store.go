package store

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/pearauth/ports"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pearauth:invalidated:"

// RedisStore shares invalidated tokens between instances through Redis
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) ports.Store {
	return &RedisStore{
		client: client,
		prefix: redisKeyPrefix,
	}
}

// InvalidateToken marks a token as invalidated; Redis expires the key
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.prefix+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	return n > 0, nil
}
