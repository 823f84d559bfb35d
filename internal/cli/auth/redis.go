package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens in Redis so several processes on a host (or a fleet
// of headless agents) can share one login.
type RedisStore struct {
	rc     *redis.Client
	prefix string
}

// NewRedisStore returns a new RedisStore using the provided client. Keys will
// be stored with the provided prefix.
func NewRedisStore(rc *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rc: rc, prefix: prefix}
}

func (rs *RedisStore) tokenKey(key string) string {
	return fmt.Sprintf("%s:%s", rs.prefix, key)
}

// SaveToken stores the token without expiry; the server owns token lifetime.
func (rs *RedisStore) SaveToken(ctx context.Context, key, token string) error {
	if err := rs.rc.Set(ctx, rs.tokenKey(key), token, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token to Redis: %w", err)
	}
	return nil
}

func (rs *RedisStore) LoadToken(ctx context.Context, key string) (string, error) {
	val, err := rs.rc.Get(ctx, rs.tokenKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token from Redis: %w", err)
	}
	return val, nil
}

// DeleteToken is idempotent: deleting a missing key is not an error.
func (rs *RedisStore) DeleteToken(ctx context.Context, key string) error {
	if err := rs.rc.Del(ctx, rs.tokenKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from Redis: %w", err)
	}
	return nil
}
