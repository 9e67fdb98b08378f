package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisStore shares target cooldowns across instances. Each cooldown is a
// plain key with a TTL; Redis expiry does the pruning.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Active reports whether target is still cooling down.
func (r *RedisStore) Active(ctx context.Context, target string) (bool, error) {
	count, err := r.client.Exists(ctx, redisKey(target)).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown/redis: exists: %w", err)
	}
	return count > 0, nil
}

// Set places target on cooldown for ttl.
func (r *RedisStore) Set(ctx context.Context, target string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, redisKey(target), "1", ttl).Err(); err != nil {
		return fmt.Errorf("cooldown/redis: set: %w", err)
	}
	return nil
}

func redisKey(target string) string {
	return "chainhound:cooldown:" + target
}
