package warmer

import (
	"context"
	"encoding/json"
	"fmt"

	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFragmentCache keeps warmed fragments in Redis so a prefetch
// buffer can outlive the process or be shared across workers. TTL
// handling is delegated to Redis key expiry.
type RedisFragmentCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisFragmentCache wraps an existing Redis client. keyPrefix
// namespaces the fragment keys (default "strata:frag:").
func NewRedisFragmentCache(client *redis.Client, keyPrefix string) *RedisFragmentCache {
	if keyPrefix == "" {
		keyPrefix = "strata:frag:"
	}
	return &RedisFragmentCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisFragmentCache) key(path string) string {
	return c.keyPrefix + path
}

// Get returns the fragment for path if present.
func (c *RedisFragmentCache) Get(ctx context.Context, path string) (Fragment, bool, error) {
	val, err := c.client.Get(ctx, c.key(path)).Result()
	if err == redis.Nil {
		return Fragment{}, false, nil
	}
	if err != nil {
		return Fragment{}, false, fmt.Errorf("fragment get: %w", err)
	}
	var frag Fragment
	if err := json.Unmarshal([]byte(val), &frag); err != nil {
		return Fragment{}, false, fmt.Errorf("unmarshal fragment: %w", err)
	}
	return frag, true, nil
}

// Put stores a fragment with the given TTL.
func (c *RedisFragmentCache) Put(ctx context.Context, frag Fragment, ttl time.Duration) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	if err := c.client.Set(ctx, c.key(frag.Path), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("fragment put: %w", err)
	}
	return nil
}

// Invalidate drops the named fragments.
func (c *RedisFragmentCache) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = c.key(p)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("fragment invalidate: %w", err)
	}
	return nil
}

// Flush drops every fragment under the prefix.
func (c *RedisFragmentCache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("fragment scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("fragment flush: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Len counts fragments currently cached under the prefix.
func (c *RedisFragmentCache) Len(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("fragment scan: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

var _ FragmentCache = (*RedisFragmentCache)(nil)
