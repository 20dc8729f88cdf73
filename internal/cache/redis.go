package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// ErrUnavailable reports that the L2 store could not be reached or
// returned corrupt data. Callers recover it locally: a failed Get is a
// miss, a failed Put is dropped.
var ErrUnavailable = errors.New("l2 cache unavailable")

// RedisCache is the shared L2 tier. Entries are JSON-encoded and expire
// store-side after the configured TTL; the service never manages expiry
// itself.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis instance at redisURL.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opt), ttl: ttl}, nil
}

// NewRedisCacheWithClient wraps an existing client. Used by tests and by
// callers sharing one connection across components.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the entry for key, or (nil, nil) on a clean miss. Network
// and decode failures return ErrUnavailable.
func (rc *RedisCache) Get(ctx context.Context, key Key) (*models.CacheEntry, error) {
	data, err := rc.client.Get(ctx, key.RedisKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return &entry, nil
}

// Put stores the entry under key with the configured TTL.
func (rc *RedisCache) Put(ctx context.Context, key Key, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := rc.client.Set(ctx, key.RedisKey(), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
