package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores encoded signals by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func sentimentKey(subject string) string { return "sentiment:" + subject }
func momentumKey(subject string) string  { return "momentum:" + subject }

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// RedisCache keeps signals in redis so several servers share one view.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func cacheGet[T any](ctx context.Context, c Cache, key string) (*T, bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return &v, true, nil
}

func cachePut(ctx context.Context, c Cache, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// PutSentiment caches s under its subject.
func PutSentiment(ctx context.Context, c Cache, s SentimentSignal, ttl time.Duration) error {
	return cachePut(ctx, c, sentimentKey(s.Subject), s, ttl)
}

// PutMomentum caches m under its subject.
func PutMomentum(ctx context.Context, c Cache, m MomentumSignal, ttl time.Duration) error {
	return cachePut(ctx, c, momentumKey(m.Subject), m, ttl)
}
