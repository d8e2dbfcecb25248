package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores JSON-encodable values with a time-to-live.
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
	prefix string
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+":"+key, raw, ttl).Err()
}

type memoryEntry struct {
	raw []byte
	exp time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nextGC  time.Time
	gcEvery time.Duration
	now     func() time.Time
}

// NewMemory returns a process-local cache.
func NewMemory() Cache {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		gcEvery: 10 * time.Minute,
		nextGC:  now().Add(10 * time.Minute),
		now:     now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.exp.After(c.now()) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{raw: raw, exp: now.Add(ttl)}
	if now.After(c.nextGC) {
		for k, e := range c.entries {
			if e.exp.Before(now) {
				delete(c.entries, k)
			}
		}
		c.nextGC = now.Add(c.gcEvery)
	}
	return nil
}

// New builds a Redis cache and falls back to in-memory on failure.
func New(addr, pass string, db int) (Cache, error) {
	if addr == "" {
		return NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemory(), err
	}

	return &redisCache{client: client, prefix: "ltvsync"}, nil
}
