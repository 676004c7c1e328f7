package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Cache implements ports.CounterCache in memory.
// Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	values map[string]cached
	now    func() time.Time
}

type cached struct {
	value   string
	expires time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{values: make(map[string]cached), now: time.Now}
}

func (c *Cache) lookup(key string) (cached, bool) {
	v, ok := c.values[key]
	if ok && !v.expires.IsZero() && !c.now().Before(v.expires) {
		delete(c.values, key)
		return cached{}, false
	}
	return v, ok
}

func (c *Cache) add(key string, delta, initial int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := initial
	v, ok := c.lookup(key)
	if ok {
		parsed, err := strconv.ParseInt(v.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n += delta
	v.value = strconv.FormatInt(n, 10)
	c.values[key] = v
	return n, nil
}

// Incr adds delta to key, starting from initial when absent.
func (c *Cache) Incr(ctx context.Context, key string, delta, initial int64) (int64, error) {
	return c.add(key, delta, initial)
}

// Decr subtracts delta from key, starting from initial when absent.
func (c *Cache) Decr(ctx context.Context, key string, delta, initial int64) (int64, error) {
	return c.add(key, -delta, initial)
}

// Get returns the stored value.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookup(key)
	return v.value, ok, nil
}

// SetIfAbsent stores value unless key exists.
func (c *Cache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	v := cached{value: value}
	if ttl > 0 {
		v.expires = c.now().Add(ttl)
	}
	c.values[key] = v
	return true, nil
}

// Evict drops keys, or everything when none are given. Tests use it to
// simulate cache eviction.
func (c *Cache) Evict(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.values = make(map[string]cached)
		return
	}
	for _, key := range keys {
		delete(c.values, key)
	}
}
