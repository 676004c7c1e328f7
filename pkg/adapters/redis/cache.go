package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// incrWithInitial seeds a missing counter before adding to it, so callers
// can tell "evicted" from "zero".
var incrWithInitial = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[2])
	if tonumber(ARGV[3]) > 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[3])
	end
end
return redis.call("INCRBY", KEYS[1], ARGV[1])
`)

// Cache implements ports.CounterCache using Redis.
type Cache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a cache on client. Counters created by Incr or Decr
// expire after counterTTL; zero disables expiry.
func NewCache(client *backend.Client, counterTTL time.Duration, opts ...Option) *Cache {
	o := buildOptions(opts)
	return &Cache{client: client, prefix: o.prefix + "cnt:", ttl: counterTTL}
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Incr adds delta to key, seeding it with initial when absent.
func (c *Cache) Incr(ctx context.Context, key string, delta, initial int64) (int64, error) {
	n, err := incrWithInitial.Run(ctx, c.client, []string{c.key(key)},
		delta, initial, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// Decr subtracts delta from key, seeding it with initial when absent.
func (c *Cache) Decr(ctx context.Context, key string, delta, initial int64) (int64, error) {
	return c.Incr(ctx, key, -delta, initial)
}

// Get returns the raw value under key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, backend.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// SetIfAbsent stores value with SET NX.
func (c *Cache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Ping implements ports.Pinger.
func (c *Cache) Ping(ctx context.Context) error { return ping(ctx, c.client) }
