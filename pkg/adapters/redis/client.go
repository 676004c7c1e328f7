// Package redis implements the Fantasm ports on top of Redis.
//
// All adapters share one client and a key prefix (default "fantasm:").
// Key layout:
//
//	<prefix>rec:<kind>:<key>                 record JSON (DurableStore)
//	<prefix>idx:<kind>:<field>:<value>       ZSET of record keys
//	<prefix>cnt:<key>                        counters and values (CounterCache)
//	<prefix>queue:schedule                   ZSET of task ids scored by ETA
//	<prefix>queue:tasks                      HASH of task id -> task JSON
//	<prefix>queue:name:<name>                task name tombstone
package redis

import (
	"context"
	"fmt"

	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the adapters.
const DefaultPrefix = "fantasm:"

// Option configures an adapter.
type Option func(*options)

type options struct {
	prefix string
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open parses a redis:// URL and returns a connected client.
func Open(ctx context.Context, url string) (*backend.Client, error) {
	opt, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := backend.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func ping(ctx context.Context, client *backend.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
