package ports

import (
	"context"
	"time"
)

// CounterCache is a shared cache of integer counters and small values.
// Any entry may be evicted at any time; callers must treat a missing key as
// "unknown", never as "zero".
type CounterCache interface {
	// Incr adds delta to key and returns the new value. A missing key is
	// first initialised to initial.
	Incr(ctx context.Context, key string, delta, initial int64) (int64, error)

	// Decr subtracts delta from key and returns the new value. A missing key
	// is first initialised to initial.
	Decr(ctx context.Context, key string, delta, initial int64) (int64, error)

	// Get returns the raw value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetIfAbsent stores value under key unless the key exists. It reports
	// whether the value was stored. A zero ttl means no expiry.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
