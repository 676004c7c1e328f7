// Package semaphore implements a run-once guard: the first caller to commit
// a key wins and every later caller learns what the winner stored.
//
// The DurableStore is authoritative. The CounterCache only short-circuits
// repeated checks; losing a cache entry can cost a store round trip but can
// never produce a second successful commit.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
)

const cachePrefix = "semaphore-"

// Semaphore guards keys against a second commit.
type Semaphore struct {
	store    ports.DurableStore
	cache    ports.CounterCache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Semaphore.
type Option func(*Semaphore)

// WithCacheTTL bounds how long committed payloads stay in the cache.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Semaphore) { s.cacheTTL = d }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Semaphore) { s.logger = logger }
}

// WithClock sets the clock stamped on records.
func WithClock(now func() time.Time) Option {
	return func(s *Semaphore) { s.now = now }
}

// New creates a semaphore. cache may be nil.
func New(store ports.DurableStore, cache ports.CounterCache, opts ...Option) *Semaphore {
	s := &Semaphore{
		store:    store,
		cache:    cache,
		cacheTTL: 24 * time.Hour,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryCommit records payload under key unless the key is already committed.
// It reports whether this call committed and returns the stored payload,
// which is the winner's when committed is false.
func (s *Semaphore) TryCommit(ctx context.Context, key, payload string) (bool, string, error) {
	if stored, ok := s.cached(ctx, key); ok {
		return false, stored, nil
	}
	created, existing, err := s.store.Insert(ctx, ports.Record{
		Kind:    domain.KindSemaphore,
		Key:     key,
		Payload: []byte(payload),
		Created: s.now().UTC(),
	})
	if err != nil {
		return false, "", fmt.Errorf("semaphore %s: %w", key, err)
	}
	stored := payload
	if !created {
		stored = string(existing.Payload)
	}
	s.remember(ctx, key, stored)
	return created, stored, nil
}

// Read returns the payload committed under key, if any.
func (s *Semaphore) Read(ctx context.Context, key string) (string, bool, error) {
	if stored, ok := s.cached(ctx, key); ok {
		return stored, true, nil
	}
	rec, err := s.store.Get(ctx, domain.KindSemaphore, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("semaphore %s: %w", key, err)
	}
	s.remember(ctx, key, string(rec.Payload))
	return string(rec.Payload), true, nil
}

func (s *Semaphore) cached(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, ok, err := s.cache.Get(ctx, cachePrefix+key)
	if err != nil {
		s.logger.Warn("semaphore cache read failed", "key", key, "err", err)
		return "", false
	}
	return v, ok
}

func (s *Semaphore) remember(ctx context.Context, key, payload string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.SetIfAbsent(ctx, cachePrefix+key, payload, s.cacheTTL); err != nil {
		s.logger.Warn("semaphore cache write failed", "key", key, "err", err)
	}
}
