// Package fanin implements the counter-based read/write lock that lets many
// sibling contexts deposit work packages while exactly one batch task drains
// them.
//
// The lock is soft. It relies on counters in a CounterCache that may be
// evicted, and the reader waits for writers with a bounded busy-wait. When
// the bound is hit the reader proceeds anyway and late writers are picked
// up by nobody; fan-in delays should be sized so this does not happen.
package fanin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
)

const (
	// Bias is the value a lock counter starts from. Writers add one each.
	Bias int64 = 1 << 16
	// drain is subtracted by the reader; a counter at or below it means no
	// writer holds the lock.
	drain int64 = 1 << 15

	knuth = 2654435761
)

// Defaults for the reader busy-wait.
const (
	DefaultPollIterations = 20
	DefaultPollInterval   = 100 * time.Millisecond
)

// Lock coordinates the siblings converging on one fan-in transition,
// identified by its task name base.
type Lock struct {
	cache    ports.CounterCache
	base     string
	polls    int
	interval time.Duration
	indexTTL time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	seed     func() int64
}

// Option configures a Lock.
type Option func(*Lock)

// WithPolling bounds the reader busy-wait.
func WithPolling(iterations int, interval time.Duration) Option {
	return func(l *Lock) {
		l.polls = iterations
		l.interval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) { l.logger = logger }
}

// NewLock creates the lock for taskNameBase.
func NewLock(cache ports.CounterCache, taskNameBase string, opts ...Option) *Lock {
	l := &Lock{
		cache:    cache,
		base:     taskNameBase,
		polls:    DefaultPollIterations,
		interval: DefaultPollInterval,
		indexTTL: 24 * time.Hour,
		logger:   logging.NewNop(),
		sleep:    sleepCtx,
		seed:     func() int64 { return Bias + rand.Int64N(1<<30) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Lock) indexKey() string { return "index-" + l.base }

func (l *Lock) lockKey(index int64) string {
	return fmt.Sprintf("%s-lock-%d", l.indexKey(), index)
}

// CurrentIndex returns the batch index writers should join, creating it
// with a random large value the first time.
func (l *Lock) CurrentIndex(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := l.cache.SetIfAbsent(ctx, l.indexKey(), strconv.FormatInt(l.seed(), 10), l.indexTTL); err != nil {
			return 0, fmt.Errorf("fan-in index %s: %w", l.base, err)
		}
		v, ok, err := l.cache.Get(ctx, l.indexKey())
		if err != nil {
			return 0, fmt.Errorf("fan-in index %s: %w", l.base, err)
		}
		if !ok {
			continue
		}
		index, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("fan-in index %s: corrupt value %q", l.base, v)
		}
		return index, nil
	}
	return 0, fmt.Errorf("fan-in index %s was evicted while being read", l.base)
}

// AcquireWrite registers a writer on index. It fails once a reader has
// started draining index.
func (l *Lock) AcquireWrite(ctx context.Context, index int64) error {
	n, err := l.cache.Incr(ctx, l.lockKey(index), 1, Bias)
	if err != nil {
		return fmt.Errorf("fan-in write lock %s: %w", l.base, err)
	}
	if n < Bias {
		if _, err := l.cache.Decr(ctx, l.lockKey(index), 1, Bias); err != nil {
			l.logger.Warn("failed to undo fan-in write lock", "base", l.base, "index", index, "err", err)
		}
		return &domain.FanInLockError{TaskNameBase: l.base, Index: index}
	}
	return nil
}

// ReleaseWrite releases a writer. Failures are logged: a leaked writer only
// makes the reader wait out its bound.
func (l *Lock) ReleaseWrite(ctx context.Context, index int64) {
	if _, err := l.cache.Decr(ctx, l.lockKey(index), 1, Bias); err != nil {
		l.logger.Warn("failed to release fan-in write lock", "base", l.base, "index", index, "err", err)
	}
}

// AcquireRead closes index to new writers and waits, for a bounded number
// of polls, until the writers already in have released. It reports whether
// the writers drained in time.
func (l *Lock) AcquireRead(ctx context.Context, index int64) (bool, error) {
	if _, err := l.cache.Incr(ctx, l.indexKey(), 1, l.seed()); err != nil {
		return false, fmt.Errorf("fan-in read lock %s: %w", l.base, err)
	}
	n, err := l.cache.Decr(ctx, l.lockKey(index), drain, Bias)
	if err != nil {
		return false, fmt.Errorf("fan-in read lock %s: %w", l.base, err)
	}
	for i := 0; ; i++ {
		if n <= drain {
			return true, nil
		}
		if i >= l.polls {
			l.logger.Warn("fan-in writers did not drain", "base", l.base, "index", index, "writers", n-drain)
			return false, nil
		}
		if err := l.sleep(ctx, l.interval); err != nil {
			return false, err
		}
		v, ok, err := l.cache.Get(ctx, l.lockKey(index))
		if err != nil {
			return false, fmt.Errorf("fan-in read lock %s: %w", l.base, err)
		}
		if !ok {
			// Evicted: nobody can tell anymore, proceed.
			return true, nil
		}
		if n, err = strconv.ParseInt(v, 10, 64); err != nil {
			return false, fmt.Errorf("fan-in read lock %s: corrupt value %q", l.base, v)
		}
	}
}

// WorkIndex is the value every work package of one batch is indexed by.
func WorkIndex(taskNameBase string, index int64) string {
	return fmt.Sprintf("%s-%d", taskNameBase, knuthHash(index))
}

// BatchTaskName names the single task that merges batch index.
func BatchTaskName(taskNameBase string, index int64) string {
	return taskNameBase + "--" + strconv.FormatInt(index, 10)
}

// knuthHash spreads consecutive indexes over the key space.
func knuthHash(n int64) uint32 {
	return uint32(uint64(n) * knuth % (1 << 32))
}
