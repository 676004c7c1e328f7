package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, task domain.Task) error

func (f handlerFunc) HandleTask(ctx context.Context, task domain.Task) error { return f(ctx, task) }

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestProcessOne_Empty(t *testing.T) {
	w := New(handlerFunc(func(ctx context.Context, task domain.Task) error { return nil }), memory.NewQueue())
	processed, err := w.ProcessOne(context.Background())
	assert.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessOne_RetryWithBackoff(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	start := time.Unix(1_000_000, 0)
	clock, advance := fixedClock(start)

	var calls int32
	w := New(handlerFunc(func(ctx context.Context, task domain.Task) error {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, int(n-1), task.RetryCount)
		if n < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}), q, WithClock(clock))

	require.NoError(t, q.Enqueue(ctx, domain.Task{
		Name:  "flaky",
		ETA:   start,
		Retry: domain.RetryPolicy{Attempts: 5, MinBackoff: time.Second, MaxBackoff: time.Minute, MaxDoublings: 4},
	}))

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "retry is not due before its backoff")

	advance(time.Second)
	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	advance(time.Second)
	processed, _ = w.ProcessOne(ctx)
	assert.False(t, processed, "second backoff doubles")

	advance(time.Second)
	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Zero(t, q.Len())
}

func TestProcessOne_DropsPermanent(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	w := New(handlerFunc(func(ctx context.Context, task domain.Task) error {
		return domain.Permanent(errors.New("bad config"))
	}), q)

	require.NoError(t, q.Enqueue(ctx, domain.Task{Name: "t", Retry: domain.RetryPolicy{Attempts: 5}}))
	processed, err := w.ProcessOne(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, ErrDropped)
	assert.Zero(t, q.Len())
}

func TestProcessOne_DropsExhaustedAndExpired(t *testing.T) {
	ctx := context.Background()
	failing := handlerFunc(func(ctx context.Context, task domain.Task) error { return errors.New("boom") })

	q := memory.NewQueue()
	w := New(failing, q)
	require.NoError(t, q.Enqueue(ctx, domain.Task{Name: "spent", RetryCount: 2, Retry: domain.RetryPolicy{Attempts: 2}}))
	_, err := w.ProcessOne(ctx)
	assert.ErrorIs(t, err, ErrDropped)
	assert.ErrorContains(t, err, "retries exhausted")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, q.Enqueue(ctx, domain.Task{
		Name: "old", Created: old,
		Retry: domain.RetryPolicy{Attempts: 5, AgeLimit: time.Minute},
	}))
	_, err = w.ProcessOne(ctx)
	assert.ErrorIs(t, err, ErrDropped)
	assert.ErrorContains(t, err, "age limit")
	assert.Zero(t, q.Len())
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	var seen []string
	w := New(handlerFunc(func(ctx context.Context, task domain.Task) error {
		seen = append(seen, task.Name)
		if task.Name == "b" {
			return domain.Permanent(errors.New("nope"))
		}
		return nil
	}), q)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, domain.Task{Name: name}))
	}

	n, err := w.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	require.NoError(t, q.Enqueue(ctx, domain.Task{Name: "d"}))
	require.NoError(t, q.Enqueue(ctx, domain.Task{Name: "e"}))
	n, err = w.Drain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := memory.NewQueue()
	var calls int32
	w := New(handlerFunc(func(ctx context.Context, task domain.Task) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), q, WithConcurrency(2), WithPollInterval(time.Millisecond))
	require.NoError(t, q.Enqueue(ctx, domain.Task{Name: "x"}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
