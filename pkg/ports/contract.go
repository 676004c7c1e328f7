package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Queue is a TaskQueue that can also be consumed.
type Queue interface {
	TaskQueue
	TaskSource
}

// RunTaskQueueContract runs a suite of tests to verify that a queue
// implementation adheres to the TaskQueue and TaskSource contracts.
// The queue must be empty.
func RunTaskQueueContract(t *testing.T, q Queue) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Enqueue and Lease", func(t *testing.T) {
		task := domain.Task{
			Name:    prefix + "-a",
			Queue:   "default",
			Route:   domain.Route{Machine: "m", State: "s", Event: "e"},
			Payload: []byte(`{"k":"v"}`),
		}
		require.NoError(t, q.Enqueue(ctx, task))

		leased, err := q.Lease(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, leased, "due task should be leased")
		assert.Equal(t, task.Name, leased.Name)
		assert.Equal(t, task.Route, leased.Route)
		assert.Equal(t, task.Payload, leased.Payload)

		empty, err := q.Lease(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Nil(t, empty, "a leased task must not be delivered twice")
	})

	t.Run("Duplicate Name", func(t *testing.T) {
		task := domain.Task{Name: prefix + "-dup", Queue: "default"}
		require.NoError(t, q.Enqueue(ctx, task))
		assert.ErrorIs(t, q.Enqueue(ctx, task), domain.ErrDuplicateTask)

		leased, err := q.Lease(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, leased)

		assert.ErrorIs(t, q.Enqueue(ctx, task), domain.ErrDuplicateTask, "tombstones outlive delivery")
	})

	t.Run("ETA Ordering", func(t *testing.T) {
		base := time.Now().Add(time.Hour)
		require.NoError(t, q.Enqueue(ctx, domain.Task{Name: prefix + "-late", ETA: base.Add(2 * time.Second)}))
		require.NoError(t, q.Enqueue(ctx, domain.Task{Name: prefix + "-early", ETA: base.Add(time.Second)}))

		none, err := q.Lease(ctx, base)
		require.NoError(t, err)
		assert.Nil(t, none, "tasks are not delivered before their ETA")

		first, err := q.Lease(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, prefix+"-early", first.Name)

		second, err := q.Lease(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, prefix+"-late", second.Name)
	})

	t.Run("Requeue", func(t *testing.T) {
		task := domain.Task{Name: prefix + "-retry"}
		require.NoError(t, q.Enqueue(ctx, task))
		leased, err := q.Lease(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, leased)

		leased.RetryCount++
		eta := time.Now().Add(10 * time.Minute)
		require.NoError(t, q.Requeue(ctx, *leased, eta))

		none, err := q.Lease(ctx, time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Nil(t, none)

		again, err := q.Lease(ctx, eta.Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 1, again.RetryCount)
	})
}

// RunDurableStoreContract verifies a DurableStore implementation.
func RunDurableStoreContract(t *testing.T, store DurableStore) {
	ctx := context.Background()
	kind := "Contract" + time.Now().Format("150405")

	t.Run("Put and Get", func(t *testing.T) {
		rec := Record{Kind: kind, Key: "a", Payload: []byte("one"), Created: time.Now().UTC().Truncate(time.Second)}
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.Get(ctx, kind, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got.Payload)
		assert.True(t, rec.Created.Equal(got.Created))

		rec.Payload = []byte("two")
		require.NoError(t, store.Put(ctx, rec))
		got, err = store.Get(ctx, kind, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got.Payload, "Put replaces")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, kind, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Insert", func(t *testing.T) {
		created, existing, err := store.Insert(ctx, Record{Kind: kind, Key: "once", Payload: []byte("first")})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, existing)

		created, existing, err = store.Insert(ctx, Record{Kind: kind, Key: "once", Payload: []byte("second")})
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, existing)
		assert.Equal(t, []byte("first"), existing.Payload)
	})

	t.Run("Query", func(t *testing.T) {
		for _, key := range []string{"q-2", "q-1", "q-3"} {
			idx := "x"
			if key == "q-3" {
				idx = "y"
			}
			require.NoError(t, store.Put(ctx, Record{
				Kind: kind, Key: key, Index: map[string]string{"group": idx}, Payload: []byte(key),
			}))
		}
		recs, err := store.Query(ctx, kind, "group", "x")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "q-1", recs[0].Key)
		assert.Equal(t, "q-2", recs[1].Key)

		recs, err = store.Query(ctx, kind, "group", "none")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, kind, "q-1", "q-2", "never-existed"))
		_, err := store.Get(ctx, kind, "q-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		recs, err := store.Query(ctx, kind, "group", "x")
		require.NoError(t, err)
		assert.Empty(t, recs, "deleted records leave the index")
	})
}

// RunCounterCacheContract verifies a CounterCache implementation.
func RunCounterCacheContract(t *testing.T, cache CounterCache) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("150405.000000")

	t.Run("Incr with initial", func(t *testing.T) {
		v, err := cache.Incr(ctx, prefix+"-i", 1, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(101), v)

		v, err = cache.Incr(ctx, prefix+"-i", 5, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(106), v, "initial only applies to missing keys")
	})

	t.Run("Decr with initial", func(t *testing.T) {
		v, err := cache.Decr(ctx, prefix+"-d", 10, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(40), v)

		v, err = cache.Decr(ctx, prefix+"-d", 50, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(-10), v)
	})

	t.Run("Get", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, prefix+"-missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = cache.Incr(ctx, prefix+"-g", 1, 0)
		require.NoError(t, err)
		v, ok, err := cache.Get(ctx, prefix+"-g")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		ok, err := cache.SetIfAbsent(ctx, prefix+"-s", "first", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = cache.SetIfAbsent(ctx, prefix+"-s", "second", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		v, _, err := cache.Get(ctx, prefix+"-s")
		require.NoError(t, err)
		assert.Equal(t, "first", v)
	})
}
