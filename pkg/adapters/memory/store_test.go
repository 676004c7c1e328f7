package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunDurableStoreContract(t, memory.NewStore())
}

func TestMemoryQueue_Contract(t *testing.T) {
	ports.RunTaskQueueContract(t, memory.NewQueue())
}

func TestMemoryCache_Contract(t *testing.T) {
	ports.RunCounterCacheContract(t, memory.NewCache())
}

func TestMemoryStore_QueryDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := memory.NewStore(
		memory.WithQueryDelay(time.Second),
		memory.WithStoreClock(func() time.Time { return now }),
	)
	rec := ports.Record{Kind: "k", Key: "a", Index: map[string]string{"f": "v"}}
	require.NoError(t, store.Put(ctx, rec))

	recs, err := store.Query(ctx, "k", "f", "v")
	require.NoError(t, err)
	assert.Empty(t, recs, "fresh writes are not yet visible to queries")

	_, err = store.Get(ctx, "k", "a")
	assert.NoError(t, err, "Get is strongly consistent")

	now = now.Add(2 * time.Second)
	recs, err = store.Query(ctx, "k", "f", "v")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	payload := []byte("abc")
	require.NoError(t, store.Put(ctx, ports.Record{Kind: "k", Key: "a", Payload: payload}))
	payload[0] = 'x'

	got, err := store.Get(ctx, "k", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.Payload)
	assert.Equal(t, 1, store.Count("k"))
}

func TestMemoryCache_Evict(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	_, err := cache.Incr(ctx, "a", 1, 0)
	require.NoError(t, err)
	_, err = cache.Incr(ctx, "b", 1, 0)
	require.NoError(t, err)

	cache.Evict("a")
	_, ok, _ := cache.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, "b")
	assert.True(t, ok)

	cache.Evict()
	_, ok, _ = cache.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryQueue_FIFOWithinETA(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, q.Enqueue(ctx, domain.Task{Name: name}))
	}
	assert.Equal(t, 3, q.Len())
	for _, want := range []string{"one", "two", "three"} {
		task, err := q.Lease(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, task.Name)
	}
	assert.NoError(t, memory.NopQueue{}.Enqueue(ctx, domain.Task{Name: "one"}))
}
