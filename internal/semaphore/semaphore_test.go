package semaphore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryCommit_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	sem := New(memory.NewStore(), memory.NewCache())

	committed, stored, err := sem.TryCommit(ctx, "k", "first")
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "first", stored)

	committed, stored, err = sem.TryCommit(ctx, "k", "second")
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, "first", stored)

	v, ok, err := sem.Read(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok, err = sem.Read(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryCommit_Concurrent(t *testing.T) {
	ctx := context.Background()
	sem := New(memory.NewStore(), memory.NewCache())

	const callers = 32
	var wg sync.WaitGroup
	results := make([]bool, callers)
	stored := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, s, err := sem.TryCommit(ctx, "shared", fmt.Sprintf("p-%d", i))
			assert.NoError(t, err)
			results[i], stored[i] = c, s
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := range results {
		if results[i] {
			wins++
		}
		assert.Equal(t, stored[0], stored[i], "every caller sees the same payload")
	}
	assert.Equal(t, 1, wins)
}

func TestTryCommit_SurvivesCacheEviction(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	sem := New(memory.NewStore(), cache)

	committed, _, err := sem.TryCommit(ctx, "k", "first")
	require.NoError(t, err)
	require.True(t, committed)

	cache.Evict()

	committed, stored, err := sem.TryCommit(ctx, "k", "second")
	require.NoError(t, err)
	assert.False(t, committed, "eviction never yields a second commit")
	assert.Equal(t, "first", stored)
}

func TestTryCommit_WithoutCache(t *testing.T) {
	ctx := context.Background()
	sem := New(memory.NewStore(), nil)

	committed, _, err := sem.TryCommit(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, committed)
	committed, _, err = sem.TryCommit(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, committed)
}
