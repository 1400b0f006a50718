package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/internal/resource"
)

func TestCache_EvictsLeastRecentlyInserted(t *testing.T) {
	c := New(Config[int]{Capacity: 3})

	for i, key := range []string{"a", "b", "c", "d"} {
		require.True(t, c.Put(key, i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Exists("a"))
	for _, key := range []string{"b", "c", "d"} {
		assert.True(t, c.Exists(key), key)
	}
}

func TestCache_PinnedEntrySurvivesEviction(t *testing.T) {
	c := New(Config[int]{Capacity: 3})
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Put("d", 4)

	assert.True(t, c.Exists("a"))
	assert.False(t, c.Exists("b"))
	assert.True(t, c.Exists("c"))
	assert.True(t, c.Exists("d"))
	require.NoError(t, c.Unget("a"))
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	c := New(Config[int]{Capacity: 2})
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a")
	require.True(t, ok)
	require.NoError(t, c.Unget("a"))

	c.Put("c", 3)
	assert.True(t, c.Exists("a"))
	assert.False(t, c.Exists("b"))
}

func TestCache_PutExistingKeyIsNoop(t *testing.T) {
	c := New(Config[string]{Capacity: 2})
	require.True(t, c.Put("a", "first"))
	assert.False(t, c.Put("a", "second"))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", v)
	require.NoError(t, c.Unget("a"))
}

func TestCache_ExceedsCapacityWhenAllPinned(t *testing.T) {
	c := New(Config[int]{Capacity: 2})
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	_, _ = c.Get("b")

	// Nothing is evictable, so the new entry is kept over capacity.
	c.Put("c", 3)
	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Exists("c"))

	// Unpinning lets the cache shrink back.
	require.NoError(t, c.Unget("a"))
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Exists("a"))
	require.NoError(t, c.Unget("b"))
}

func TestCache_UngetInvariant(t *testing.T) {
	c := New(Config[int]{Capacity: 2})

	assert.ErrorIs(t, c.Unget("missing"), ErrInvariantViolation)

	c.Put("a", 1)
	assert.ErrorIs(t, c.Unget("a"), ErrInvariantViolation)

	_, _ = c.Get("a")
	_, _ = c.Get("a")
	assert.Equal(t, 2, c.Refs("a"))
	require.NoError(t, c.Unget("a"))
	require.NoError(t, c.Unget("a"))
	assert.ErrorIs(t, c.Unget("a"), ErrInvariantViolation)
	assert.Equal(t, 0, c.Refs("a"))
	assert.Equal(t, -1, c.Refs("b"))
}

func TestCache_SlotsAreReused(t *testing.T) {
	c := New(Config[int]{Capacity: 2})
	for i := range 100 {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(t, 2, c.Len())
	assert.LessOrEqual(t, len(c.slots), 3)
}

func TestCache_OnEvictAndClear(t *testing.T) {
	var evicted []string
	c := New(Config[int]{
		Capacity: 2,
		OnEvict:  func(key string, _ int) { evicted = append(evicted, key) },
	})
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, []string{"a"}, evicted)

	_, _ = c.Get("c")
	assert.Equal(t, 1, c.Clear())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, evicted)
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Exists("c"))

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Evictions)
	assert.Equal(t, 0, stats.Pinned)

	// The dropped pin cannot be released.
	assert.ErrorIs(t, c.Unget("c"), ErrInvariantViolation)
}

func TestCache_ClearReleasesMemory(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1000})
	c := New(Config[[]byte]{
		Capacity:   4,
		Controller: rc,
		SizeOf:     func(b []byte) int64 { return int64(len(b)) },
	})
	c.Put("a", make([]byte, 100))
	c.Put("b", make([]byte, 200))
	_, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(300), rc.MemoryUsage())

	assert.Equal(t, 1, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, rc.MemoryUsage())

	// The cache is usable after a clear.
	c.Put("a", make([]byte, 100))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Len(t, v, 100)
	require.NoError(t, c.Unget("a"))
}

func TestCache_MemoryLimitEvictsEarly(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 250})
	c := New(Config[[]byte]{
		Capacity:   10,
		Controller: rc,
		SizeOf:     func(b []byte) int64 { return int64(len(b)) },
	})

	c.Put("a", make([]byte, 100))
	c.Put("b", make([]byte, 100))
	c.Put("c", make([]byte, 100))

	assert.False(t, c.Exists("a"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(200), rc.MemoryUsage())

	// A pinned working set may be forced past the limit.
	_, _ = c.Get("b")
	_, _ = c.Get("c")
	c.Put("d", make([]byte, 100))
	assert.Equal(t, int64(300), rc.MemoryUsage())

	require.NoError(t, c.Unget("b"))
	require.NoError(t, c.Unget("c"))
	c.Clear()
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestCache_AcquireLoadsOnce(t *testing.T) {
	c := New(Config[int]{Capacity: 4})

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(_ context.Context, key string) (int, error) {
		loads.Add(1)
		<-release
		return len(key), nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Acquire(t.Context(), "sample.kct", load)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 10, v)
	}
	assert.Equal(t, len(results), c.Refs("sample.kct"))
	assert.Equal(t, int64(1), c.Stats().Loads)
}

func TestCache_AcquireLoadError(t *testing.T) {
	c := New(Config[int]{Capacity: 2})
	boom := errors.New("no such sketch")

	_, err := c.Acquire(t.Context(), "x", func(context.Context, string) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Exists("x"))
}

func TestCache_AcquireCancelled(t *testing.T) {
	c := New(Config[int]{Capacity: 2})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.Acquire(ctx, "x", func(context.Context, string) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache_ConcurrentAcquireRelease(t *testing.T) {
	c := New(Config[int]{Capacity: 3})
	load := func(_ context.Context, key string) (int, error) { return len(key), nil }

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				a := fmt.Sprintf("s%d", (i+w)%7)
				b := fmt.Sprintf("s%d", (i*3+w)%7)
				_, err := c.Acquire(t.Context(), a, load)
				assert.NoError(t, err)
				_, err = c.Acquire(t.Context(), b, load)
				assert.NoError(t, err)
				assert.NoError(t, c.Unget(a))
				assert.NoError(t, c.Unget(b))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 3)
	assert.Equal(t, 0, c.Stats().Pinned)
}
