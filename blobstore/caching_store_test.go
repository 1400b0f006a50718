package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/internal/cache"
)

type countingStore struct {
	*MemoryStore
	reads int
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: s}, nil
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	b.store.reads++
	return b.Blob.ReadAt(ctx, p, off)
}

func TestCachingStore_ServesRepeatReadsFromCache(t *testing.T) {
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	data := []byte("0123456789abcdefghij")
	require.NoError(t, inner.Put(t.Context(), "s.kct", data))

	store := NewCachingStore(inner, cache.NewBlockCache(1<<10, nil), 4)
	ctx := t.Context()

	b, err := store.Open(ctx, "s.kct")
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 10)
	require.NoError(t, ReadFull(ctx, b, buf, 3))
	assert.Equal(t, "3456789abc", string(buf))
	assert.Equal(t, 1, inner.reads)

	require.NoError(t, ReadFull(ctx, b, buf, 3))
	assert.Equal(t, "3456789abc", string(buf))
	assert.Equal(t, 1, inner.reads)

	// Tail read crossing into uncached blocks.
	tail := make([]byte, 8)
	require.NoError(t, ReadFull(ctx, b, tail, 12))
	assert.Equal(t, "cdefghij", string(tail))
	assert.Equal(t, 2, inner.reads)

	short := make([]byte, 4)
	n, err := b.ReadAt(ctx, short, 18)
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ij", string(short[:n]))
}

func TestCachingStore_PutInvalidates(t *testing.T) {
	inner := NewMemoryStore()
	store := NewCachingStore(inner, cache.NewBlockCache(1<<10, nil), 4)
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "s", []byte("aaaa")))
	b, err := store.Open(ctx, "s")
	require.NoError(t, err)
	buf := make([]byte, 4)
	require.NoError(t, ReadFull(ctx, b, buf, 0))

	require.NoError(t, store.Put(ctx, "s", []byte("bbbb")))
	b, err = store.Open(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, ReadFull(ctx, b, buf, 0))
	assert.Equal(t, "bbbb", string(buf))
}
