package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := t.Context()

	data := []byte("sketch bytes for a local round trip")

	w, err := store.Create(ctx, "set1/a.kct")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)

	// Not visible until Close.
	_, err = os.Stat(filepath.Join(dir, "set1", "a.kct"))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "set1/a.kct")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(len(data)), b.Size())

	buf := make([]byte, 7)
	require.NoError(t, ReadFull(ctx, b, buf, 0))
	assert.Equal(t, "sketch ", string(buf))

	err = ReadFull(ctx, b, buf, int64(len(data)-3))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	require.NoError(t, store.Put(ctx, "b.kct", []byte("x")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.kct", "set1/a.kct"}, names)

	names, err = store.List(ctx, "set1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"set1/a.kct"}, names)

	require.NoError(t, store.Delete(ctx, "b.kct"))
	require.NoError(t, store.Delete(ctx, "b.kct"))

	_, err = store.Open(ctx, "b.kct")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_AbsoluteNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abs.kct")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	b, err := NewLocalStore("").Open(t.Context(), path)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(3), b.Size())
}

func TestLocalStore_CancelledRead(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	require.NoError(t, store.Put(t.Context(), "a", []byte("abc")))

	b, err := store.Open(t.Context(), "a")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = b.ReadAt(ctx, make([]byte, 1), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()

	w, err := store.Create(ctx, "m/one")
	require.NoError(t, err)
	_, _ = w.Write([]byte("hello"))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, store.Put(ctx, "m/two", []byte("world")))

	b, err := store.Open(ctx, "m/one")
	require.NoError(t, err)
	buf := make([]byte, 5)
	require.NoError(t, ReadFull(ctx, b, buf, 0))
	assert.Equal(t, "hello", string(buf))

	names, err := store.List(ctx, "m/")
	require.NoError(t, err)
	assert.Equal(t, []string{"m/one", "m/two"}, names)

	raw, ok := store.Bytes("m/two")
	require.True(t, ok)
	raw[0] = 'W'
	again, _ := store.Bytes("m/two")
	assert.Equal(t, "world", string(again))

	require.NoError(t, store.Delete(ctx, "m/one"))
	_, err = store.Open(ctx, "m/one")
	assert.ErrorIs(t, err, ErrNotFound)
}
