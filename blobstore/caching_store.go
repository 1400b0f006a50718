package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/kwip/internal/cache"
)

// DefaultCacheBlockSize is the block size used by CachingStore when none is set.
const DefaultCacheBlockSize = 1 << 20

// CachingStore wraps a BlobStore and serves reads through a block cache.
// It is meant for remote stores, where streaming the same sketch for every
// comparison would otherwise refetch it each time.
type CachingStore struct {
	inner     BlobStore
	cache     *cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a CachingStore. blockSize defaults to
// DefaultCacheBlockSize if <= 0.
func NewCachingStore(inner BlobStore, c *cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultCacheBlockSize
	}
	return &CachingStore{inner: inner, cache: c, blockSize: blockSize}
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{inner: b, cache: s.cache, name: name, blockSize: s.blockSize}, nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Invalidate(name)
	return s.inner.Create(ctx, name)
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type cachingBlob struct {
	inner     Blob
	cache     *cache.BlockCache
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := b.Size()
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), size)
	first := off / b.blockSize
	last := (end - 1) / b.blockSize

	blocks := make([][]byte, last-first+1)
	missFrom := int64(-1)
	for blk := first; blk <= last; blk++ {
		data, ok := b.cache.Get(cache.BlockKey{Name: b.name, Block: blk})
		if ok {
			blocks[blk-first] = data
			continue
		}
		if missFrom < 0 {
			missFrom = blk
		}
	}

	if missFrom >= 0 {
		// Fetch the span from the first missing block to the last block
		// in a single ranged read.
		if err := b.fill(ctx, blocks, first, missFrom, last, size); err != nil {
			return 0, err
		}
	}

	n := 0
	for blk := first; blk <= last; blk++ {
		data := blocks[blk-first]
		start := max(off, blk*b.blockSize) - blk*b.blockSize
		n += copy(p[n:], data[start:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *cachingBlob) fill(ctx context.Context, blocks [][]byte, first, from, last, size int64) error {
	start := from * b.blockSize
	stop := min((last+1)*b.blockSize, size)

	buf := make([]byte, stop-start)
	n, err := b.inner.ReadAt(ctx, buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if int64(n) < stop-start {
		return io.ErrUnexpectedEOF
	}

	for blk := from; blk <= last; blk++ {
		lo := (blk - from) * b.blockSize
		hi := min(lo+b.blockSize, int64(len(buf)))
		if blocks[blk-first] != nil {
			continue
		}
		data := buf[lo:hi:hi]
		blocks[blk-first] = data
		b.cache.Set(cache.BlockKey{Name: b.name, Block: blk}, data)
	}
	return nil
}
