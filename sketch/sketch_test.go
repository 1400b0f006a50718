package sketch

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/testutil"
)

func readAll(t *testing.T, it BlockIterator) []uint32 {
	t.Helper()
	var out []uint32
	buf := make([]uint32, 0, 8)
	for {
		block, err := it.Next(t.Context(), buf)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, block...)
	}
	require.True(t, it.Done())
	return out
}

func TestRoundTrip(t *testing.T) {
	rng := testutil.NewRNG(4711)

	tests := []struct {
		elem        ElemType
		compression Compression
		length      int
		blockSize   uint32
	}{
		{ElemUint8, CompressionNone, 100, 10},
		{ElemUint8, CompressionLZ4, 103, 10},
		{ElemUint16, CompressionZSTD, 1000, 64},
		{ElemUint32, CompressionLZ4, 4097, 1024},
		{ElemUint32, CompressionNone, 7, 7},
		{ElemUint16, CompressionLZ4, 1, 16},
		{ElemUint32, CompressionZSTD, 0, 16},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%d/%d", tt.elem, tt.compression, tt.length, tt.blockSize), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			counts := rng.SparseCounts(tt.length, 0.3, tt.elem.Max())

			h := Header{Elem: tt.elem, Compression: tt.compression, K: 21, Tables: 4, BlockSize: tt.blockSize}
			require.NoError(t, Save(t.Context(), store, "s.kct", h, counts))

			r, err := Open(t.Context(), store, "s.kct", DefaultDataset)
			require.NoError(t, err)
			defer r.Close()

			wantBlocks := (uint64(tt.length) + uint64(tt.blockSize) - 1) / uint64(tt.blockSize)
			assert.Equal(t, wantBlocks, r.NumBlocks())
			assert.Equal(t, uint64(tt.length), r.Header().Length)
			assert.Equal(t, uint32(21), r.Header().K)

			got := readAll(t, r)
			if tt.length == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, counts, got)
			}

			loaded, err := Load(t.Context(), store, "s.kct", "")
			require.NoError(t, err)
			assert.Equal(t, len(counts), loaded.Len())
			if tt.length > 0 {
				assert.Equal(t, counts, loaded.Counts())
			}
		})
	}
}

func TestFinalBlockHoldsRemainder(t *testing.T) {
	store := blobstore.NewMemoryStore()
	counts := make([]uint32, 25)
	for i := range counts {
		counts[i] = uint32(i)
	}
	require.NoError(t, Save(t.Context(), store, "s", Header{BlockSize: 10}, counts))

	r, err := Open(t.Context(), store, "s", "")
	require.NoError(t, err)
	defer r.Close()

	var lens []int
	buf := make([]uint32, 10)
	for !r.Done() {
		block, err := r.Next(t.Context(), buf)
		require.NoError(t, err)
		lens = append(lens, len(block))
		// Decoded in place when the buffer is large enough.
		assert.Same(t, &buf[0], &block[0])
	}
	assert.Equal(t, []int{10, 10, 5}, lens)

	_, err = r.Next(t.Context(), buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNextAllocatesForSmallBuffer(t *testing.T) {
	store := blobstore.NewMemoryStore()
	require.NoError(t, Save(t.Context(), store, "s", Header{BlockSize: 4}, []uint32{1, 2, 3, 4, 5}))

	r, err := Open(t.Context(), store, "s", "")
	require.NoError(t, err)
	defer r.Close()

	block, err := r.Next(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, block)
}

func TestSketchBlocksAreViews(t *testing.T) {
	counts := []uint32{1, 2, 3, 4, 5, 6, 7}
	s, err := New(Header{BlockSize: 3}, counts)
	require.NoError(t, err)

	it, err := s.Blocks(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), it.NumBlocks())
	assert.Equal(t, counts, readAll(t, it))
	require.NoError(t, it.Close())
}

func TestNewRejectsOverflow(t *testing.T) {
	_, err := New(Header{Elem: ElemUint8}, []uint32{1, 256})
	assert.ErrorIs(t, err, ErrValueOverflow)
}

func TestWriterLengthChecks(t *testing.T) {
	store := blobstore.NewMemoryStore()

	w, err := store.Create(t.Context(), "short")
	require.NoError(t, err)
	sw, err := NewWriter(w, Header{Length: 5, BlockSize: 2})
	require.NoError(t, err)
	_, err = sw.Write([]uint32{1, 2, 3})
	require.NoError(t, err)
	assert.ErrorIs(t, sw.Close(), ErrLengthMismatch)

	sw, err = NewWriter(io.Discard, Header{Length: 2})
	require.NoError(t, err)
	_, err = sw.Write([]uint32{1, 2, 3})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	sw, err = NewWriter(io.Discard, Header{Length: 2, Elem: ElemUint16})
	require.NoError(t, err)
	n, err := sw.Write([]uint32{1, 1 << 16})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrValueOverflow)
	_, err = sw.Write([]uint32{1})
	assert.ErrorIs(t, err, ErrValueOverflow)

	assert.ErrorIs(t, sw.Close(), ErrValueOverflow)
	require.NoError(t, sw.Close())
	_, err = sw.Write([]uint32{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSaveRemovesFailedBlob(t *testing.T) {
	store := blobstore.NewMemoryStore()
	err := Save(t.Context(), store, "bad", Header{Elem: ElemUint8}, []uint32{300})
	assert.ErrorIs(t, err, ErrValueOverflow)

	_, ok := store.Bytes("bad")
	assert.False(t, ok)
}

func TestStreamSource(t *testing.T) {
	store := blobstore.NewMemoryStore()
	counts := testutil.NewRNG(1).Counts(50, 9)
	require.NoError(t, Save(t.Context(), store, "s", Header{BlockSize: 8, Compression: CompressionLZ4}, counts))

	s, err := OpenStream(t.Context(), store, "s", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), s.Header().Length)
	assert.Equal(t, "s", s.Name())

	// Independent traversals.
	a, err := s.Blocks(t.Context())
	require.NoError(t, err)
	b, err := s.Blocks(t.Context())
	require.NoError(t, err)
	assert.Equal(t, counts, readAll(t, a))
	assert.Equal(t, counts, readAll(t, b))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestCheckCompatible(t *testing.T) {
	base := Header{Length: 10, K: 21, Tables: 4}

	require.NoError(t, CheckCompatible(base, base))

	tests := []struct {
		name  string
		other Header
		field string
	}{
		{"length", Header{Length: 11, K: 21, Tables: 4}, "length"},
		{"k", Header{Length: 10, K: 19, Tables: 4}, "k"},
		{"tables", Header{Length: 10, K: 21, Tables: 2}, "tables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCompatible(base, tt.other)
			require.ErrorIs(t, err, ErrDimensionMismatch)

			var dm *DimensionMismatchError
			require.ErrorAs(t, err, &dm)
			assert.Equal(t, tt.field, dm.Field)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}
