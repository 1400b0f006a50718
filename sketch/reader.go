package sketch

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/internal/hash"
	"github.com/hupe1980/kwip/internal/resource"
)

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	rc *resource.Controller
}

// WithController throttles block reads through rc's IO limiter.
func WithController(rc *resource.Controller) ReaderOption {
	return func(o *readerOptions) { o.rc = rc }
}

// Reader streams the blocks of one sketch in order. It is not safe for
// concurrent use; open one Reader per traversal.
type Reader struct {
	blob   blobstore.Blob
	header Header
	rc     *resource.Controller

	off   int64
	block uint64

	payload []byte
	plain   []byte
	closed  bool
}

// Open opens the sketch name in store and checks that it holds dataset.
// ctx only governs the header read; each Next takes its own.
func Open(ctx context.Context, store blobstore.BlobStore, name, dataset string, opts ...ReaderOption) (*Reader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open sketch %s: %w", name, err)
	}
	r, err := NewReader(ctx, blob, dataset, opts...)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("open sketch %s: %w", name, err)
	}
	return r, nil
}

// NewReader reads the header of blob. The Reader takes ownership of blob;
// ctx only governs the header read.
func NewReader(ctx context.Context, blob blobstore.Blob, dataset string, opts ...ReaderOption) (*Reader, error) {
	var o readerOptions
	for _, fn := range opts {
		fn(&o)
	}

	h, off, err := readHeader(ctx, blob)
	if err != nil {
		return nil, err
	}
	if dataset == "" {
		dataset = DefaultDataset
	}
	if h.Dataset != dataset {
		return nil, fmt.Errorf("%w: file holds %q, want %q", ErrDatasetNotFound, h.Dataset, dataset)
	}

	return &Reader{blob: blob, header: h, rc: o.rc, off: off}, nil
}

// Header returns the sketch header.
func (r *Reader) Header() Header { return r.header }

// NumBlocks returns ceil(Length / BlockSize).
func (r *Reader) NumBlocks() uint64 { return r.header.NumBlocks() }

// Done reports whether every block has been read.
func (r *Reader) Done() bool { return r.block >= r.header.NumBlocks() }

// Next decodes the next block into buf, or a new slice if buf is too small,
// and returns it. After the last block it returns io.EOF. Any other error
// ends the traversal and invalidates blocks already returned.
func (r *Reader) Next(ctx context.Context, buf []uint32) ([]uint32, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.Done() {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := r.header.BlockLen(r.block)
	want := n * r.header.Elem.Size()

	var bh [blockHeaderSize]byte
	if err := readFull(ctx, r.blob, bh[:], r.off); err != nil {
		return nil, fmt.Errorf("block %d: %w", r.block, err)
	}
	rawLen := int(binary.LittleEndian.Uint32(bh[0:]))
	storedLen := int(binary.LittleEndian.Uint32(bh[4:]))
	sum := binary.LittleEndian.Uint32(bh[8:])

	if rawLen != want {
		return nil, fmt.Errorf("%w: block %d holds %d bytes, want %d", ErrMalformed, r.block, rawLen, want)
	}
	if storedLen >= rawLen && storedLen != 0 {
		return nil, fmt.Errorf("%w: block %d stores %d bytes for %d", ErrMalformed, r.block, storedLen, rawLen)
	}

	payloadLen := rawLen
	if storedLen != 0 {
		payloadLen = storedLen
	}
	if err := r.rc.AcquireIO(ctx, blockHeaderSize+payloadLen); err != nil {
		return nil, err
	}

	r.payload = grow(r.payload, payloadLen)
	if err := readFull(ctx, r.blob, r.payload, r.off+blockHeaderSize); err != nil {
		return nil, fmt.Errorf("block %d: %w", r.block, err)
	}

	plain := r.payload
	if storedLen != 0 {
		r.plain = grow(r.plain, rawLen)
		var err error
		plain, err = decompressBlock(r.plain, r.payload, r.header.Compression)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", ErrMalformed, r.block, err)
		}
	}

	if got := hash.CRC32C(plain); got != sum {
		return nil, fmt.Errorf("%w: block %d crc %08x, want %08x", ErrChecksum, r.block, got, sum)
	}

	if cap(buf) >= n {
		buf = buf[:n]
	} else {
		buf = make([]uint32, n)
	}
	decodeElems(buf, plain, r.header.Elem)

	r.off += int64(blockHeaderSize + payloadLen)
	r.block++
	return buf, nil
}

// Close releases the underlying blob.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.blob.Close()
}

func grow(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}

// Stream is a Source that reads its sketch from the store on every
// traversal instead of holding the counts in memory.
type Stream struct {
	store  blobstore.BlobStore
	name   string
	header Header
	opts   []ReaderOption
}

// OpenStream validates the header of name and returns a Stream for it.
func OpenStream(ctx context.Context, store blobstore.BlobStore, name, dataset string, opts ...ReaderOption) (*Stream, error) {
	r, err := Open(ctx, store, name, dataset, opts...)
	if err != nil {
		return nil, err
	}
	h := r.Header()
	if err := r.Close(); err != nil {
		return nil, err
	}
	return &Stream{store: store, name: name, header: h, opts: opts}, nil
}

// Header returns the sketch header.
func (s *Stream) Header() Header { return s.header }

// Name returns the blob name.
func (s *Stream) Name() string { return s.name }

// Blocks opens a new Reader.
func (s *Stream) Blocks(ctx context.Context) (BlockIterator, error) {
	r, err := Open(ctx, s.store, s.name, s.header.Dataset, s.opts...)
	if err != nil {
		return nil, err
	}
	if r.Header() != s.header {
		_ = r.Close()
		return nil, fmt.Errorf("%w: %s changed since it was opened", ErrMalformed, s.name)
	}
	return r, nil
}
