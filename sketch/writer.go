package sketch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/internal/hash"
)

// Writer writes a sketch whose length is known up front. The header is
// written immediately; counts are buffered one block at a time.
type Writer struct {
	w       io.Writer
	header  Header
	block   []uint32
	written uint64
	raw     []byte
	packed  []byte
	closed  bool
	err     error
}

// NewWriter validates h, filling defaults, and writes the file header.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h = h.WithDefaults()
	if err := h.validate(); err != nil {
		return nil, err
	}
	buf, err := marshalHeader(h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf); err != nil {
		return nil, err
	}
	return &Writer{
		w:      w,
		header: h,
		block:  make([]uint32, 0, min(uint64(h.BlockSize), max(h.Length, 1))),
	}, nil
}

// Header returns the header being written.
func (w *Writer) Header() Header { return w.header }

// Write appends counts. A value too large for the element type poisons
// the writer: every later call returns the same error.
func (w *Writer) Write(counts []uint32) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if w.written+uint64(len(counts)) > w.header.Length {
		return 0, fmt.Errorf("%w: %d counts for length %d", ErrLengthMismatch, w.written+uint64(len(counts)), w.header.Length)
	}

	limit := w.header.Elem.Max()
	for i, c := range counts {
		if c > limit {
			w.err = fmt.Errorf("%w: count %d > %d at %d", ErrValueOverflow, c, limit, w.written)
			return i, w.err
		}
		w.block = append(w.block, c)
		w.written++
		if len(w.block) == int(w.header.BlockSize) {
			if err := w.flush(); err != nil {
				w.err = err
				return i + 1, err
			}
		}
	}
	return len(counts), nil
}

// Close flushes the final block. It fails if the number of counts written
// differs from the header length.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if len(w.block) > 0 {
		if err := w.flush(); err != nil {
			return err
		}
	}
	if w.written != w.header.Length {
		return fmt.Errorf("%w: wrote %d of %d counts", ErrLengthMismatch, w.written, w.header.Length)
	}
	return nil
}

func (w *Writer) flush() error {
	size := len(w.block) * w.header.Elem.Size()
	if cap(w.raw) < size {
		w.raw = make([]byte, size)
	}
	raw := w.raw[:size]
	encodeElems(raw, w.block, w.header.Elem)

	packed, err := compressBlock(w.packed, raw, w.header.Compression)
	if err != nil {
		return fmt.Errorf("compress block: %w", err)
	}
	if packed != nil {
		w.packed = packed[:0]
	}

	var bh [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(bh[0:], uint32(size))
	binary.LittleEndian.PutUint32(bh[4:], uint32(len(packed)))
	binary.LittleEndian.PutUint32(bh[8:], hash.CRC32C(raw))
	if _, err := w.w.Write(bh[:]); err != nil {
		return err
	}

	payload := raw
	if packed != nil {
		payload = packed
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}

	w.block = w.block[:0]
	return nil
}

// Save writes counts as a sketch blob named name. The header length is
// taken from counts.
func Save(ctx context.Context, store blobstore.BlobStore, name string, h Header, counts []uint32) error {
	h.Length = uint64(len(counts))

	blob, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	w, err := NewWriter(blob, h)
	if err == nil {
		_, err = w.Write(counts)
		err = errors.Join(err, w.Close())
	}
	if err != nil {
		_ = blob.Close()
		_ = store.Delete(ctx, name)
		return fmt.Errorf("write %s: %w", name, err)
	}
	return blob.Close()
}

// Load reads the whole sketch name into memory.
func Load(ctx context.Context, store blobstore.BlobStore, name, dataset string, opts ...ReaderOption) (*Sketch, error) {
	r, err := Open(ctx, store, name, dataset, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header()
	if h.Length > uint64(maxInt) {
		return nil, fmt.Errorf("%w: length %d", ErrMalformed, h.Length)
	}
	counts := make([]uint32, h.Length)

	var off uint64
	for !r.Done() {
		n := uint64(h.BlockLen(r.block))
		if _, err := r.Next(ctx, counts[off : off+n]); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		off += n
	}

	return &Sketch{header: h, counts: counts}, nil
}

const maxInt = int(^uint(0) >> 1)
