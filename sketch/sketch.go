package sketch

import (
	"context"
	"fmt"
	"io"
	"math"
)

const (
	// DefaultDataset is the dataset name written by sketch builders.
	DefaultDataset = "counts"
	// DefaultBlockSize is the number of elements per block.
	DefaultBlockSize = 1 << 20
)

// ElemType is the on-disk width of a count.
type ElemType uint8

const (
	ElemUint8  ElemType = 1
	ElemUint16 ElemType = 2
	ElemUint32 ElemType = 4
)

// Size returns the width in bytes.
func (e ElemType) Size() int { return int(e) }

// Max returns the largest storable count.
func (e ElemType) Max() uint32 {
	switch e {
	case ElemUint8:
		return math.MaxUint8
	case ElemUint16:
		return math.MaxUint16
	default:
		return math.MaxUint32
	}
}

func (e ElemType) String() string {
	switch e {
	case ElemUint8:
		return "u8"
	case ElemUint16:
		return "u16"
	case ElemUint32:
		return "u32"
	default:
		return fmt.Sprintf("elem(%d)", uint8(e))
	}
}

func (e ElemType) valid() bool {
	return e == ElemUint8 || e == ElemUint16 || e == ElemUint32
}

// Header describes a stored sketch.
type Header struct {
	Dataset     string
	Elem        ElemType
	Compression Compression
	// K is the k-mer size and Tables the number of hash tables the counts
	// were built with. Sketches are only comparable when both match.
	K      uint32
	Tables uint32
	Length uint64
	// BlockSize is the number of elements per stored block.
	BlockSize uint32
}

// WithDefaults fills unset fields: dataset "counts", uint32 elements and
// DefaultBlockSize.
func (h Header) WithDefaults() Header {
	if h.Dataset == "" {
		h.Dataset = DefaultDataset
	}
	if h.Elem == 0 {
		h.Elem = ElemUint32
	}
	if h.BlockSize == 0 {
		h.BlockSize = DefaultBlockSize
	}
	return h
}

// NumBlocks returns ceil(Length / BlockSize).
func (h Header) NumBlocks() uint64 {
	if h.BlockSize == 0 {
		return 0
	}
	bs := uint64(h.BlockSize)
	return (h.Length + bs - 1) / bs
}

// BlockLen returns the element count of block i. Every block is full
// except possibly the last, which holds the remainder.
func (h Header) BlockLen(i uint64) int {
	bs := uint64(h.BlockSize)
	start := i * bs
	if start >= h.Length {
		return 0
	}
	return int(min(bs, h.Length-start))
}

// MemoryBytes is the in-memory size of the materialised counts.
func (h Header) MemoryBytes() int64 {
	return int64(h.Length) * 4
}

func (h Header) validate() error {
	switch {
	case !h.Elem.valid():
		return fmt.Errorf("%w: element type %d", ErrMalformed, h.Elem)
	case !h.Compression.valid():
		return fmt.Errorf("%w: compression %d", ErrMalformed, h.Compression)
	case h.BlockSize == 0:
		return fmt.Errorf("%w: zero block size", ErrMalformed)
	case h.Dataset == "":
		return fmt.Errorf("%w: empty dataset name", ErrMalformed)
	case h.NumBlocks() > math.MaxUint32:
		return fmt.Errorf("%w: %d blocks", ErrMalformed, h.NumBlocks())
	case uint64(h.BlockSize)*uint64(h.Elem.Size()) > math.MaxUint32:
		return fmt.Errorf("%w: block of %d bytes", ErrMalformed, uint64(h.BlockSize)*uint64(h.Elem.Size()))
	}
	return nil
}

// BlockIterator walks the blocks of a sketch in order.
type BlockIterator interface {
	// Next returns the next block. It decodes into buf when buf has enough
	// capacity and allocates otherwise; the returned slice must be treated
	// as read-only. At the end it returns io.EOF.
	Next(ctx context.Context, buf []uint32) ([]uint32, error)
	// Done reports whether every block has been returned.
	Done() bool
	NumBlocks() uint64
	Close() error
}

// Source is anything a metric can traverse block by block.
type Source interface {
	Header() Header
	// Blocks starts a new traversal. Traversals are independent, so one
	// Source may be walked by several comparisons at once.
	Blocks(ctx context.Context) (BlockIterator, error)
}

// Sketch is a materialised sketch.
type Sketch struct {
	header Header
	counts []uint32
}

// New wraps counts. The header length is taken from counts and missing
// fields get their defaults.
func New(h Header, counts []uint32) (*Sketch, error) {
	h = h.WithDefaults()
	h.Length = uint64(len(counts))
	if err := h.validate(); err != nil {
		return nil, err
	}
	limit := h.Elem.Max()
	for i, c := range counts {
		if c > limit {
			return nil, fmt.Errorf("%w: counts[%d]=%d > %d", ErrValueOverflow, i, c, limit)
		}
	}
	return &Sketch{header: h, counts: counts}, nil
}

// Header returns the sketch header.
func (s *Sketch) Header() Header { return s.header }

// Counts returns the counts. Callers must not modify them.
func (s *Sketch) Counts() []uint32 { return s.counts }

// Len returns the number of counts.
func (s *Sketch) Len() int { return len(s.counts) }

// Blocks returns an iterator over views of the counts; it does not copy.
func (s *Sketch) Blocks(context.Context) (BlockIterator, error) {
	return &sliceIterator{header: s.header, counts: s.counts}, nil
}

type sliceIterator struct {
	header Header
	counts []uint32
	block  uint64
}

func (it *sliceIterator) Next(context.Context, []uint32) ([]uint32, error) {
	if it.Done() {
		return nil, io.EOF
	}
	start := it.block * uint64(it.header.BlockSize)
	n := it.header.BlockLen(it.block)
	it.block++
	return it.counts[start : start+uint64(n) : start+uint64(n)], nil
}

func (it *sliceIterator) Done() bool { return it.block >= it.header.NumBlocks() }

func (it *sliceIterator) NumBlocks() uint64 { return it.header.NumBlocks() }

func (it *sliceIterator) Close() error { return nil }
