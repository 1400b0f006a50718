package sketch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/internal/conv"
	"github.com/hupe1980/kwip/internal/hash"
)

// File layout, little-endian:
//
//	magic "KWSK" | version u16 | ndim u8 | elem u8 | compression u8 | reserved u8
//	k u32 | tables u32 | length u64 | block_size u32 | num_blocks u32
//	name_len u16 | name | header crc32c u32
//
// followed by num_blocks blocks of
//
//	raw_bytes u32 | stored_bytes u32 (0 = raw) | crc32c(raw) u32 | payload
const (
	magic           = "KWSK"
	formatVersion   = 1
	fixedHeaderSize = 36
	blockHeaderSize = 12
	maxNameLen      = 1 << 10
)

func marshalHeader(h Header) ([]byte, error) {
	nameLen, err := conv.IntToUint16(len(h.Dataset))
	if err != nil || nameLen > maxNameLen {
		return nil, fmt.Errorf("%w: dataset name of %d bytes", ErrMalformed, len(h.Dataset))
	}
	numBlocks, err := conv.Uint64ToUint32(h.NumBlocks())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	buf := make([]byte, fixedHeaderSize+len(h.Dataset)+4)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:], formatVersion)
	buf[6] = 1 // ndim
	buf[7] = byte(h.Elem)
	buf[8] = byte(h.Compression)
	buf[9] = 0
	binary.LittleEndian.PutUint32(buf[10:], h.K)
	binary.LittleEndian.PutUint32(buf[14:], h.Tables)
	binary.LittleEndian.PutUint64(buf[18:], h.Length)
	binary.LittleEndian.PutUint32(buf[26:], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[30:], numBlocks)
	binary.LittleEndian.PutUint16(buf[34:], nameLen)
	copy(buf[fixedHeaderSize:], h.Dataset)

	end := fixedHeaderSize + len(h.Dataset)
	binary.LittleEndian.PutUint32(buf[end:], hash.CRC32C(buf[:end]))
	return buf, nil
}

// readHeader decodes the header at the start of b and returns it together
// with the offset of the first block.
func readHeader(ctx context.Context, b blobstore.Blob) (Header, int64, error) {
	fixed := make([]byte, fixedHeaderSize)
	if err := readFull(ctx, b, fixed, 0); err != nil {
		if errors.Is(err, ErrShortRead) {
			return Header{}, 0, fmt.Errorf("%w: truncated header", ErrMalformed)
		}
		return Header{}, 0, err
	}

	if string(fixed[0:4]) != magic {
		return Header{}, 0, fmt.Errorf("%w: bad magic %q", ErrMalformed, fixed[0:4])
	}
	if v := binary.LittleEndian.Uint16(fixed[4:]); v != formatVersion {
		return Header{}, 0, fmt.Errorf("%w: unsupported version %d", ErrMalformed, v)
	}
	if ndim := fixed[6]; ndim != 1 {
		return Header{}, 0, fmt.Errorf("%w: dataset has %d dimensions, want 1", ErrMalformed, ndim)
	}

	nameLen := int(binary.LittleEndian.Uint16(fixed[34:]))
	if nameLen > maxNameLen {
		return Header{}, 0, fmt.Errorf("%w: dataset name of %d bytes", ErrMalformed, nameLen)
	}
	rest := make([]byte, nameLen+4)
	if err := readFull(ctx, b, rest, fixedHeaderSize); err != nil {
		if errors.Is(err, ErrShortRead) {
			return Header{}, 0, fmt.Errorf("%w: truncated header", ErrMalformed)
		}
		return Header{}, 0, err
	}

	sum := hash.UpdateCRC32C(hash.CRC32C(fixed), rest[:nameLen])
	if want := binary.LittleEndian.Uint32(rest[nameLen:]); sum != want {
		return Header{}, 0, fmt.Errorf("%w: header checksum %08x, want %08x", ErrMalformed, sum, want)
	}

	h := Header{
		Dataset:     string(rest[:nameLen]),
		Elem:        ElemType(fixed[7]),
		Compression: Compression(fixed[8]),
		K:           binary.LittleEndian.Uint32(fixed[10:]),
		Tables:      binary.LittleEndian.Uint32(fixed[14:]),
		Length:      binary.LittleEndian.Uint64(fixed[18:]),
		BlockSize:   binary.LittleEndian.Uint32(fixed[26:]),
	}
	if err := h.validate(); err != nil {
		return Header{}, 0, err
	}
	if n := uint64(binary.LittleEndian.Uint32(fixed[30:])); n != h.NumBlocks() {
		return Header{}, 0, fmt.Errorf("%w: header lists %d blocks, shape needs %d", ErrMalformed, n, h.NumBlocks())
	}

	return h, int64(fixedHeaderSize + nameLen + 4), nil
}

// readFull maps an early end of blob to ErrShortRead.
func readFull(ctx context.Context, b blobstore.Blob, p []byte, off int64) error {
	err := blobstore.ReadFull(ctx, b, p, off)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	return err
}

func encodeElems(dst []byte, src []uint32, e ElemType) {
	switch e {
	case ElemUint8:
		for i, v := range src {
			dst[i] = byte(v)
		}
	case ElemUint16:
		for i, v := range src {
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(v))
		}
	default:
		for i, v := range src {
			binary.LittleEndian.PutUint32(dst[4*i:], v)
		}
	}
}

func decodeElems(dst []uint32, src []byte, e ElemType) {
	switch e {
	case ElemUint8:
		for i := range dst {
			dst[i] = uint32(src[i])
		}
	case ElemUint16:
		for i := range dst {
			dst[i] = uint32(binary.LittleEndian.Uint16(src[2*i:]))
		}
	default:
		for i := range dst {
			dst[i] = binary.LittleEndian.Uint32(src[4*i:])
		}
	}
}
