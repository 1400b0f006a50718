package sketch

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/kwip/internal/pool"
)

// Compression selects the block codec.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 decodes fastest and suits sketches that are streamed
	// once per comparison.
	CompressionLZ4 Compression = 1
	// CompressionZSTD gives smaller files for archival.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a codec name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "raw":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

func (c Compression) valid() bool {
	return c <= CompressionZSTD
}

// Blocks are stored raw unless compression saves at least 10%.
const maxCompressionRatio = 0.9

var (
	zstdEncoderPool = pool.New(func() *zstd.Encoder {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		return enc
	}, nil)
	zstdDecoderPool = pool.New(func() *zstd.Decoder {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}, nil)
)

// compressBlock compresses data into dst. It returns nil when the block
// should be stored raw.
func compressBlock(dst, data []byte, c Compression) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var out []byte
	switch c {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		if cap(dst) < bound {
			dst = make([]byte, bound)
		}
		n, err := lz4.CompressBlock(data, dst[:bound], nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		out = dst[:n]
	case CompressionZSTD:
		enc := zstdEncoderPool.Get()
		out = enc.EncodeAll(data, dst[:0])
		zstdEncoderPool.Put(enc)
	default:
		return nil, nil
	}

	if float64(len(out)) > float64(len(data))*maxCompressionRatio {
		return nil, nil
	}
	return out, nil
}

// decompressBlock inflates src into dst, which must have length size.
func decompressBlock(dst, src []byte, c Compression) ([]byte, error) {
	size := len(dst)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, fmt.Errorf("lz4 block inflated to %d bytes, want %d", n, size)
		}
		return dst, nil
	case CompressionZSTD:
		dec := zstdDecoderPool.Get()
		out, err := dec.DecodeAll(src, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, err
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd block inflated to %d bytes, want %d", len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("compressed block in a file using %s", c)
}
