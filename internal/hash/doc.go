// Package hash provides the checksum used by the sketch file format.
//
// Sketch headers and every stored block carry a CRC32-Castagnoli checksum of
// their uncompressed bytes. Go's hash/crc32 uses the SSE4.2 and ARM CRC
// instructions for this polynomial when they are available.
//
//	sum := hash.CRC32C(block)
//
// Streaming use:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(name)
//	sum := h.Sum32()
package hash
