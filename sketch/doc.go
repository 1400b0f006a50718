// Package sketch reads and writes k-mer count sketches.
//
// A sketch is a fixed-length vector of counts. On disk it is a single
// one-dimensional dataset split into fixed-size blocks, each optionally
// compressed with LZ4 or ZSTD and protected by a CRC32C checksum. Blocks
// are the unit of streamed I/O: a [Reader] walks them front to back and
// decodes each one into a caller-supplied buffer, so a sketch far larger
// than memory can be compared block by block.
//
// Two kinds of [Source] feed the metrics:
//
//   - *[Sketch]: fully materialised counts, produced by [Load].
//   - *[Stream]: a header plus a store reference; every call to Blocks
//     opens a fresh [Reader].
//
// Counts are widened to uint32 in memory whatever their width on disk.
package sketch
