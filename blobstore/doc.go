// Package blobstore abstracts where sketch files live.
//
// Sketches are immutable once written, so the interface is small: open for
// ranged reads, create or put whole blobs, delete and list. Reads take a
// context so that remote backends can honour cancellation of a run.
//
// # Implementations
//
//   - LocalStore: local files, read through a read-only mmap
//   - MemoryStore: in-process map, used by tests
//   - CachingStore: block cache in front of another store
//   - s3.Store and minio.Store: object storage with ranged GETs
package blobstore
