// Package resource governs the memory, load concurrency and read bandwidth
// used while sketches are brought into the cache.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   8 << 30,
//	    MaxConcurrentLoads: 2,
//	    IOLimitBytesPerSec: 200 << 20,
//	})
//
// Memory is an accounting budget rather than an allocator: the sketch cache
// reserves the size of each materialised sketch and evicts unpinned entries
// while the reservation fails. Sketches pinned by running comparisons can
// still be forced past the limit.
//
// Loads are bounded by a weighted semaphore so that a run with many workers
// does not issue more concurrent full-file reads than the storage can serve.
// Block reads pass through a token bucket when an IO limit is set.
//
// All methods are safe for concurrent use and are no-ops on a nil Controller.
package resource
