// Package cache holds the two caches used while computing pairwise values.
//
// [Cache] is the refcounted sketch cache. Entries are pinned while a
// comparison uses them and only unpinned entries are evicted, least recently
// used first. Storage is a slot map: a slice of slots, a free list and a
// key to slot index, so eviction is a filtered scan rather than pointer
// surgery on a linked list.
//
// [BlockCache] is a byte-bounded LRU of raw blob ranges. Remote blob stores
// wrap their blobs with it so that a sketch streamed once per comparison is
// fetched over the network once per run.
package cache
