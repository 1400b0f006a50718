// Package testutil provides helpers for tests and benchmarks.
//
// RNG is a seeded, mutex-guarded random source that generates count
// vectors shaped like real k-mer sketches: mostly zeros with a long tail of
// small counts.
//
//	rng := testutil.NewRNG(4711)
//	counts := rng.SparseCounts(1<<16, 0.2, 255)
package testutil
