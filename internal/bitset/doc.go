// Package bitset provides a fixed-size bitset that is safe for concurrent
// use without locks.
//
// Each bit lives in an atomic.Uint64 word, so goroutines may set distinct
// bits while others test or count. Used for the computed flags of a result
// matrix, which workers set as comparisons finish.
package bitset
