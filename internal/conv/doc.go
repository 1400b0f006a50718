// Package conv provides checked integer conversions.
//
// Sketch headers carry fixed-width lengths and block counts read from disk;
// these helpers reject values that do not fit the target type instead of
// silently truncating them.
package conv
