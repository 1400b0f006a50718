// Package fs abstracts the file operations used by the checkpoint log.
//
// Production code uses [Default], which forwards to the os package. Tests
// wrap it in a [FaultyFS] to make appends, syncs or closes fail on demand
// and check that a broken checkpoint directory aborts a run.
package fs
