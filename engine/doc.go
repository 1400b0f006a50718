// Package engine computes every pairwise comparison of a sample list.
//
// A run moves through Configured, Finalized, Running and then Completed or
// Failed. Samples are registered while Configured; Finalize freezes the
// list, allocates the result matrix, prepares the metric and opens the
// checkpoint directory, restoring earlier results when resuming.
//
// Run pulls flat matrix indices from a shared counter across a fixed set
// of workers. Each worker pins both sketches in a refcounted cache, applies
// the metric, stores the value and releases the pins. Completion events
// flow over a channel to a single aggregator that logs, reports progress
// and appends checkpoint records in the order they arrive.
//
// A failed comparison leaves its cell uncomputed and is reported as a
// *CompareError. With AbortOnError, workers stop taking new indices after
// the first failure; comparisons already in flight still finish. Broken
// cache bookkeeping and checkpoint write failures end the run at once.
package engine
