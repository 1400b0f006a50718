// Package matrix stores the result of a pairwise run: one value per unique
// cell of a symmetric matrix, laid out flat in condensed order, plus a flag
// per cell recording whether it has been computed.
//
// Workers write disjoint cells, so Set needs no locking as long as each
// flat index is assigned to exactly one goroutine. Reading is only
// meaningful after every writer has finished.
//
// Kernel matrices can be normalised, checked for positive
// semi-definiteness and converted to distance matrices:
//
//	norm, _ := matrix.Normalize(k)
//	dist, _ := matrix.KernelToDistance(k)
//	_ = matrix.WriteTSV(os.Stdout, names, dist)
package matrix
