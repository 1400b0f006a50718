// Package condensed maps the unique cells of a symmetric N×N matrix to a
// flat index and back.
//
// Two families are provided. Distance enumerates the strictly lower
// triangle (row > col), since a sample's distance to itself carries no
// information. Kernel enumerates the lower triangle including the diagonal
// (row >= col).
//
//	Distance, N=4          Kernel, N=3
//	   0  1  2               0  1  2
//	1  0                  0  0
//	2  1  2               1  1  2
//	3  3  4  5            2  3  4  5
//
// The inverse mapping is computed in floating point and then corrected
// against the forward formula, so it stays exact for indices far beyond
// the range where a float64 square root is precise.
package condensed
