// Package metric defines pairwise comparisons between sketches and the
// reference kernels and distances.
//
// Every metric streams both sketches block by block, so a comparison never
// needs more memory than two blocks unless the sources are already
// materialised. Partial sums are kept per block and folded into the running
// total afterwards.
//
// Registered metrics:
//
//	ip         kernel    Σ aᵢbᵢ
//	wip        kernel    Σ aᵢbᵢwᵢ / (‖a‖₂‖b‖₂), wᵢ the population entropy of bin i
//	manhattan  distance  Σ|aᵢ-bᵢ| / (Σaᵢ + Σbᵢ)
//	l2         distance  Σ(aᵢ-bᵢ)² / (‖a‖₂‖b‖₂)
package metric
