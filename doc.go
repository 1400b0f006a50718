// Package kwip computes pairwise kernel and distance matrices between
// k-mer count sketches.
//
// Every sample is a sketch file: a fixed-length vector of counts produced by
// hashing k-mers into bins. For N samples kwip evaluates a metric on each
// unordered pair, N(N+1)/2 comparisons for a kernel (self-comparisons
// included) or N(N-1)/2 for a distance, spread over a pool of workers that
// share a refcounted sketch cache.
//
// # Quick Start
//
//	ctx := context.Background()
//	calc, _ := kwip.NewByName("wip", kwip.WithWorkers(8))
//	defer calc.Close()
//
//	for _, path := range paths {
//	    calc.AddSample(path)
//	}
//	res, err := calc.Compute(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res.WriteKernel(kernelFile)
//	res.WriteDistance(distFile)
//
// # Metrics
//
// Kernels (ip, wip) produce a symmetric matrix with diagonal, which Result
// normalises and converts into distances. Distances (manhattan, l2) are
// stored without diagonal. See package metric.
//
// # Large Inputs
//
// Sketches are read block by block. WithStreaming keeps only headers in the
// cache, WithMemoryLimit bounds resident counts and WithStore reads from a
// remote object store (see blobstore/s3 and blobstore/minio).
//
// # Checkpointing
//
// With WithCheckpointDir every comparison is appended to a log as it
// finishes. A killed run restarted with WithResume(true) skips the logged
// comparisons. A run that ends with failed comparisons can be run again on
// the same Calculator to retry only those.
package kwip
