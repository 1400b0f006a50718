// Package s3 stores sketch files in Amazon S3.
//
//	store, err := s3.New(ctx, "genomics-sketches", s3.WithPrefix("run-17/"))
//	if err != nil {
//		return err
//	}
//	blob, err := store.Open(ctx, "sample-001.kct")
//
// Reads are ranged GETs, one per block, so a streamed sketch never has to
// be downloaded whole. Wrap the store in a blobstore.CachingStore when the
// same sketches are streamed many times.
package s3
