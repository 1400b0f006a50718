// Package minio stores sketch files in MinIO or another S3-compatible
// service through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    return err
//	}
//	store := kwipminio.NewStore(client, "sketches", "run-17/")
//
// It does not need the AWS SDK, which makes it the lighter choice for
// on-premise clusters.
package minio
