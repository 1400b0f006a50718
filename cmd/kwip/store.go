package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/hupe1980/kwip/blobstore"
	"github.com/hupe1980/kwip/blobstore/minio"
	"github.com/hupe1980/kwip/blobstore/s3"
	"github.com/hupe1980/kwip/internal/cache"
)

// openStore returns the sketch store described by cfg. Remote stores are
// fronted by a block cache so that streamed sketches are fetched once.
func openStore(ctx context.Context, cfg StoreConfig) (blobstore.BlobStore, error) {
	var (
		remote blobstore.BlobStore
		err    error
	)

	switch cfg.Kind {
	case "", "local":
		return blobstore.NewLocalStore(""), nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("store s3: bucket is required")
		}
		opts := []func(*s3.Options){s3.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Endpoint))
		}
		remote, err = s3.New(ctx, cfg.Bucket, opts...)
	case "minio":
		if cfg.Bucket == "" || cfg.Endpoint == "" {
			return nil, fmt.Errorf("store minio: bucket and endpoint are required")
		}
		remote, err = minio.Dial(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, !cfg.Insecure, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown store %q (want local, s3 or minio)", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Kind, err)
	}

	capacity, err := parseSize(cfg.BlockCache)
	if err != nil {
		return nil, fmt.Errorf("block-cache: %w", err)
	}
	if capacity == 0 {
		return remote, nil
	}
	return blobstore.NewCachingStore(remote, cache.NewBlockCache(capacity, nil), 0), nil
}

// newDynamoClient builds the DynamoDB client of the dynamodb checkpoint
// store from the default AWS config chain.
func newDynamoClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	if cfg.CheckpointTable == "" {
		return nil, fmt.Errorf("checkpoint format dynamodb: --checkpoint-table is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}
