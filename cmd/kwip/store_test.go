package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kwip/blobstore"
)

func TestOpenStore(t *testing.T) {
	store, err := openStore(t.Context(), StoreConfig{Kind: "local"})
	require.NoError(t, err)
	assert.IsType(t, &blobstore.LocalStore{}, store)

	store, err = openStore(t.Context(), StoreConfig{
		Kind:       "minio",
		Bucket:     "sketches",
		Endpoint:   "localhost:9000",
		AccessKey:  "key",
		SecretKey:  "secret",
		BlockCache: "16M",
	})
	require.NoError(t, err)
	assert.IsType(t, &blobstore.CachingStore{}, store)

	for _, cfg := range []StoreConfig{
		{Kind: "ftp"},
		{Kind: "s3"},
		{Kind: "minio", Bucket: "b"},
		{Kind: "minio", Bucket: "b", Endpoint: "localhost:9000", BlockCache: "lots"},
	} {
		_, err := openStore(t.Context(), cfg)
		assert.Error(t, err, cfg.Kind)
	}
}

func TestNewDynamoClient(t *testing.T) {
	_, err := newDynamoClient(t.Context(), &Config{StoreConfig: StoreConfig{Region: "eu-west-1"}})
	assert.ErrorContains(t, err, "checkpoint-table")

	client, err := newDynamoClient(t.Context(), &Config{
		CheckpointTable: "kwip-checkpoints",
		StoreConfig:     StoreConfig{Region: "eu-west-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", client.Options().Region)
}
