// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package meta_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/hgloc/internal/testcontext"
	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/meta"
)

func TestWriteRead(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := meta.NewStore(zaptest.NewLogger(t), bucket.Normalization{})
	conf := bucket.Config{
		Name:            "my-bucket",
		Endpoint:        "https://e.com",
		DataPrefix:      "data",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}

	dir := ctx.Dir("asset")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Write(dir, conf, assets.Model, true, now))

	rec, ok := store.Read(dir)
	require.True(t, ok)
	assert.Equal(t, "my-bucket", rec.BucketName)
	assert.Equal(t, "https://e.com", rec.EndpointURL)
	assert.Equal(t, "data", rec.DataPrefix)
	assert.Equal(t, "2024-05-01T12:00:00Z", rec.CachedTimestamp)
	assert.True(t, rec.IsPublic)
	assert.Equal(t, "model", rec.Type)

	// credentials are never persisted
	restored := rec.Context()
	assert.Empty(t, restored.AccessKeyID)
	assert.Empty(t, restored.SecretAccessKey)
	assert.Equal(t, conf.Name, restored.Name)
}

func TestReadMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := meta.NewStore(zaptest.NewLogger(t), bucket.Normalization{})
	_, ok := store.Read(ctx.Dir("empty"))
	assert.False(t, ok)
}

func TestReadCorrupt(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("asset")
	err := os.WriteFile(filepath.Join(dir, meta.SidecarName), []byte("{not json"), 0644)
	require.NoError(t, err)

	store := meta.NewStore(zaptest.NewLogger(t), bucket.Normalization{})
	_, ok := store.Read(dir)
	assert.False(t, ok)
}

func TestMatches(t *testing.T) {
	store := meta.NewStore(zaptest.NewLogger(t), bucket.Normalization{IgnoreScheme: true})

	rec := meta.Record{BucketName: "b", EndpointURL: "https://e.com", DataPrefix: "data"}
	assert.True(t, store.Matches(rec, bucket.Config{Name: "b", Endpoint: "http://e.com/", DataPrefix: "/data"}))
	assert.False(t, store.Matches(rec, bucket.Config{Name: "other", Endpoint: "https://e.com", DataPrefix: "data"}))
}
