// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/hgloc/internal/testcontext"
	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/index"
	"storj.io/hgloc/storage"
	"storj.io/hgloc/storage/teststore"
)

var testBucket = bucket.Config{Name: "my-bucket", DataPrefix: "data"}

func TestUpdateFetch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	manager := index.NewManager(zaptest.NewLogger(t), store, testBucket)

	id := assets.Identity{Kind: assets.Dataset, ID: "dreamerdeo/finqa", Config: "mnli", Revision: "main"}
	entry := index.NewEntry(id, "data/dreamerdeo_finqa/mnli/main", "my-bucket")
	entry.HasCard = true

	require.NoError(t, manager.Update(ctx, assets.Dataset, id.Key(), entry))

	doc, found, err := manager.Fetch(ctx, assets.Dataset)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, doc, 1)

	got := doc[id.Key().Encode()]
	assert.Equal(t, "dreamerdeo/finqa", got.DatasetID)
	assert.Equal(t, "mnli", got.ConfigName)
	assert.Equal(t, "main", got.Revision)
	assert.Equal(t, "data/dreamerdeo_finqa/mnli/main", got.S3Prefix)
	assert.Equal(t, "my-bucket", got.S3Bucket)
	assert.True(t, got.HasCard)
	assert.Equal(t, id, got.Identity(assets.Dataset))

	// the index document itself stays private
	assert.False(t, store.IsPublic("data/private_datasets_index.json"))
}

func TestFetchMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := index.NewManager(zaptest.NewLogger(t), teststore.New(), testBucket)

	doc, found, err := manager.Fetch(ctx, assets.Dataset)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestRemove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := index.NewManager(zaptest.NewLogger(t), teststore.New(), testBucket)

	id := assets.Identity{Kind: assets.Model, ID: "gpt2"}
	require.NoError(t, manager.Update(ctx, assets.Model, id.Key(), index.NewEntry(id, "data/models/gpt2", "my-bucket")))
	require.NoError(t, manager.Remove(ctx, assets.Model, id.Key()))

	doc, found, err := manager.Fetch(ctx, assets.Model)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, doc)

	// removing again is a no-op
	require.NoError(t, manager.Remove(ctx, assets.Model, id.Key()))
}

func TestFetchCorrupt(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	manager := index.NewManager(zaptest.NewLogger(t), store, testBucket)

	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	require.NoError(t, manager.Update(ctx, assets.Dataset, id.Key(), index.NewEntry(id, "data/glue", "my-bucket")))
	store.Corrupt("data/private_datasets_index.json")

	_, _, err := manager.Fetch(ctx, assets.Dataset)
	require.Error(t, err)
	assert.True(t, index.ErrCorrupt.Has(err))

	// the next update replaces the corrupt document
	require.NoError(t, manager.Update(ctx, assets.Dataset, id.Key(), index.NewEntry(id, "data/glue", "my-bucket")))
	doc, found, err := manager.Fetch(ctx, assets.Dataset)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, doc, 1)
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// separate managers share no in-process locks, so both present
	// entries prove the conditional-write retry works
	store := teststore.New()
	first := index.NewManager(zaptest.NewLogger(t), store, testBucket)
	second := index.NewManager(zaptest.NewLogger(t), store, testBucket)

	idA := assets.Identity{Kind: assets.Dataset, ID: "a"}
	idB := assets.Identity{Kind: assets.Dataset, ID: "b"}

	ctx.Go(func() error {
		return first.Update(ctx, assets.Dataset, idA.Key(), index.NewEntry(idA, "data/a", "my-bucket"))
	})
	ctx.Go(func() error {
		return second.Update(ctx, assets.Dataset, idB.Key(), index.NewEntry(idB, "data/b", "my-bucket"))
	})
	ctx.Wait()

	doc, found, err := first.Fetch(ctx, assets.Dataset)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, doc, 2)
	assert.Contains(t, doc, idA.Key().Encode())
	assert.Contains(t, doc, idB.Key().Encode())
}

// conflictingStore loses every conditional write, as if another writer
// always sneaks in between the read and the put.
type conflictingStore struct {
	storage.Objects
}

func (store conflictingStore) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, storage.ErrETagMismatch.New("%s: lost the race", key)
}

func TestUpdateGivesUpAfterConflicts(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := index.NewManager(zaptest.NewLogger(t), conflictingStore{teststore.New()}, testBucket)

	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	err := manager.Update(ctx, assets.Dataset, id.Key(), index.NewEntry(id, "data/glue", "my-bucket"))
	require.Error(t, err)
	assert.True(t, index.ErrWriteConflict.Has(err))
}

func TestManifest(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	manager := index.NewManager(zaptest.NewLogger(t), store, testBucket)

	// missing manifest is an empty manifest
	manifest, err := manager.FetchManifest(ctx, assets.Dataset)
	require.NoError(t, err)
	assert.Empty(t, manifest)

	id := assets.Identity{Kind: assets.Dataset, ID: "glue", Config: "mnli", Revision: "main"}
	entry := index.ManifestEntry{
		DatasetID:  "glue",
		ConfigName: "mnli",
		Revision:   "main",
		S3ZipKey:   "public_datasets_zip/glue---mnli---main.zip",
		S3Bucket:   "my-bucket",
		HasCard:    true,
	}
	require.NoError(t, manager.UpsertManifest(ctx, assets.Dataset, id.Key(), entry))

	manifest, err = manager.FetchManifest(ctx, assets.Dataset)
	require.NoError(t, err)
	require.Len(t, manifest, 1)
	assert.Equal(t, entry, manifest[id.Key().Encode()])
	assert.Equal(t, "glue", manifest[id.Key().Encode()].AssetID())

	// manifests are published with open-read access
	assert.True(t, store.IsPublic("data/public_datasets.json"))

	// corrupt manifests degrade to empty, never to an error
	store.Corrupt("data/public_datasets.json")
	manifest, err = manager.FetchManifest(ctx, assets.Dataset)
	require.NoError(t, err)
	assert.Empty(t, manifest)
}
