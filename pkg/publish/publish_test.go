// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package publish_test

import (
	"archive/zip"
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
	"storj.io/hgloc/pkg/index"
	"storj.io/hgloc/pkg/meta"
	"storj.io/hgloc/pkg/publish"
	"storj.io/hgloc/storage/teststore"
)

var testBucket = bucket.Config{Name: "my-bucket", DataPrefix: "data"}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	for name, contents := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
	}
}

func TestZipRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	src := ctx.Dir("src")
	files := map[string]string{
		"dataset_info.json":  `{"splits": 1}`,
		"shards/part-0.data": "payload",
		"dataset_card.md":    "# card",
	}
	writeFiles(t, src, files)

	// the sidecar must not travel inside the archive
	metas := meta.NewStore(zaptest.NewLogger(t), bucket.Normalization{})
	require.NoError(t, metas.Write(src, testBucket, assets.Dataset, false, time.Now()))

	zipPath := ctx.File("out.zip")
	require.NoError(t, publish.ZipDirectory(src, zipPath))

	dst := ctx.Dir("dst")
	require.NoError(t, publish.Unzip(zipPath, dst))

	for name, contents := range files {
		data, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err, name)
		assert.Equal(t, contents, string(data), name)
	}
	_, err := os.Stat(filepath.Join(dst, meta.SidecarName))
	assert.True(t, os.IsNotExist(err))
}

func TestPackageAndPublish(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	store := teststore.New()
	indexes := index.NewManager(log.Named("index"), store, testBucket)
	packager := publish.NewPackager(log, store, testBucket, indexes)

	id := assets.Identity{Kind: assets.Dataset, ID: "glue", Config: "mnli", Revision: "main"}
	dir := ctx.Dir("asset")
	writeFiles(t, dir, map[string]string{
		"dataset_info.json": "{}",
		"dataset_card.md":   "# glue",
	})

	zipKey, err := packager.PackageAndPublish(ctx, id, dir)
	require.NoError(t, err)
	assert.Equal(t, "data/public_datasets_zip/glue---mnli---main.zip", zipKey)

	// the archive is stored open-read
	assert.True(t, store.IsPublic(zipKey))

	manifest, err := indexes.FetchManifest(ctx, assets.Dataset)
	require.NoError(t, err)
	require.Len(t, manifest, 1)

	entry := manifest[id.Key().Encode()]
	assert.Equal(t, "glue", entry.DatasetID)
	assert.Equal(t, "mnli", entry.ConfigName)
	assert.Equal(t, "main", entry.Revision)
	assert.Equal(t, "public_datasets_zip/glue---mnli---main.zip", entry.S3ZipKey)
	assert.Equal(t, "my-bucket", entry.S3Bucket)
	assert.True(t, entry.HasCard)

	// republishing the same version overwrites in place
	_, err = packager.PackageAndPublish(ctx, id, dir)
	require.NoError(t, err)
	manifest, err = indexes.FetchManifest(ctx, assets.Dataset)
	require.NoError(t, err)
	assert.Len(t, manifest, 1)
}

func TestMakeMetadataPublic(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	store := teststore.New()
	indexes := index.NewManager(log.Named("index"), store, testBucket)
	packager := publish.NewPackager(log, store, testBucket, indexes)

	id := assets.Identity{Kind: assets.Model, ID: "gpt2", Revision: "main"}
	dir := ctx.Dir("model")
	writeFiles(t, dir, map[string]string{
		"model_card.md": "# gpt2",
		"config.json":   "{}",
	})

	require.NoError(t, packager.MakeMetadataPublic(ctx, id, dir))

	prefix := "data/models/gpt2/default_config/main"
	assert.True(t, store.IsPublic(prefix+"/model_card.md"))
	assert.True(t, store.IsPublic(prefix+"/config.json"))
}

func TestUnzipRejectsEscapes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// hand-build an archive with a traversal entry
	zipPath := ctx.File("evil.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)

	writer := zip.NewWriter(out)
	entry, err := writer.Create("../escape.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("boom"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())

	err = publish.Unzip(zipPath, ctx.Dir("dst"))
	require.Error(t, err)
}
