// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package migrate_test

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
	"storj.io/hgloc/pkg/cache"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/pkg/meta"
	"storj.io/hgloc/pkg/migrate"
)

type fixture struct {
	resolver layout.Resolver
	metas    *meta.Store
	engine   *migrate.Engine
}

func newFixture(t *testing.T, ctx *testcontext.Context) *fixture {
	log := zaptest.NewLogger(t)
	resolver := layout.Resolver{
		StorePath:       ctx.Dir("store"),
		PublicStorePath: ctx.Dir("store_public"),
	}
	metas := meta.NewStore(log.Named("meta"), bucket.Normalization{})
	scanner := cache.NewScanner(log.Named("cache"), resolver, metas)
	return &fixture{
		resolver: resolver,
		metas:    metas,
		engine:   migrate.NewEngine(log, resolver, metas, scanner),
	}
}

func (f *fixture) legacy(t *testing.T, id assets.Identity, files map[string]string) string {
	dir := f.resolver.LocalDir(id, nil, false)
	for name, contents := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
	}
	return dir
}

var target = bucket.Config{Name: "my-bucket", Endpoint: "https://e.com"}

func TestMigrateOne(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	id := assets.Identity{Kind: assets.Dataset, ID: "glue", Config: "mnli", Revision: "main"}
	legacyDir := f.legacy(t, id, map[string]string{
		"dataset_info.json":  `{"splits": 3}`,
		"shards/part-0.data": "zeroes",
	})

	status, err := f.engine.One(ctx, id, legacyDir, target)
	require.NoError(t, err)
	assert.Equal(t, migrate.StatusMigrated, status)

	targetDir := f.resolver.LocalDir(id, &target, false)
	for name, contents := range map[string]string{
		"dataset_info.json":  `{"splits": 3}`,
		"shards/part-0.data": "zeroes",
	} {
		data, err := os.ReadFile(filepath.Join(targetDir, name))
		require.NoError(t, err)
		assert.Equal(t, contents, string(data))
	}

	// the sidecar records the target bucket
	rec, ok := f.metas.Read(targetDir)
	require.True(t, ok)
	assert.Equal(t, "my-bucket", rec.BucketName)
	assert.Equal(t, "dataset", rec.Type)

	// the legacy copy stays in place
	_, err = os.Stat(filepath.Join(legacyDir, "dataset_info.json"))
	require.NoError(t, err)
}

func TestMigrateOneIdempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	legacyDir := f.legacy(t, id, map[string]string{"dataset_info.json": "{}"})

	status, err := f.engine.One(ctx, id, legacyDir, target)
	require.NoError(t, err)
	assert.Equal(t, migrate.StatusMigrated, status)

	status, err = f.engine.One(ctx, id, legacyDir, target)
	require.NoError(t, err)
	assert.Equal(t, migrate.StatusSkipped, status)
}

func TestMigrateAll(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	for _, id := range []assets.Identity{
		{Kind: assets.Dataset, ID: "glue"},
		{Kind: assets.Dataset, ID: "squad", Config: "v2", Revision: "main"},
	} {
		f.legacy(t, id, map[string]string{"dataset_info.json": "{}"})
	}

	report, err := f.engine.All(ctx, assets.Dataset, target)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Equal(t, 0, report.Skipped)
	assert.Empty(t, report.Failed)

	// the second run migrates nothing new: the targets already carry
	// sidecars, so the legacy copies are counted as skipped
	report, err = f.engine.All(ctx, assets.Dataset, target)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Migrated)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, report.Failed)
}

func TestMigrateAllIgnoresForeignScoped(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	f.legacy(t, id, map[string]string{"dataset_info.json": "{}"})

	// a copy of the same asset already scoped to some other bucket
	// must not hide the legacy one from migration
	foreign := bucket.Config{Name: "bucket-b", Endpoint: "https://b.example.com"}
	foreignDir := f.resolver.LocalDir(id, &foreign, false)
	require.NoError(t, os.MkdirAll(foreignDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(foreignDir, "dataset_info.json"), []byte("{}"), 0644))
	require.NoError(t, f.metas.Write(foreignDir, foreign, id.Kind, false, time.Now()))

	report, err := f.engine.All(ctx, assets.Dataset, target)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, 0, report.Skipped)
	assert.Empty(t, report.Failed)

	rec, ok := f.metas.Read(f.resolver.LocalDir(id, &target, false))
	require.True(t, ok)
	assert.Equal(t, "my-bucket", rec.BucketName)
}

func TestMigrateAllSkipsScoped(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	id := assets.Identity{Kind: assets.Dataset, ID: "scoped"}
	dir := f.resolver.LocalDir(id, &target, false)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dataset_info.json"), []byte("{}"), 0644))

	report, err := f.engine.All(ctx, assets.Dataset, target)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Migrated)
	assert.Equal(t, 0, report.Skipped)
	assert.Empty(t, report.Failed)
}

func TestMigrateRequiresBucket(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	id := assets.Identity{Kind: assets.Dataset, ID: "glue"}
	legacyDir := f.legacy(t, id, map[string]string{"dataset_info.json": "{}"})

	_, err := f.engine.One(ctx, id, legacyDir, bucket.Config{})
	require.Error(t, err)
}
