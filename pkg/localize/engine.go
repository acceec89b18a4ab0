// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package localize is the top level of the sync engine: it composes
// the path resolver, cache scanner, remote index manager, migration
// engine and public packager behind the download/upload/list surface
// that external callers use.
package localize

import (
	"context"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/internal/sync2"
	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/cache"
	"storj.io/hgloc/pkg/index"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/pkg/meta"
	"storj.io/hgloc/pkg/migrate"
	"storj.io/hgloc/pkg/publish"
	"storj.io/hgloc/storage"
	"storj.io/hgloc/storage/s3store"
)

var (
	mon = monkit.Package()

	// Error is the default localize error class.
	Error = errs.Class("localize error")
	// ErrNotConfigured is returned when an operation needs a bucket or
	// credentials that were not supplied.
	ErrNotConfigured = errs.Class("not configured")
	// ErrNotFound is returned when an asset is absent locally and in
	// every consulted remote tier.
	ErrNotFound = errs.Class("asset not found")
)

// transferConcurrency bounds parallel per-file transfers within one
// asset.
const transferConcurrency = 8

// Config configures an Engine. It is passed explicitly; the engine
// never reads ambient state.
type Config struct {
	// StorePath is the private cache root.
	StorePath string
	// PublicStorePath is the public cache root. Defaults to
	// StorePath + "_public".
	PublicStorePath string

	Bucket        bucket.Config
	Normalization bucket.Normalization
}

// Engine is the sync orchestrator. It is safe for concurrent use;
// operations on the same asset under the same bucket are serialized
// internally.
type Engine struct {
	log  *zap.Logger
	conf Config

	resolver layout.Resolver
	metas    *meta.Store
	scanner  *cache.Scanner
	migrator *migrate.Engine

	// store is the authenticated client, nil without credentials.
	// public is the anonymous client, nil without a bucket. indexes
	// uses store when available, public otherwise.
	store    storage.Objects
	public   storage.Objects
	indexes  *index.Manager
	packager *publish.Packager

	locks sync2.Locker
}

// New assembles an engine over explicit object store clients. store
// must be an authenticated client or nil; public an anonymous client
// for open-read access or nil. Tests inject in-memory stores here;
// production callers use Open.
func New(log *zap.Logger, conf Config, store, public storage.Objects) *Engine {
	if conf.PublicStorePath == "" {
		conf.PublicStorePath = conf.StorePath + "_public"
	}

	resolver := layout.Resolver{
		StorePath:       conf.StorePath,
		PublicStorePath: conf.PublicStorePath,
	}
	metas := meta.NewStore(log.Named("meta"), conf.Normalization)
	scanner := cache.NewScanner(log.Named("cache"), resolver, metas)

	engine := &Engine{
		log:      log,
		conf:     conf,
		resolver: resolver,
		metas:    metas,
		scanner:  scanner,
		migrator: migrate.NewEngine(log.Named("migrate"), resolver, metas, scanner),
		store:    store,
		public:   public,
	}

	indexStore := store
	if indexStore == nil {
		indexStore = public
	}
	if indexStore != nil {
		engine.indexes = index.NewManager(log.Named("index"), indexStore, conf.Bucket)
	}
	if store != nil {
		engine.packager = publish.NewPackager(log.Named("publish"), store, conf.Bucket, engine.indexes)
	}
	return engine
}

// Open assembles an engine, dialing the configured bucket. Without a
// bucket the engine runs local-only; without credentials it runs in
// public-read-only mode.
func Open(log *zap.Logger, conf Config) (*Engine, error) {
	if !conf.Bucket.Configured() {
		return New(log, conf, nil, nil), nil
	}

	anonConf := conf.Bucket
	anonConf.AccessKeyID, anonConf.SecretAccessKey = "", ""
	public, err := s3store.New(log.Named("s3"), anonConf)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var store storage.Objects
	if conf.Bucket.HasCredentials() {
		authed, err := s3store.New(log.Named("s3"), conf.Bucket)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		store = authed
	}
	return New(log, conf, store, public), nil
}

// bucketConf returns the configured bucket context, or nil when the
// engine runs local-only.
func (engine *Engine) bucketConf() *bucket.Config {
	if !engine.conf.Bucket.Configured() {
		return nil
	}
	conf := engine.conf.Bucket
	return &conf
}

// lockAsset serializes operations on one asset version under the
// engine's bucket.
func (engine *Engine) lockAsset(id assets.Identity) (unlock func()) {
	return engine.locks.Lock(string(id.Kind) + "/" + id.Key().Encode() + "@" + engine.conf.Bucket.Fingerprint())
}

// MigrateOne moves a single legacy cached copy into the bucket-scoped
// layout for the engine's bucket.
func (engine *Engine) MigrateOne(ctx context.Context, id assets.Identity, legacyDir string) (_ migrate.Status, err error) {
	defer mon.Task()(&ctx)(&err)

	if !engine.conf.Bucket.Configured() {
		return 0, ErrNotConfigured.New("migration needs a target bucket")
	}
	return engine.migrator.One(ctx, id, legacyDir, engine.conf.Bucket)
}

// MigrateAll migrates every legacy cached copy of a kind.
func (engine *Engine) MigrateAll(ctx context.Context, kind assets.Kind) (_ migrate.Report, err error) {
	defer mon.Task()(&ctx)(&err)

	if !engine.conf.Bucket.Configured() {
		return migrate.Report{}, ErrNotConfigured.New("migration needs a target bucket")
	}
	return engine.migrator.All(ctx, kind, engine.conf.Bucket)
}

// hasLocalCopy reports whether dir holds a materialized copy: the
// marker files for datasets, card or config for models.
func hasLocalCopy(dir string, kind assets.Kind) bool {
	if kind == assets.Model {
		return fileExists(filepath.Join(dir, assets.ModelCardFile)) ||
			fileExists(filepath.Join(dir, assets.ModelConfigFile))
	}
	for _, marker := range assets.DatasetMarkerFiles {
		if fileExists(filepath.Join(dir, marker)) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
