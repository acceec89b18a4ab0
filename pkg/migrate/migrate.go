// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate moves cached assets from the legacy layout into the
// bucket-scoped layout. Migration is additive: the legacy copy is
// never deleted, and re-running is a no-op.
package migrate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/cache"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/pkg/meta"
)

var (
	mon = monkit.Package()

	// Error is the default migrate error class.
	Error = errs.Class("migrate error")
)

// Status reports what One did for a single asset.
type Status int

// Migration outcomes.
const (
	StatusMigrated Status = iota
	StatusSkipped
)

// Failure records one asset that could not be migrated.
type Failure struct {
	Identity assets.Identity
	Err      error
}

// Report summarizes a batch migration.
type Report struct {
	Migrated int
	Skipped  int
	Failed   []Failure
}

// Engine performs layout migrations.
type Engine struct {
	log      *zap.Logger
	resolver layout.Resolver
	metas    *meta.Store
	scanner  *cache.Scanner
}

// NewEngine creates a migration engine.
func NewEngine(log *zap.Logger, resolver layout.Resolver, metas *meta.Store, scanner *cache.Scanner) *Engine {
	return &Engine{log: log, resolver: resolver, metas: metas, scanner: scanner}
}

// One migrates a single legacy copy into the bucket-scoped location
// for target. An existing sidecar at the target means the asset is
// already migrated and the call is a no-op. The legacy copy stays in
// place.
func (engine *Engine) One(ctx context.Context, id assets.Identity, legacyDir string, target bucket.Config) (_ Status, err error) {
	defer mon.Task()(&ctx)(&err)

	if !target.Configured() {
		return 0, Error.New("no target bucket configured")
	}

	targetDir := engine.resolver.LocalDir(id, &target, false)
	if _, ok := engine.metas.Read(targetDir); ok {
		engine.log.Debug("already migrated", zap.Stringer("asset", id), zap.String("dir", targetDir))
		return StatusSkipped, nil
	}

	if err := copyTree(legacyDir, targetDir); err != nil {
		// do not leave a half-copied target that a later run would
		// mistake for a migrated asset; without a sidecar it stays
		// invisible to filtered listings, but remove the debris anyway
		_ = os.RemoveAll(targetDir)
		return 0, Error.Wrap(err)
	}
	if err := engine.metas.Write(targetDir, target, id.Kind, false, time.Now()); err != nil {
		return 0, Error.Wrap(err)
	}

	engine.log.Info("migrated asset to bucket-scoped layout",
		zap.Stringer("asset", id), zap.String("from", legacyDir), zap.String("to", targetDir))
	return StatusMigrated, nil
}

// All migrates every legacy copy of the kind into target's layout.
// Individual failures are collected in the report and do not stop the
// batch.
func (engine *Engine) All(ctx context.Context, kind assets.Kind, target bucket.Config) (_ Report, err error) {
	defer mon.Task()(&ctx)(&err)

	records, err := engine.scanner.Scan(ctx, kind, nil, false)
	if err != nil {
		return Report{}, Error.Wrap(err)
	}

	var report Report
	for _, record := range records {
		if record.BucketScoped || record.IsPublic {
			continue
		}
		status, err := engine.One(ctx, record.Identity, record.Path, target)
		switch {
		case err != nil:
			engine.log.Warn("migration failed", zap.Stringer("asset", record.Identity), zap.Error(err))
			report.Failed = append(report.Failed, Failure{Identity: record.Identity, Err: err})
		case status == StatusSkipped:
			report.Skipped++
		default:
			report.Migrated++
		}
	}
	return report, nil
}

// copyTree copies all regular files under src into dst, preserving
// relative structure. The sidecar is not copied; the target gets its
// own.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.MkdirAll(filepath.Join(dst, rel), 0755)
		}
		if !info.Mode().IsRegular() || filepath.Base(path) == meta.SidecarName {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, in.Close()) }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, out.Close()) }()

	_, err = io.Copy(out, in)
	return err
}
