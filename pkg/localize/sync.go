// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"

	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
)

// SyncFailure records one asset that failed to sync.
type SyncFailure struct {
	Identity assets.Identity
	Err      error
}

// SyncReport summarizes a bulk sync pass.
type SyncReport struct {
	Synced  []assets.Identity
	Skipped []assets.Identity
	Failed  []SyncFailure
}

// SyncLocalToRemote uploads one cached asset version to the bucket.
// The cached copy is located by provenance: the bucket-scoped
// directory first, the legacy directory as fallback. Returns the
// remote prefix.
func (engine *Engine) SyncLocalToRemote(ctx context.Context, id assets.Identity, makePublic bool) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if engine.store == nil {
		return "", ErrNotConfigured.New("sync needs bucket credentials")
	}

	dir := engine.resolver.LocalDir(id, engine.bucketConf(), false)
	if !hasLocalCopy(dir, id.Kind) {
		legacy := engine.resolver.LocalDir(id, nil, false)
		if !hasLocalCopy(legacy, id.Kind) {
			return "", ErrNotFound.New("%s has no cached copy to sync", id)
		}
		dir = legacy
	}
	return engine.Upload(ctx, id, dir, makePublic)
}

// SyncAllLocalToRemote uploads every cached copy of a kind that
// belongs to the engine's bucket. Public copies are skipped; they are
// distributed through the manifest, not the private prefix. Failures
// are collected per asset so one bad copy never aborts the pass.
func (engine *Engine) SyncAllLocalToRemote(ctx context.Context, kind assets.Kind, makePublic bool) (_ SyncReport, err error) {
	defer mon.Task()(&ctx)(&err)

	var report SyncReport
	if engine.store == nil {
		return report, ErrNotConfigured.New("sync needs bucket credentials")
	}

	records, err := engine.scanner.Scan(ctx, kind, engine.bucketConf(), true)
	if err != nil {
		return report, err
	}
	for _, record := range records {
		if record.IsPublic {
			report.Skipped = append(report.Skipped, record.Identity)
			continue
		}
		if _, err := engine.Upload(ctx, record.Identity, record.Path, makePublic); err != nil {
			engine.log.Warn("failed to sync cached asset",
				zap.Stringer("asset", record.Identity), zap.Error(err))
			report.Failed = append(report.Failed, SyncFailure{Identity: record.Identity, Err: err})
			continue
		}
		report.Synced = append(report.Synced, record.Identity)
	}
	return report, nil
}
