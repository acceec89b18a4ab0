// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/index"
	"storj.io/hgloc/pkg/layout"
)

// Upload copies a locally materialized asset version to the bucket's
// private prefix, updates the private index, and optionally publishes
// it. Re-uploading an already present version skips the transfer, so
// the call is idempotent. Returns the remote prefix.
func (engine *Engine) Upload(ctx context.Context, id assets.Identity, localPath string, makePublic bool) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if engine.store == nil {
		return "", ErrNotConfigured.New("upload needs bucket credentials")
	}
	if !hasLocalCopy(localPath, id.Kind) {
		return "", Error.New("%s has no materialized copy at %s", id, localPath)
	}

	unlock := engine.lockAsset(id)
	defer unlock()

	prefix := layout.RemotePrefix(id, engine.conf.Bucket)

	exists, err := engine.remoteExists(ctx, engine.store, prefix, id.Kind)
	if err != nil {
		return "", err
	}
	if exists {
		engine.log.Debug("asset already at remote prefix, skipping transfer",
			zap.Stringer("asset", id), zap.String("prefix", prefix))
	} else {
		if err := engine.uploadDir(ctx, localPath, prefix); err != nil {
			return "", err
		}
		engine.log.Info("uploaded asset",
			zap.Stringer("asset", id), zap.String("prefix", prefix))
	}

	entry := index.NewEntry(id, prefix, engine.conf.Bucket.Name)
	var caps assets.Record
	localCapabilities(&caps, localPath, id.Kind)
	entry.HasCard = caps.HasCard
	entry.HasConfig = caps.HasConfig
	entry.HasTokenizer = caps.HasTokenizer
	entry.IsFullModel = caps.IsFullModel

	if err := engine.indexes.Update(ctx, id.Kind, id.Key(), entry); err != nil {
		return "", err
	}

	if makePublic {
		if _, err := engine.packager.PackageAndPublish(ctx, id, localPath); err != nil {
			return "", err
		}
		if err := engine.packager.MakeMetadataPublic(ctx, id, localPath); err != nil {
			return "", err
		}
	}

	// record provenance when uploading straight from the cache
	if filepath.Clean(localPath) == engine.resolver.LocalDir(id, engine.bucketConf(), false) {
		if err := engine.metas.Write(localPath, engine.conf.Bucket, id.Kind, false, time.Now()); err != nil {
			return "", err
		}
	}
	return prefix, nil
}
