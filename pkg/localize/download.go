// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/pkg/publish"
	"storj.io/hgloc/storage"
)

// DownloadOptions control Download.
type DownloadOptions struct {
	// Public materializes into the public cache instead of the
	// bucket-scoped private cache.
	Public bool
	// AllowPublicFallback consults the public manifest when the
	// private tiers miss or are unreachable.
	AllowPublicFallback bool
}

// Download makes an asset version available locally and returns its
// directory. Resolution order: local cache (public copy preferred),
// private remote prefix via the index tiers, then the public manifest
// when allowed. The sidecar is written only after the full content
// transfer, so an interrupted download leaves no partially-visible
// copy.
func (engine *Engine) Download(ctx context.Context, id assets.Identity, opts DownloadOptions) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	unlock := engine.lockAsset(id)
	defer unlock()

	publicDir := engine.resolver.LocalDir(id, nil, true)
	if hasLocalCopy(publicDir, id.Kind) {
		return publicDir, nil
	}
	if !opts.Public {
		privateDir := engine.resolver.LocalDir(id, engine.bucketConf(), false)
		if hasLocalCopy(privateDir, id.Kind) {
			return privateDir, nil
		}
	}

	var tiers []string

	if engine.store != nil {
		dir, err := engine.downloadPrivate(ctx, id, opts.Public)
		if err == nil {
			return dir, nil
		}
		tiers = append(tiers, "private remote")
		if !storage.ErrKeyNotFound.Has(err) && !ErrNotFound.Has(err) {
			if !opts.AllowPublicFallback {
				return "", err
			}
			engine.log.Warn("private remote unreachable, trying public manifest",
				zap.Stringer("asset", id), zap.Error(err))
		}
	}

	if opts.AllowPublicFallback && engine.indexes != nil && engine.public != nil {
		dir, err := engine.downloadPublic(ctx, id)
		if err == nil {
			return dir, nil
		}
		tiers = append(tiers, "public manifest")
		if !storage.ErrKeyNotFound.Has(err) && !ErrNotFound.Has(err) {
			return "", err
		}
	}

	if len(tiers) == 0 {
		return "", ErrNotConfigured.New("asset %s not cached and no remote configured", id)
	}
	return "", ErrNotFound.New("%s (consulted: local cache, %s)", id, strings.Join(tiers, ", "))
}

// downloadPrivate fetches the asset from the bucket's private prefix
// into the appropriate cache directory.
func (engine *Engine) downloadPrivate(ctx context.Context, id assets.Identity, public bool) (string, error) {
	prefix := layout.RemotePrefix(id, engine.conf.Bucket)

	exists, err := engine.remoteExists(ctx, engine.store, prefix, id.Kind)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNotFound.New("%s not at private prefix %s", id, prefix)
	}

	dir := engine.resolver.LocalDir(id, engine.bucketConf(), public)
	if err := engine.downloadPrefix(ctx, engine.store, prefix, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := engine.metas.Write(dir, engine.conf.Bucket, id.Kind, public, time.Now()); err != nil {
		return "", err
	}
	engine.log.Info("downloaded asset from private prefix",
		zap.Stringer("asset", id), zap.String("dir", dir))
	return dir, nil
}

// downloadPublic fetches the asset's published archive named by the
// public manifest and unpacks it into the public cache.
func (engine *Engine) downloadPublic(ctx context.Context, id assets.Identity) (_ string, err error) {
	manifest, err := engine.indexes.FetchManifest(ctx, id.Kind)
	if err != nil {
		return "", err
	}
	entry, ok := manifest[id.Key().Encode()]
	if !ok {
		return "", ErrNotFound.New("%s not in public manifest", id)
	}

	archive, err := os.CreateTemp("", "hgloc-download-*.zip")
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() {
		if removeErr := os.Remove(archive.Name()); removeErr != nil && err == nil {
			err = Error.Wrap(removeErr)
		}
	}()
	if err := archive.Close(); err != nil {
		return "", Error.Wrap(err)
	}

	zipKey := engine.conf.Bucket.PrefixedKey(entry.S3ZipKey)
	if err := engine.public.GetFile(ctx, zipKey, archive.Name()); err != nil {
		return "", err
	}

	dir := engine.resolver.LocalDir(id, nil, true)
	if err := publish.Unzip(archive.Name(), dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	if err := engine.metas.Write(dir, engine.conf.Bucket, id.Kind, true, time.Now()); err != nil {
		return "", err
	}
	engine.log.Info("downloaded asset from public archive",
		zap.Stringer("asset", id), zap.String("dir", dir))
	return dir, nil
}
