// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/storage"
)

// presignExpiry is how long a presigned card URL stays valid.
const presignExpiry = time.Hour

// CardContent returns the asset's card, resolving it in tiers: the
// public cache, the bucket-scoped private cache, the private remote
// prefix with credentials, and finally an anonymous read of the card
// object for public-read cards. Cards fetched remotely are cached
// locally for subsequent calls.
func (engine *Engine) CardContent(ctx context.Context, id assets.Identity) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	name := id.Kind.CardFile()

	for _, dir := range []string{
		engine.resolver.LocalDir(id, nil, true),
		engine.resolver.LocalDir(id, engine.bucketConf(), false),
	} {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data, nil
		} else if !os.IsNotExist(err) {
			return nil, Error.Wrap(err)
		}
	}

	if !engine.conf.Bucket.Configured() {
		return nil, ErrNotFound.New("%s card is not cached and no bucket is configured", id)
	}
	key := layout.RemotePrefix(id, engine.conf.Bucket) + "/" + name

	if engine.store != nil {
		data, _, err := engine.store.Get(ctx, key)
		if err == nil {
			engine.cacheCard(id, name, data)
			return data, nil
		}
		if !storage.ErrKeyNotFound.Has(err) {
			return nil, err
		}
	}

	if engine.public == nil {
		return nil, ErrNotFound.New("%s card is not cached", id)
	}

	// public-read metadata is readable without credentials
	data, _, err := engine.public.Get(ctx, key)
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, ErrNotFound.New("%s has no card", id)
		}
		return nil, err
	}
	engine.cacheCard(id, name, data)
	return data, nil
}

// cacheCard writes a remotely fetched card into the bucket-scoped
// cache directory. Failures only cost the cache hit, so they are
// logged and swallowed.
func (engine *Engine) cacheCard(id assets.Identity, name string, data []byte) {
	dir := engine.resolver.LocalDir(id, engine.bucketConf(), false)
	if err := os.MkdirAll(dir, 0755); err != nil {
		engine.log.Warn("failed to cache card locally", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		engine.log.Warn("failed to cache card locally", zap.Error(err))
	}
}

// CardPresignedURL returns a time-limited URL for the asset's card
// object on the private prefix. Requires credentials and the card to
// exist remotely.
func (engine *Engine) CardPresignedURL(ctx context.Context, id assets.Identity) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if engine.store == nil {
		return "", ErrNotConfigured.New("presigning needs bucket credentials")
	}
	key := layout.RemotePrefix(id, engine.conf.Bucket) + "/" + id.Kind.CardFile()

	if _, err := engine.store.Stat(ctx, key); err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return "", ErrNotFound.New("%s has no card at %s", id, key)
		}
		return "", err
	}
	return engine.store.Presign(ctx, key, presignExpiry)
}
