// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/meta"
	"storj.io/hgloc/storage"
)

// remoteExists reports whether a materialized copy exists at the
// remote prefix, using the same markers as hasLocalCopy.
func (engine *Engine) remoteExists(ctx context.Context, store storage.Objects, prefix string, kind assets.Kind) (bool, error) {
	var names []string
	if kind == assets.Model {
		names = []string{assets.ModelCardFile, assets.ModelConfigFile}
	} else {
		names = assets.DatasetMarkerFiles
	}
	for _, name := range names {
		exists, err := storage.Exists(ctx, store, prefix+"/"+name)
		if err != nil {
			return false, Error.Wrap(err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// downloadPrefix fetches every object under prefix into dir,
// preserving relative structure. Transfers run in parallel, bounded by
// transferConcurrency.
func (engine *Engine) downloadPrefix(ctx context.Context, store storage.Objects, prefix, dir string) error {
	trimmed := strings.TrimRight(prefix, "/") + "/"

	group, groupCtx := errgroup.WithContext(ctx)
	limiter := make(chan struct{}, transferConcurrency)

	count := 0
	err := store.List(ctx, trimmed, func(info storage.ObjectInfo) error {
		key := info.Key
		rel := strings.TrimPrefix(key, trimmed)
		if rel == "" {
			return nil
		}
		count++
		group.Go(func() error {
			limiter <- struct{}{}
			defer func() { <-limiter }()
			return store.GetFile(groupCtx, key, filepath.Join(dir, filepath.FromSlash(rel)))
		})
		return nil
	})
	if waitErr := group.Wait(); err == nil {
		err = waitErr
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if count == 0 {
		return storage.ErrKeyNotFound.New("no objects under %s", trimmed)
	}
	return nil
}

// uploadDir uploads every regular file under dir to the remote prefix.
// The sidecar never leaves the machine.
func (engine *Engine) uploadDir(ctx context.Context, dir, prefix string) error {
	trimmed := strings.TrimRight(prefix, "/")

	group, groupCtx := errgroup.WithContext(ctx)
	limiter := make(chan struct{}, transferConcurrency)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.Mode().IsRegular() || filepath.Base(path) == meta.SidecarName {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := trimmed + "/" + filepath.ToSlash(rel)
		group.Go(func() error {
			limiter <- struct{}{}
			defer func() { <-limiter }()
			return engine.store.PutFile(groupCtx, key, path, storage.PutOptions{})
		})
		return nil
	})
	if waitErr := group.Wait(); err == nil {
		err = waitErr
	}
	return Error.Wrap(err)
}

// localCapabilities fills an index entry's capability flags from the
// files in dir.
func localCapabilities(entry *assets.Record, dir string, kind assets.Kind) {
	entry.HasCard = fileExists(filepath.Join(dir, kind.CardFile()))
	if kind != assets.Model {
		return
	}
	entry.HasConfig = fileExists(filepath.Join(dir, assets.ModelConfigFile))
	for _, name := range assets.ModelTokenizerFiles {
		if fileExists(filepath.Join(dir, name)) {
			entry.HasTokenizer = true
			break
		}
	}
	for _, name := range assets.ModelWeightFiles {
		if fileExists(filepath.Join(dir, name)) {
			entry.IsFullModel = true
			break
		}
	}
}
