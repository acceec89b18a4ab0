// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package publish packages assets for credential-free distribution: a
// deterministic zip archive uploaded with open-read access plus an
// entry in the public manifest.
package publish

import (
	"context"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/index"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/storage"
)

var (
	mon = monkit.Package()

	// Error is the default publish error class.
	Error = errs.Class("publish error")
)

// Packager archives and publishes assets.
type Packager struct {
	log     *zap.Logger
	store   storage.Objects
	conf    bucket.Config
	indexes *index.Manager
}

// NewPackager creates a Packager.
func NewPackager(log *zap.Logger, store storage.Objects, conf bucket.Config, indexes *index.Manager) *Packager {
	return &Packager{log: log, store: store, conf: conf, indexes: indexes}
}

// PackageAndPublish archives everything under dir, uploads the archive
// with open-read access and upserts the public manifest entry. The
// archive name derives from the identity alone, so republishing the
// same version overwrites in place. Returns the archive's full object
// key.
func (packager *Packager) PackageAndPublish(ctx context.Context, id assets.Identity, dir string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	archive, err := os.CreateTemp("", "hgloc-archive-*.zip")
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, archive.Close(), os.Remove(archive.Name()))
	}()

	if err := ZipDirectory(dir, archive.Name()); err != nil {
		return "", err
	}

	zipKey := layout.ZipKey(id, packager.conf)
	err = packager.store.PutFile(ctx, zipKey, archive.Name(), storage.PutOptions{
		ContentType: "application/zip",
		PublicRead:  true,
	})
	if err != nil {
		return "", Error.Wrap(err)
	}

	entry := index.ManifestEntry{
		ConfigName: id.Config,
		Revision:   id.Revision,
		S3ZipKey:   layout.ZipKeyRelative(id),
		S3Bucket:   packager.conf.Name,
		HasCard:    fileExists(filepath.Join(dir, id.Kind.CardFile())),
	}
	if id.Kind == assets.Model {
		entry.ModelID = id.ID
	} else {
		entry.DatasetID = id.ID
	}
	if err := packager.indexes.UpsertManifest(ctx, id.Kind, id.Key(), entry); err != nil {
		return "", err
	}

	packager.log.Info("published asset archive",
		zap.Stringer("asset", id), zap.String("key", zipKey))
	return zipKey, nil
}

// MakeMetadataPublic re-uploads the card and, for models, the config
// file with an open-read ACL so anonymous clients can read them
// without unpacking the archive.
func (packager *Packager) MakeMetadataPublic(ctx context.Context, id assets.Identity, dir string) (err error) {
	defer mon.Task()(&ctx)(&err)

	names := []string{id.Kind.CardFile()}
	if id.Kind == assets.Model {
		names = append(names, assets.ModelConfigFile)
	}

	prefix := layout.RemotePrefix(id, packager.conf)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		err := packager.store.PutFile(ctx, prefix+"/"+name, path, storage.PutOptions{PublicRead: true})
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
