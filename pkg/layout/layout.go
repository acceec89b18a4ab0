// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package layout maps asset identities to local cache directories and
// remote object key prefixes. Everything here is a pure function of
// its inputs; no I/O happens in this package.
package layout

import (
	"path"
	"path/filepath"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
)

// ByBucketDir is the subtree that holds bucket-scoped cached copies.
const ByBucketDir = "by_bucket"

// Well-known base keys of the class-level documents. They are stored
// under the bucket's data prefix.
const (
	datasetsIndexKey    = "private_datasets_index.json"
	modelsIndexKey      = "private_models_index.json"
	datasetsManifestKey = "public_datasets.json"
	modelsManifestKey   = "public_models.json"
	datasetsZipDir      = "public_datasets_zip"
	modelsZipDir        = "public_models_zip"
)

// Resolver computes cache directories and remote prefixes. The private
// and public roots are separate trees; public copies are bucket
// independent and never get a bucket segment.
type Resolver struct {
	StorePath       string
	PublicStorePath string
}

// LocalDir returns the cache directory for an asset version. conf may
// be nil for local-only mode, which yields the legacy layout under the
// private root.
func (r Resolver) LocalDir(id assets.Identity, conf *bucket.Config, public bool) string {
	version := []string{
		assets.SafeComponent(id.ID),
		assets.SafeComponent(id.ConfigOrDefault()),
		assets.SafeComponent(id.RevisionOrDefault()),
	}
	if public {
		return filepath.Join(append([]string{r.PublicStorePath, id.Kind.Dir()}, version...)...)
	}
	if conf != nil && conf.Configured() {
		return filepath.Join(append([]string{r.StorePath, id.Kind.Dir(), ByBucketDir, conf.Fingerprint()}, version...)...)
	}
	return filepath.Join(append([]string{r.StorePath, id.Kind.Dir()}, version...)...)
}

// KindRoot returns the private root of a kind's subtree.
func (r Resolver) KindRoot(kind assets.Kind) string {
	return filepath.Join(r.StorePath, kind.Dir())
}

// PublicKindRoot returns the public root of a kind's subtree.
func (r Resolver) PublicKindRoot(kind assets.Kind) string {
	return filepath.Join(r.PublicStorePath, kind.Dir())
}

// RemotePrefix returns the object key prefix holding the asset's files
// on the remote store, including the bucket's data prefix.
func RemotePrefix(id assets.Identity, conf bucket.Config) string {
	base := path.Join(
		id.Kind.RemoteBase(),
		assets.SafeComponent(id.ID),
		assets.SafeComponent(id.ConfigOrDefault()),
		assets.SafeComponent(id.RevisionOrDefault()),
	)
	return conf.PrefixedKey(base)
}

// IndexKey returns the object key of the class-level private index.
func IndexKey(conf bucket.Config, kind assets.Kind) string {
	if kind == assets.Model {
		return conf.PrefixedKey(modelsIndexKey)
	}
	return conf.PrefixedKey(datasetsIndexKey)
}

// ManifestKey returns the object key of the class-level public
// manifest.
func ManifestKey(conf bucket.Config, kind assets.Kind) string {
	if kind == assets.Model {
		return conf.PrefixedKey(modelsManifestKey)
	}
	return conf.PrefixedKey(datasetsManifestKey)
}

// ZipKeyRelative returns the archive key for an asset version relative
// to the data prefix. Manifest entries record this relative form.
func ZipKeyRelative(id assets.Identity) string {
	dir := datasetsZipDir
	if id.Kind == assets.Model {
		dir = modelsZipDir
	}
	return path.Join(dir, id.Key().Encode()+".zip")
}

// ZipKey returns the full archive key including the data prefix.
func ZipKey(id assets.Identity, conf bucket.Config) string {
	return conf.PrefixedKey(ZipKeyRelative(id))
}
