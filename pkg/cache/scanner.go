// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package cache enumerates the local asset cache. It walks the
// bucket-scoped and legacy subtrees of the private store and the
// public store, reads sidecars, and applies the bucket filtering and
// deduplication rules.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/pkg/meta"
)

var (
	mon = monkit.Package()

	// Error is the default cache error class.
	Error = errs.Class("cache error")
)

// Scanner walks the local store trees.
type Scanner struct {
	log      *zap.Logger
	resolver layout.Resolver
	metas    *meta.Store
}

// NewScanner creates a Scanner.
func NewScanner(log *zap.Logger, resolver layout.Resolver, metas *meta.Store) *Scanner {
	return &Scanner{log: log, resolver: resolver, metas: metas}
}

// Scan enumerates cached assets of a kind. conf may be nil for
// local-only mode. With filterByBucket set, bucket-scoped and legacy
// copies are included only when their sidecar matches conf (or when
// both sidecar and conf are absent); public copies are bucket
// independent and always included. A public copy subsumes any other
// copy of the same version, and a bucket-scoped copy subsumes the
// legacy one only when its sidecar matches conf; a scoped copy for a
// different bucket leaves the legacy record visible.
func (scanner *Scanner) Scan(ctx context.Context, kind assets.Kind, conf *bucket.Config, filterByBucket bool) (_ []assets.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	var records []assets.Record

	publicRecords, err := scanner.scanTree(scanner.resolver.PublicKindRoot(kind), kind, "", true)
	if err != nil {
		return nil, err
	}
	records = append(records, publicRecords...)

	byBucket := filepath.Join(scanner.resolver.KindRoot(kind), layout.ByBucketDir)
	fingerprints, err := readDirNames(byBucket)
	if err != nil {
		return nil, err
	}
	for _, fingerprint := range fingerprints {
		if filterByBucket && conf != nil && conf.Configured() && fingerprint != conf.Fingerprint() {
			continue
		}
		scoped, err := scanner.scanTree(filepath.Join(byBucket, fingerprint), kind, fingerprint, false)
		if err != nil {
			return nil, err
		}
		records = append(records, scoped...)
	}

	legacy, err := scanner.scanTree(scanner.resolver.KindRoot(kind), kind, "", false)
	if err != nil {
		return nil, err
	}
	records = append(records, legacy...)

	return scanner.merge(records, conf, filterByBucket), nil
}

// merge applies the inclusion rule and collapses duplicate copies of
// the same version.
func (scanner *Scanner) merge(records []assets.Record, conf *bucket.Config, filterByBucket bool) []assets.Record {
	var merged []assets.Record
	position := map[string][]int{}

	for _, record := range records {
		if !scanner.include(record, conf, filterByBucket) {
			continue
		}
		key := record.Identity.Key().Encode()
		placed := false
		for _, at := range position[key] {
			if scanner.subsumes(record, merged[at], conf) {
				merged[at] = record
				placed = true
			} else if scanner.subsumes(merged[at], record, conf) {
				placed = true
			}
			if placed {
				break
			}
		}
		if !placed {
			position[key] = append(position[key], len(merged))
			merged = append(merged, record)
		}
	}
	return merged
}

func (scanner *Scanner) include(record assets.Record, conf *bucket.Config, filterByBucket bool) bool {
	if !filterByBucket || record.IsPublic {
		return true
	}
	sidecar, ok := scanner.metas.Read(record.Path)
	if !ok {
		return conf == nil || !conf.Configured()
	}
	if conf == nil {
		return false
	}
	return scanner.metas.Matches(sidecar, *conf)
}

// subsumes reports whether copy a hides copy b of the same version. A
// bucket-scoped copy hides the legacy one only when it belongs to
// conf; a scoped copy for some other bucket is a different cache
// entry, not a replacement.
func (scanner *Scanner) subsumes(a, b assets.Record, conf *bucket.Config) bool {
	if a.IsPublic {
		return !b.IsPublic
	}
	if b.IsPublic {
		return false
	}
	return a.BucketScoped && !b.BucketScoped && scanner.matchesBucket(a, conf)
}

func (scanner *Scanner) matchesBucket(record assets.Record, conf *bucket.Config) bool {
	if conf == nil || !conf.Configured() {
		return false
	}
	sidecar, ok := scanner.metas.Read(record.Path)
	if !ok {
		return false
	}
	return scanner.metas.Matches(sidecar, *conf)
}

// scanTree walks one id/config/revision tree rooted at root.
func (scanner *Scanner) scanTree(root string, kind assets.Kind, fingerprint string, public bool) ([]assets.Record, error) {
	var records []assets.Record

	ids, err := readDirNames(root)
	if err != nil {
		return nil, err
	}
	for _, idSafe := range ids {
		if fingerprint == "" && !public && idSafe == layout.ByBucketDir {
			continue
		}
		configs, err := readDirNames(filepath.Join(root, idSafe))
		if err != nil {
			return nil, err
		}
		for _, configSafe := range configs {
			revisions, err := readDirNames(filepath.Join(root, idSafe, configSafe))
			if err != nil {
				return nil, err
			}
			for _, revisionSafe := range revisions {
				dir := filepath.Join(root, idSafe, configSafe, revisionSafe)
				record, ok := scanner.record(dir, kind, idSafe, configSafe, revisionSafe, fingerprint, public)
				if ok {
					records = append(records, record)
				}
			}
		}
	}
	return records, nil
}

// record builds the listing record for one version directory. Empty
// directories (sidecar only or nothing at all) are skipped.
func (scanner *Scanner) record(dir string, kind assets.Kind, idSafe, configSafe, revisionSafe, fingerprint string, public bool) (assets.Record, bool) {
	names, err := readFileNames(dir)
	if err != nil || len(names) == 0 {
		return assets.Record{}, false
	}

	present := map[string]bool{}
	hasContent := false
	for _, name := range names {
		present[name] = true
		if name != meta.SidecarName {
			hasContent = true
		}
	}
	if !hasContent {
		return assets.Record{}, false
	}

	id := assets.Identity{Kind: kind, ID: assets.RestoreID(idSafe)}
	if configSafe != assets.DefaultConfig {
		id.Config = configSafe
	}
	if revisionSafe != assets.DefaultRevision {
		id.Revision = revisionSafe
	}

	record := assets.Record{
		Identity:     id,
		Path:         dir,
		IsPublic:     public,
		BucketScoped: fingerprint != "",
		HasCard:      present[kind.CardFile()],
	}
	if kind == assets.Model {
		record.HasConfig = present[assets.ModelConfigFile]
		record.HasTokenizer = anyPresent(present, assets.ModelTokenizerFiles)
		record.IsFullModel = anyPresent(present, assets.ModelWeightFiles)
	}

	if sidecar, ok := scanner.metas.Read(dir); ok {
		record.Bucket = sidecar.BucketName
		record.IsPublic = record.IsPublic || sidecar.IsPublic
		if cached, err := time.Parse(time.RFC3339, sidecar.CachedTimestamp); err == nil {
			record.LastUpdated = cached
		}
	}
	return record, true
}

func anyPresent(present map[string]bool, names []string) bool {
	for _, name := range names {
		if present[name] {
			return true
		}
	}
	return false
}

// readDirNames returns the names of subdirectories; a missing root is
// an empty result.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// readFileNames returns the names of regular files directly inside
// dir.
func readFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
