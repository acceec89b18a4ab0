// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package index

import (
	"context"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/storage"
)

// reservedPrefixes are level-1 names under the data prefix that do not
// hold dataset versions.
var reservedPrefixes = map[string]bool{
	"models":              true,
	"public_datasets_zip": true,
	"public_models_zip":   true,
}

// Entries lists the kind's private assets, preferring the index
// document and falling back to a full bucket scan when the document is
// missing, corrupt or unreachable. An existing empty document is a
// valid empty listing.
func (manager *Manager) Entries(ctx context.Context, kind assets.Kind) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	doc, found, err := manager.Fetch(ctx, kind)
	if err == nil && found {
		return manager.collect(doc), nil
	}
	if err != nil {
		manager.log.Warn("private index unusable, falling back to bucket scan",
			zap.String("kind", string(kind)), zap.Error(err))
	} else {
		manager.log.Debug("private index missing, scanning bucket",
			zap.String("kind", string(kind)))
	}
	return manager.Scan(ctx, kind)
}

// collect flattens a document into entries for the manager's bucket,
// ordered by composite key.
func (manager *Manager) collect(doc Document) []Entry {
	keys := make([]string, 0, len(doc))
	for key, entry := range doc {
		if entry.S3Bucket != "" && entry.S3Bucket != manager.conf.Name {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, doc[key])
	}
	return entries
}

// Scan reconstructs a listing by enumerating the bucket's private
// prefix: three delimiter levels (id, config, revision) with
// capability probes per version. O(n) in bucket size; the slow path.
func (manager *Manager) Scan(ctx context.Context, kind assets.Kind) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	base := manager.conf.PrefixedKey(kind.RemoteBase())

	var entries []Entry
	idPrefixes, err := manager.store.ListPrefixes(ctx, base)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for _, idPrefix := range idPrefixes {
		idSafe := lastSegment(idPrefix)
		if kind == assets.Dataset && reservedPrefixes[idSafe] {
			continue
		}

		configPrefixes, err := manager.store.ListPrefixes(ctx, idPrefix)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, configPrefix := range configPrefixes {
			revisionPrefixes, err := manager.store.ListPrefixes(ctx, configPrefix)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			for _, revisionPrefix := range revisionPrefixes {
				entry, err := manager.probe(ctx, kind, revisionPrefix, idSafe,
					lastSegment(configPrefix), lastSegment(revisionPrefix))
				if err != nil {
					return nil, err
				}
				entries = append(entries, entry)
			}
		}
	}
	return entries, nil
}

// probe builds an index entry for a scanned version prefix, checking
// which capability files are present.
func (manager *Manager) probe(ctx context.Context, kind assets.Kind, versionPrefix, idSafe, configSafe, revisionSafe string) (Entry, error) {
	id := assets.Identity{
		Kind: kind,
		ID:   assets.RestoreID(idSafe),
	}
	if configSafe != assets.DefaultConfig {
		id.Config = configSafe
	}
	if revisionSafe != assets.DefaultRevision {
		id.Revision = revisionSafe
	}

	entry := NewEntry(id, strings.TrimRight(versionPrefix, "/"), manager.conf.Name)

	var err error
	entry.HasCard, err = manager.probeFile(ctx, versionPrefix, kind.CardFile())
	if err != nil {
		return Entry{}, err
	}
	if kind == assets.Model {
		entry.HasConfig, err = manager.probeFile(ctx, versionPrefix, assets.ModelConfigFile)
		if err != nil {
			return Entry{}, err
		}
		entry.HasTokenizer, err = manager.probeAny(ctx, versionPrefix, assets.ModelTokenizerFiles)
		if err != nil {
			return Entry{}, err
		}
		entry.IsFullModel, err = manager.probeAny(ctx, versionPrefix, assets.ModelWeightFiles)
		if err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

func (manager *Manager) probeFile(ctx context.Context, prefix, name string) (bool, error) {
	exists, err := storage.Exists(ctx, manager.store, path.Join(strings.TrimRight(prefix, "/"), name))
	return exists, Error.Wrap(err)
}

func (manager *Manager) probeAny(ctx context.Context, prefix string, names []string) (bool, error) {
	for _, name := range names {
		exists, err := manager.probeFile(ctx, prefix, name)
		if err != nil || exists {
			return exists, err
		}
	}
	return false, nil
}

// lastSegment returns the final path segment of a "/"-terminated
// prefix.
func lastSegment(prefix string) string {
	return path.Base(strings.TrimRight(prefix, "/"))
}
