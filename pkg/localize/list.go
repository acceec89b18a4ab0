// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package localize

import (
	"context"
	"sort"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/index"
)

// ListLocal returns the cached copies of a kind visible under the
// engine's bucket context. Public copies are always visible; private
// copies are filtered by provenance.
func (engine *Engine) ListLocal(ctx context.Context, kind assets.Kind) (_ []assets.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	return engine.scanner.Scan(ctx, kind, engine.bucketConf(), true)
}

// ListRemote returns what the configured bucket offers for a kind.
// With credentials the private index is consulted, falling back to a
// structural scan; without credentials only the public manifest is
// visible.
func (engine *Engine) ListRemote(ctx context.Context, kind assets.Kind) (_ []index.Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	if engine.store != nil {
		return engine.indexes.Entries(ctx, kind)
	}
	if engine.public == nil {
		return nil, ErrNotConfigured.New("remote listing needs a bucket")
	}

	manifest, err := engine.indexes.FetchManifest(ctx, kind)
	if err != nil {
		return nil, err
	}
	entries := make([]index.Entry, 0, len(manifest))
	for _, published := range manifest {
		id := assets.Identity{
			Kind:     kind,
			ID:       published.AssetID(),
			Config:   published.ConfigName,
			Revision: published.Revision,
		}
		entry := index.NewEntry(id, "", published.S3Bucket)
		entry.HasCard = published.HasCard
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, k int) bool {
		return entries[i].Key(kind).Encode() < entries[k].Key(kind).Encode()
	})
	return entries, nil
}
