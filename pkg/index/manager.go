// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package index

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"storj.io/hgloc/internal/sync2"
	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/pkg/layout"
	"storj.io/hgloc/storage"
)

// maxUpdateAttempts bounds the conditional-write retry loop on a
// document update.
const maxUpdateAttempts = 5

// Manager reads and writes the remote index and manifest documents of
// one bucket. Document writers within a process are serialized per
// document key; the conditional put narrows the window against other
// processes.
type Manager struct {
	log   *zap.Logger
	store storage.Objects
	conf  bucket.Config
	locks sync2.Locker
}

// NewManager creates a Manager on the given object store.
func NewManager(log *zap.Logger, store storage.Objects, conf bucket.Config) *Manager {
	return &Manager{log: log, store: store, conf: conf}
}

// Fetch returns the private index document for the kind. A missing
// document yields (nil, false, nil): a fresh bucket, not an error. A
// present but unparsable document returns ErrCorrupt so the caller can
// fall back to scanning.
func (manager *Manager) Fetch(ctx context.Context, kind assets.Kind) (_ Document, found bool, err error) {
	defer mon.Task()(&ctx)(&err)

	doc := Document{}
	found, _, err = manager.fetchInto(ctx, layout.IndexKey(manager.conf, kind), &doc)
	if err != nil || !found {
		return nil, found, err
	}
	return doc, true, nil
}

// Update inserts or replaces the entry for key in the kind's private
// index, creating the document if it does not exist yet.
func (manager *Manager) Update(ctx context.Context, kind assets.Kind, key assets.VersionKey, entry Entry) (err error) {
	defer mon.Task()(&ctx)(&err)

	return manager.modify(ctx, layout.IndexKey(manager.conf, kind), func(raw []byte) ([]byte, error) {
		doc := Document{}
		manager.parseOrReset(raw, &doc)
		doc[key.Encode()] = entry
		return json.MarshalIndent(doc, "", "  ")
	})
}

// Remove deletes the entry for key from the kind's private index.
// Removing a missing entry is a no-op.
func (manager *Manager) Remove(ctx context.Context, kind assets.Kind, key assets.VersionKey) (err error) {
	defer mon.Task()(&ctx)(&err)

	return manager.modify(ctx, layout.IndexKey(manager.conf, kind), func(raw []byte) ([]byte, error) {
		doc := Document{}
		manager.parseOrReset(raw, &doc)
		delete(doc, key.Encode())
		return json.MarshalIndent(doc, "", "  ")
	})
}

// FetchManifest returns the public manifest for the kind. Missing
// documents yield an empty manifest.
func (manager *Manager) FetchManifest(ctx context.Context, kind assets.Kind) (_ Manifest, err error) {
	defer mon.Task()(&ctx)(&err)

	manifest := Manifest{}
	found, _, err := manager.fetchInto(ctx, layout.ManifestKey(manager.conf, kind), &manifest)
	if err != nil {
		if ErrCorrupt.Has(err) {
			manager.log.Warn("public manifest is corrupt, treating as empty", zap.Error(err))
			return Manifest{}, nil
		}
		return nil, err
	}
	if !found {
		return Manifest{}, nil
	}
	return manifest, nil
}

// UpsertManifest inserts or replaces the manifest entry for key. The
// manifest itself is published with open-read access so anonymous
// clients can list it.
func (manager *Manager) UpsertManifest(ctx context.Context, kind assets.Kind, key assets.VersionKey, entry ManifestEntry) (err error) {
	defer mon.Task()(&ctx)(&err)

	return manager.modify(ctx, layout.ManifestKey(manager.conf, kind), func(raw []byte) ([]byte, error) {
		manifest := Manifest{}
		manager.parseOrReset(raw, &manifest)
		manifest[key.Encode()] = entry
		return json.MarshalIndent(manifest, "", "  ")
	})
}

// fetchInto loads and parses a whole document. found is false when the
// object does not exist. Unparsable contents return ErrCorrupt with
// the document's etag still reported, so writers can replace it.
func (manager *Manager) fetchInto(ctx context.Context, key string, target interface{}) (found bool, etag string, err error) {
	data, info, err := manager.store.Get(ctx, key)
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return false, "", nil
		}
		return false, "", Error.Wrap(err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return true, info.ETag, ErrCorrupt.New("%s: %v", key, err)
	}
	return true, info.ETag, nil
}

// parseOrReset parses raw into target, logging and starting from the
// zero document when raw is corrupt. Replacing a corrupt document is
// the documented recovery path.
func (manager *Manager) parseOrReset(raw []byte, target interface{}) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, target); err != nil {
		manager.log.Warn("corrupt remote document, overwriting", zap.Error(err))
	}
}

// modify runs the read-modify-write loop for one document. mutate
// receives the raw current contents (nil when absent) and returns the
// full replacement. Writers are serialized in-process per document;
// the conditional put catches racers elsewhere and triggers a retry.
func (manager *Manager) modify(ctx context.Context, key string, mutate func(raw []byte) ([]byte, error)) error {
	unlock := manager.locks.Lock(key)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var raw []byte
		var etag string

		data, info, err := manager.store.Get(ctx, key)
		switch {
		case err == nil:
			raw, etag = data, info.ETag
		case storage.ErrKeyNotFound.Has(err):
			// document does not exist yet
		default:
			return Error.Wrap(err)
		}

		replacement, err := mutate(raw)
		if err != nil {
			return Error.Wrap(err)
		}

		opts := storage.PutOptions{ContentType: "application/json", PublicRead: manager.isPublicDocument(key)}
		if etag != "" {
			opts.ExpectETag = etag
		} else {
			opts.IfNotExists = true
		}

		_, err = manager.store.Put(ctx, key, replacement, opts)
		if err == nil {
			return nil
		}
		if !storage.ErrETagMismatch.Has(err) {
			return Error.Wrap(err)
		}
		manager.log.Debug("document update conflict, retrying",
			zap.String("key", key), zap.Int("attempt", attempt+1))
	}
	return ErrWriteConflict.New("%s: gave up after %d attempts", key, maxUpdateAttempts)
}

// isPublicDocument reports whether key is one of the open-read
// manifest documents.
func (manager *Manager) isPublicDocument(key string) bool {
	return key == layout.ManifestKey(manager.conf, assets.Dataset) ||
		key == layout.ManifestKey(manager.conf, assets.Model)
}
