// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package meta reads and writes the per-asset bucket metadata sidecar.
// The sidecar records which bucket context produced a cached copy and
// is the provenance source for listing and migration decisions.
package meta

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/hgloc/pkg/assets"
	"storj.io/hgloc/pkg/bucket"
)

// SidecarName is the file name of the sidecar inside an asset
// directory. The name is part of the on-disk format.
const SidecarName = ".hg_localization_bucket_metadata.json"

// Error is the default meta error class.
var Error = errs.Class("meta error")

// Record is the persisted sidecar. Field names match the historical
// JSON format exactly.
type Record struct {
	BucketName      string `json:"s3_bucket_name"`
	EndpointURL     string `json:"s3_endpoint_url"`
	DataPrefix      string `json:"s3_data_prefix"`
	CachedTimestamp string `json:"cached_timestamp"`
	IsPublic        bool   `json:"is_public"`
	Type            string `json:"type"`
}

// Context converts the record back into a bucket context for
// comparison. Credentials are never persisted.
func (rec Record) Context() bucket.Config {
	return bucket.Config{
		Name:       rec.BucketName,
		Endpoint:   rec.EndpointURL,
		DataPrefix: rec.DataPrefix,
	}
}

// Store reads and writes sidecars. It touches only the local disk.
type Store struct {
	log  *zap.Logger
	norm bucket.Normalization
}

// NewStore creates a sidecar store.
func NewStore(log *zap.Logger, norm bucket.Normalization) *Store {
	return &Store{log: log, norm: norm}
}

// Write serializes the sidecar into dir, overwriting any previous one.
// Sidecar writes happen strictly after the asset content is complete,
// so a visible sidecar always describes a whole copy.
func (store *Store) Write(dir string, conf bucket.Config, kind assets.Kind, public bool, now time.Time) error {
	rec := Record{
		BucketName:      conf.Name,
		EndpointURL:     conf.Endpoint,
		DataPrefix:      conf.DataPrefix,
		CachedTimestamp: now.UTC().Format(time.RFC3339),
		IsPublic:        public,
		Type:            string(kind),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Error.Wrap(err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.WriteFile(filepath.Join(dir, SidecarName), data, 0644))
}

// Read loads the sidecar from dir. A missing or corrupted sidecar is
// reported as absent; corruption is logged and never fatal.
func (store *Store) Read(dir string) (Record, bool) {
	data, err := os.ReadFile(filepath.Join(dir, SidecarName))
	if err != nil {
		if !os.IsNotExist(err) {
			store.log.Warn("failed to read bucket metadata sidecar",
				zap.String("dir", dir), zap.Error(err))
		}
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		store.log.Warn("corrupted bucket metadata sidecar, treating as absent",
			zap.String("dir", dir), zap.Error(err))
		return Record{}, false
	}
	return rec, true
}

// Matches reports whether the sidecar was produced by the given bucket
// context under the store's normalization rules.
func (store *Store) Matches(rec Record, conf bucket.Config) bool {
	return store.norm.Equal(rec.Context(), conf)
}
