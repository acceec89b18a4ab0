// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package index maintains the class-level remote documents that make
// listing O(1): the private index per asset class and the public
// manifest. Both are whole-document JSON objects at well-known keys;
// updates go through a conflict-retried read-modify-write.
package index

import (
	"time"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/pkg/assets"
)

var (
	mon = monkit.Package()

	// Error is the default index error class.
	Error = errs.Class("index error")
	// ErrWriteConflict is returned when a document update keeps losing
	// the conditional write race and runs out of retries.
	ErrWriteConflict = errs.Class("write conflict")
	// ErrCorrupt is returned when a document exists but cannot be
	// parsed.
	ErrCorrupt = errs.Class("corrupt document")
)

// Entry is one private index record. JSON field names are part of the
// persisted format.
type Entry struct {
	DatasetID    string    `json:"dataset_id,omitempty"`
	ModelID      string    `json:"model_id,omitempty"`
	ConfigName   string    `json:"config_name,omitempty"`
	Revision     string    `json:"revision,omitempty"`
	S3Prefix     string    `json:"s3_prefix"`
	S3Bucket     string    `json:"s3_bucket"`
	HasCard      bool      `json:"has_card"`
	HasConfig    bool      `json:"has_config,omitempty"`
	HasTokenizer bool      `json:"has_tokenizer,omitempty"`
	IsFullModel  bool      `json:"is_full_model,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// AssetID returns the identifier regardless of class.
func (entry Entry) AssetID() string {
	if entry.ModelID != "" {
		return entry.ModelID
	}
	return entry.DatasetID
}

// Identity reconstructs the asset identity described by the entry.
func (entry Entry) Identity(kind assets.Kind) assets.Identity {
	return assets.Identity{
		Kind:     kind,
		ID:       entry.AssetID(),
		Config:   entry.ConfigName,
		Revision: entry.Revision,
	}
}

// Key returns the entry's composite document key.
func (entry Entry) Key(kind assets.Kind) assets.VersionKey {
	return entry.Identity(kind).Key()
}

// NewEntry builds an index entry for an identity.
func NewEntry(id assets.Identity, s3Prefix, s3Bucket string) Entry {
	entry := Entry{
		ConfigName:  id.Config,
		Revision:    id.Revision,
		S3Prefix:    s3Prefix,
		S3Bucket:    s3Bucket,
		LastUpdated: time.Now().UTC(),
	}
	if id.Kind == assets.Model {
		entry.ModelID = id.ID
	} else {
		entry.DatasetID = id.ID
	}
	return entry
}

// Document is a private index document: composite key to entry.
type Document map[string]Entry

// ManifestEntry is one public manifest record. The zip key is relative
// to the bucket's data prefix.
type ManifestEntry struct {
	DatasetID  string `json:"dataset_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	ConfigName string `json:"config_name,omitempty"`
	Revision   string `json:"revision,omitempty"`
	S3ZipKey   string `json:"s3_zip_key"`
	S3Bucket   string `json:"s3_bucket"`
	HasCard    bool   `json:"has_card,omitempty"`
}

// AssetID returns the identifier regardless of class.
func (entry ManifestEntry) AssetID() string {
	if entry.ModelID != "" {
		return entry.ModelID
	}
	return entry.DatasetID
}

// Manifest is a public manifest document: composite key to entry.
type Manifest map[string]ManifestEntry
