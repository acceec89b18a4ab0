// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package assets defines the identity model for localized datasets and
// models. An asset version is immutable once materialized and is
// addressed by its id, configuration and revision.
package assets

import (
	"strings"
	"time"
)

const (
	// DefaultConfig is the sentinel configuration name used when an
	// asset has no explicit configuration.
	DefaultConfig = "default_config"
	// DefaultRevision is the sentinel revision name used when an asset
	// has no explicit revision.
	DefaultRevision = "default_revision"
)

// Kind distinguishes the two asset classes.
type Kind string

// Supported asset kinds.
const (
	Dataset Kind = "dataset"
	Model   Kind = "model"
)

// Dir returns the store subdirectory for the kind.
func (kind Kind) Dir() string {
	switch kind {
	case Model:
		return "models"
	default:
		return "datasets"
	}
}

// RemoteBase returns the key segment that prefixes remote objects of
// this kind. Datasets historically live at the root of the data prefix,
// models under "models/".
func (kind Kind) RemoteBase() string {
	if kind == Model {
		return "models"
	}
	return ""
}

// Identity identifies a single asset version. Config and Revision may
// be empty, in which case the sentinel defaults apply.
type Identity struct {
	Kind     Kind
	ID       string
	Config   string
	Revision string
}

// ConfigOrDefault returns the configuration name, substituting the
// sentinel default when empty.
func (id Identity) ConfigOrDefault() string {
	if id.Config == "" {
		return DefaultConfig
	}
	return id.Config
}

// RevisionOrDefault returns the revision, substituting the sentinel
// default when empty.
func (id Identity) RevisionOrDefault() string {
	if id.Revision == "" {
		return DefaultRevision
	}
	return id.Revision
}

// Key returns the structured composite key for the identity.
func (id Identity) Key() VersionKey {
	return VersionKey{
		ID:       id.ID,
		Config:   id.ConfigOrDefault(),
		Revision: id.RevisionOrDefault(),
	}
}

// String implements fmt.Stringer for log output.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.ID + "/" + id.ConfigOrDefault() + "/" + id.RevisionOrDefault()
}

// unsafe characters are replaced to keep path components portable
// across filesystems and object keys.
var componentReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// SafeComponent maps a name to a filesystem safe path component.
func SafeComponent(name string) string {
	if name == "" {
		return ""
	}
	return componentReplacer.Replace(name)
}

// RestoreID attempts to recover an original asset id from its safe
// path component. The mapping is lossy, so this uses the owner/name
// heuristic: the last underscore becomes the separator.
//
//	"glue"                      -> "glue"
//	"dreamerdeo_finqa"          -> "dreamerdeo/finqa"
//	"microsoft_DialoGPT_medium" -> "microsoft_DialoGPT/medium"
//
// Callers that need the exact id should prefer the sidecar or index
// entry, which record it verbatim.
func RestoreID(safe string) string {
	i := strings.LastIndex(safe, "_")
	if i < 0 {
		return safe
	}
	return safe[:i] + "/" + safe[i+1:]
}

// Record describes one discovered asset, either in the local cache or
// on the remote store.
type Record struct {
	Identity Identity

	// Path is the local cache directory, empty for remote-only records.
	Path string
	// RemotePrefix is the object key prefix, empty for local-only records.
	RemotePrefix string

	Bucket       string
	IsPublic     bool
	BucketScoped bool

	HasCard      bool
	HasConfig    bool
	HasTokenizer bool
	IsFullModel  bool

	LastUpdated time.Time
}
