// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package assets

import (
	"strings"

	"github.com/zeebo/errs"
)

// ErrInvalidKey is returned when a serialized version key cannot be
// parsed back into its components.
var ErrInvalidKey = errs.Class("invalid version key")

// Delimiter joins the components of a serialized version key. The
// string form exists only for the index and manifest documents; code
// passes VersionKey values around.
const Delimiter = "---"

// VersionKey is the composite key identifying an asset version inside
// index and manifest documents. Components are stored verbatim;
// escaping happens only during serialization.
type VersionKey struct {
	ID       string
	Config   string
	Revision string
}

// Encode serializes the key for use as a JSON document key. Any
// literal "%" in a component is escaped as "%25", any literal
// occurrence of the delimiter as "%2d%2d%2d", and a hyphen at either
// end of a component as "%2d", so splitting the result on the
// delimiter is unambiguous.
func (key VersionKey) Encode() string {
	return escapeComponent(key.ID) + Delimiter +
		escapeComponent(key.Config) + Delimiter +
		escapeComponent(key.Revision)
}

// ParseVersionKey is the inverse of Encode.
func ParseVersionKey(s string) (VersionKey, error) {
	parts := strings.Split(s, Delimiter)
	if len(parts) != 3 {
		return VersionKey{}, ErrInvalidKey.New("%q", s)
	}
	return VersionKey{
		ID:       unescapeComponent(parts[0]),
		Config:   unescapeComponent(parts[1]),
		Revision: unescapeComponent(parts[2]),
	}, nil
}

// Identity reconstructs an Identity of the given kind from the key.
// Sentinel defaults map back to empty Config/Revision.
func (key VersionKey) Identity(kind Kind) Identity {
	id := Identity{Kind: kind, ID: key.ID, Config: key.Config, Revision: key.Revision}
	if id.Config == DefaultConfig {
		id.Config = ""
	}
	if id.Revision == DefaultRevision {
		id.Revision = ""
	}
	return id
}

func escapeComponent(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, Delimiter, "%2d%2d%2d")
	// A hyphen touching a component boundary would fuse with the
	// delimiter and shift the split points.
	if strings.HasPrefix(s, "-") {
		s = "%2d" + s[1:]
	}
	if strings.HasSuffix(s, "-") {
		s = s[:len(s)-1] + "%2d"
	}
	return s
}

func unescapeComponent(s string) string {
	s = strings.ReplaceAll(s, "%2d%2d%2d", Delimiter)
	s = strings.ReplaceAll(s, "%2d", "-")
	return strings.ReplaceAll(s, "%25", "%")
}
