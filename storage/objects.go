// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package storage declares the object store interface the sync engine
// runs against, together with the error classes shared by its
// backends.
package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error classes shared by object store backends.
var (
	// ErrKeyNotFound is returned when the requested object does not
	// exist.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrETagMismatch is returned by a conditional put whose
	// precondition failed.
	ErrETagMismatch = errs.Class("etag mismatch")
	// ErrUnavailable wraps transport and authentication failures
	// talking to the store.
	ErrUnavailable = errs.Class("storage unavailable")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions control a single put.
type PutOptions struct {
	ContentType string
	// PublicRead publishes the object with an open-read ACL.
	PublicRead bool
	// ExpectETag makes the put conditional on the object's current
	// ETag. Backends without a native conditional write verify the tag
	// immediately before writing; combined with process level
	// serialization this bounds the lost-update window.
	ExpectETag string
	// IfNotExists makes the put conditional on the object being
	// absent. Mutually exclusive with ExpectETag.
	IfNotExists bool
}

// Objects is the minimal object store surface the engine needs. All
// methods are safe for concurrent use.
type Objects interface {
	// Get returns the full object contents and its info.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	// GetFile downloads an object to a local file, creating parent
	// directories as needed.
	GetFile(ctx context.Context, key, path string) error
	// Put stores data under key.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error)
	// PutFile uploads a local file under key.
	PutFile(ctx context.Context, key, path string, opts PutOptions) error
	// Stat returns object info without contents.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List calls fn for every object under prefix, recursively, in
	// undefined order. Returning an error from fn stops the listing.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
	// ListPrefixes returns the immediate sub-prefixes under prefix,
	// like a delimiter listing. Results end with "/".
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited anonymous GET URL for key.
	Presign(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Exists reports whether the object at key exists.
func Exists(ctx context.Context, store Objects, key string) (bool, error) {
	_, err := store.Stat(ctx, key)
	if err != nil {
		if ErrKeyNotFound.Has(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
