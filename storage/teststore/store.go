// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory storage.Objects with real
// conditional-put semantics and fault injection, for tests.
package teststore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"storj.io/hgloc/storage"
)

type object struct {
	data        []byte
	etag        string
	modified    time.Time
	public      bool
	contentType string
}

// Client implements an in-memory object store.
type Client struct {
	mu      sync.Mutex
	objects map[string]object

	// forced errors, returned by the corresponding operations until
	// cleared. Used to simulate outages.
	getErr  error
	putErr  error
	listErr error

	CallCount struct {
		Get  int
		Put  int
		Stat int
		List int
	}
}

// New creates an empty test store.
func New() *Client {
	return &Client{objects: map[string]object{}}
}

// FailReads forces all reads to return err until called with nil.
func (client *Client) FailReads(err error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.getErr, client.listErr = err, err
}

// FailWrites forces all writes to return err until called with nil.
func (client *Client) FailWrites(err error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.putErr = err
}

// Corrupt scribbles over the stored object, keeping it present.
func (client *Client) Corrupt(key string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if obj, ok := client.objects[key]; ok {
		obj.data = []byte("{corrupt")
		obj.etag = etagOf(obj.data)
		client.objects[key] = obj
	}
}

// IsPublic reports whether the object was stored with an open-read
// ACL.
func (client *Client) IsPublic(key string) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.objects[key].public
}

// Keys returns all stored keys, sorted.
func (client *Client) Keys() []string {
	client.mu.Lock()
	defer client.mu.Unlock()
	keys := make([]string, 0, len(client.objects))
	for key := range client.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Get implements storage.Objects.
func (client *Client) Get(ctx context.Context, key string) ([]byte, storage.ObjectInfo, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.Get++

	if client.getErr != nil {
		return nil, storage.ObjectInfo{}, client.getErr
	}
	obj, ok := client.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrKeyNotFound.New("%s", key)
	}
	data := append([]byte(nil), obj.data...)
	return data, client.infoLocked(key, obj), nil
}

// GetFile implements storage.Objects.
func (client *Client) GetFile(ctx context.Context, key, path string) error {
	data, _, err := client.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Put implements storage.Objects.
func (client *Client) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (storage.ObjectInfo, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.Put++

	if client.putErr != nil {
		return storage.ObjectInfo{}, client.putErr
	}
	current, exists := client.objects[key]
	switch {
	case opts.ExpectETag != "":
		if !exists {
			return storage.ObjectInfo{}, storage.ErrETagMismatch.New("%s: gone", key)
		}
		if current.etag != opts.ExpectETag {
			return storage.ObjectInfo{}, storage.ErrETagMismatch.New("%s: have %s, expected %s", key, current.etag, opts.ExpectETag)
		}
	case opts.IfNotExists:
		if exists {
			return storage.ObjectInfo{}, storage.ErrETagMismatch.New("%s: already exists", key)
		}
	}

	obj := object{
		data:        append([]byte(nil), data...),
		etag:        etagOf(data),
		modified:    time.Now(),
		public:      opts.PublicRead,
		contentType: opts.ContentType,
	}
	client.objects[key] = obj
	return client.infoLocked(key, obj), nil
}

// PutFile implements storage.Objects.
func (client *Client) PutFile(ctx context.Context, key, path string, opts storage.PutOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = client.Put(ctx, key, data, opts)
	return err
}

// Stat implements storage.Objects.
func (client *Client) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.Stat++

	if client.getErr != nil {
		return storage.ObjectInfo{}, client.getErr
	}
	obj, ok := client.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrKeyNotFound.New("%s", key)
	}
	return client.infoLocked(key, obj), nil
}

// List implements storage.Objects.
func (client *Client) List(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) error {
	client.mu.Lock()
	client.CallCount.List++
	if client.listErr != nil {
		client.mu.Unlock()
		return client.listErr
	}
	var infos []storage.ObjectInfo
	for key, obj := range client.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, client.infoLocked(key, obj))
		}
	}
	client.mu.Unlock()

	sort.Slice(infos, func(i, k int) bool { return infos[i].Key < infos[k].Key })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefixes implements storage.Objects.
func (client *Client) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.CallCount.List++

	if client.listErr != nil {
		return nil, client.listErr
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := map[string]bool{}
	for key := range client.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[prefix+rest[:i+1]] = true
		}
	}
	prefixes := make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

// Delete implements storage.Objects.
func (client *Client) Delete(ctx context.Context, key string) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	delete(client.objects, key)
	return nil
}

// Presign implements storage.Objects.
func (client *Client) Presign(ctx context.Context, key string, expires time.Duration) (string, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if _, ok := client.objects[key]; !ok {
		return "", storage.ErrKeyNotFound.New("%s", key)
	}
	return "https://teststore.invalid/" + key + "?expires=" + expires.String(), nil
}

func (client *Client) infoLocked(key string, obj object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		LastModified: obj.modified,
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
