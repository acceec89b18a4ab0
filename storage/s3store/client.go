// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package s3store implements storage.Objects on an S3 compatible
// bucket using the minio client. Credential-free clients are allowed
// and can read public objects only.
package s3store

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/hgloc/pkg/bucket"
	"storj.io/hgloc/storage"
)

var (
	mon = monkit.Package()

	// Error is the default s3store error class.
	Error = errs.Class("s3store error")
)

const (
	readAttempts = 3
	retryBackoff = 100 * time.Millisecond
)

// Client implements storage.Objects against one bucket.
type Client struct {
	log    *zap.Logger
	api    *minio.Client
	bucket string
	conf   bucket.Config
}

// New dials the endpoint described by conf. Empty credentials yield an
// anonymous client that can only read public objects.
func New(log *zap.Logger, conf bucket.Config) (*Client, error) {
	if !conf.Configured() {
		return nil, Error.New("no bucket configured")
	}
	host, secure := endpointHost(conf.Endpoint)
	api, err := minio.New(host, conf.AccessKeyID, conf.SecretAccessKey, secure)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{log: log, api: api, bucket: conf.Name, conf: conf}, nil
}

// endpointHost splits an endpoint URL into the host form minio expects
// and whether to use TLS. The AWS endpoint is assumed when empty.
func endpointHost(endpoint string) (host string, secure bool) {
	if endpoint == "" {
		return "s3.amazonaws.com", true
	}
	secure = !strings.HasPrefix(endpoint, "http://")
	host = strings.TrimPrefix(endpoint, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/"), secure
}

// Get implements storage.Objects.
func (client *Client) Get(ctx context.Context, key string) (_ []byte, _ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	var data []byte
	var info storage.ObjectInfo
	err = client.retryRead(ctx, func() error {
		obj, err := client.api.GetObjectWithContext(ctx, client.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return wrapMinio(err)
		}
		defer func() { _ = obj.Close() }()

		stat, err := obj.Stat()
		if err != nil {
			return wrapMinio(err)
		}
		data, err = ioutil.ReadAll(obj)
		if err != nil {
			return storage.ErrUnavailable.Wrap(err)
		}
		info = convertInfo(stat)
		info.Key = key
		return nil
	})
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return data, info, nil
}

// GetFile implements storage.Objects.
func (client *Client) GetFile(ctx context.Context, key, path string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Error.Wrap(err)
	}
	err = client.api.FGetObjectWithContext(ctx, client.bucket, key, path, minio.GetObjectOptions{})
	return wrapMinio(err)
}

// Put implements storage.Objects. The ETag precondition is checked
// with a stat immediately before the write; S3 offers no native
// conditional put, so callers must additionally serialize writers of
// the same key (see pkg/index).
func (client *Client) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (_ storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := client.checkCondition(ctx, key, opts); err != nil {
		return storage.ObjectInfo{}, err
	}
	_, err = client.api.PutObjectWithContext(ctx, client.bucket, key,
		bytes.NewReader(data), int64(len(data)), putOptions(opts))
	if err != nil {
		return storage.ObjectInfo{}, wrapMinio(err)
	}
	stat, err := client.api.StatObject(client.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, wrapMinio(err)
	}
	return convertInfo(stat), nil
}

// PutFile implements storage.Objects.
func (client *Client) PutFile(ctx context.Context, key, path string, opts storage.PutOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := client.checkCondition(ctx, key, opts); err != nil {
		return err
	}
	_, err = client.api.FPutObjectWithContext(ctx, client.bucket, key, path, putOptions(opts))
	return wrapMinio(err)
}

func (client *Client) checkCondition(ctx context.Context, key string, opts storage.PutOptions) error {
	switch {
	case opts.ExpectETag != "":
		stat, err := client.api.StatObject(client.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return wrapMinio(err)
		}
		if stat.ETag != opts.ExpectETag {
			return storage.ErrETagMismatch.New("%s: have %s, expected %s", key, stat.ETag, opts.ExpectETag)
		}
	case opts.IfNotExists:
		_, err := client.api.StatObject(client.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return storage.ErrETagMismatch.New("%s: already exists", key)
		}
		if !storage.ErrKeyNotFound.Has(wrapMinio(err)) {
			return wrapMinio(err)
		}
	}
	return nil
}

func putOptions(opts storage.PutOptions) minio.PutObjectOptions {
	converted := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.PublicRead {
		converted.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}
	return converted
}

// Stat implements storage.Objects.
func (client *Client) Stat(ctx context.Context, key string) (info storage.ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.retryRead(ctx, func() error {
		stat, err := client.api.StatObject(client.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return wrapMinio(err)
		}
		info = convertInfo(stat)
		return nil
	})
	return info, err
}

// List implements storage.Objects.
func (client *Client) List(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	done := make(chan struct{})
	defer close(done)

	for object := range client.api.ListObjectsV2(client.bucket, prefix, true, done) {
		if object.Err != nil {
			return wrapMinio(object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		if err := fn(convertInfo(object)); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ListPrefixes implements storage.Objects.
func (client *Client) ListPrefixes(ctx context.Context, prefix string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	done := make(chan struct{})
	defer close(done)

	var prefixes []string
	for object := range client.api.ListObjectsV2(client.bucket, prefix, false, done) {
		if object.Err != nil {
			return nil, wrapMinio(object.Err)
		}
		if strings.HasSuffix(object.Key, "/") && object.Key != prefix {
			prefixes = append(prefixes, object.Key)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return prefixes, nil
}

// Delete implements storage.Objects.
func (client *Client) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = client.api.RemoveObject(client.bucket, key)
	if err != nil && storage.ErrKeyNotFound.Has(wrapMinio(err)) {
		return nil
	}
	return wrapMinio(err)
}

// Presign implements storage.Objects.
func (client *Client) Presign(ctx context.Context, key string, expires time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	signed, err := client.api.PresignedGetObject(client.bucket, key, expires, url.Values{})
	if err != nil {
		return "", wrapMinio(err)
	}
	return signed.String(), nil
}

// retryRead retries an idempotent read a bounded number of times.
// Definite not-found results are never retried.
func (client *Client) retryRead(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
			client.log.Debug("retrying read", zap.Int("attempt", attempt), zap.Error(err))
		}
		err = fn()
		if err == nil || storage.ErrKeyNotFound.Has(err) {
			return err
		}
	}
	return err
}

func convertInfo(info minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
}

func wrapMinio(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrKeyNotFound.Wrap(err)
	}
	if resp.StatusCode == 404 {
		return storage.ErrKeyNotFound.Wrap(err)
	}
	return storage.ErrUnavailable.Wrap(err)
}
