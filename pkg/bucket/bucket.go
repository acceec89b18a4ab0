// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package bucket describes which remote store a client is pointed at:
// bucket name, endpoint, data prefix and credentials. Contexts are
// compared under configurable normalization and fingerprinted into
// local path segments so differently configured buckets never collide
// in the cache.
package bucket

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"storj.io/hgloc/pkg/assets"
)

// Config is the bucket context threaded explicitly through every core
// call. The zero value means "not configured": the engine degrades to
// local-cache-only operation.
type Config struct {
	Name       string `mapstructure:"bucket-name"`
	Endpoint   string `mapstructure:"endpoint-url"`
	DataPrefix string `mapstructure:"data-prefix"`

	AccessKeyID     string `mapstructure:"access-key-id"`
	SecretAccessKey string `mapstructure:"secret-access-key"`
}

// Configured reports whether a bucket is set at all.
func (conf Config) Configured() bool { return conf.Name != "" }

// HasCredentials reports whether the context can authenticate for
// private reads and writes.
func (conf Config) HasCredentials() bool {
	return conf.AccessKeyID != "" && conf.SecretAccessKey != ""
}

// Fingerprint returns the path segment that scopes cached copies to
// this bucket: the safe bucket name, suffixed with the first 8 hex
// digits of the md5 of the endpoint when one is set. md5 is retained
// for layout compatibility with existing caches.
func (conf Config) Fingerprint() string {
	name := assets.SafeComponent(conf.Name)
	if conf.Endpoint == "" {
		return name
	}
	sum := md5.Sum([]byte(conf.Endpoint))
	return name + "_" + hex.EncodeToString(sum[:])[:8]
}

// PrefixedKey prepends the data prefix, if any, to a base object key.
func (conf Config) PrefixedKey(base string) string {
	base = strings.TrimLeft(base, "/")
	if prefix := strings.Trim(conf.DataPrefix, "/"); prefix != "" {
		return prefix + "/" + base
	}
	return base
}

// PublicURL constructs the anonymous HTTPS URL for an object using
// virtual-host addressing. key is the full object key, including any
// data prefix. Without an endpoint the AWS S3 domain is assumed.
func (conf Config) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if conf.Endpoint == "" {
		return "https://" + conf.Name + ".s3.amazonaws.com/" + key
	}
	scheme := "https://"
	host := conf.Endpoint
	if strings.HasPrefix(host, "http://") {
		scheme = "http://"
	}
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")
	return scheme + conf.Name + "." + host + "/" + key
}

// Normalization controls how endpoint URLs are folded before two
// contexts are compared. Trailing slashes are always insignificant;
// scheme and host case folding are opt-in because existing deployments
// disagree on their meaning.
type Normalization struct {
	IgnoreScheme bool `mapstructure:"ignore-scheme"`
	FoldCase     bool `mapstructure:"fold-case"`
}

// Endpoint normalizes an endpoint URL for comparison.
func (n Normalization) Endpoint(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if n.IgnoreScheme {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}
	if n.FoldCase {
		endpoint = strings.ToLower(endpoint)
	}
	return endpoint
}

// Equal reports whether two contexts refer to the same bucket under
// the normalization rules. Credentials do not participate: the same
// store reached with different keys is still the same store.
func (n Normalization) Equal(a, b Config) bool {
	return a.Name == b.Name &&
		n.Endpoint(a.Endpoint) == n.Endpoint(b.Endpoint) &&
		strings.Trim(a.DataPrefix, "/") == strings.Trim(b.DataPrefix, "/")
}
