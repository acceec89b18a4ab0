// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package publish

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/hgloc/pkg/meta"
)

// ZipDirectory archives all regular files under dir into a zip file at
// zipPath, preserving relative paths. The bucket metadata sidecar is
// provenance of the private copy and is not included.
func ZipDirectory(dir, zipPath string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, out.Close()) }()

	writer := zip.NewWriter(out)
	defer func() { err = errs.Combine(err, writer.Close()) }()

	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.Mode().IsRegular() || filepath.Base(path) == meta.SidecarName {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		_, err = io.Copy(entry, in)
		return err
	})
	return Error.Wrap(err)
}

// Unzip extracts an archive into dir, rejecting entries that would
// escape it.
func Unzip(zipPath, dir string) (err error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, reader.Close()) }()

	for _, entry := range reader.File {
		if err := extractEntry(entry, dir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, dir string) (err error) {
	cleaned := filepath.Clean(filepath.FromSlash(entry.Name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return Error.New("archive entry escapes target: %q", entry.Name)
	}
	target := filepath.Join(dir, cleaned)

	if entry.FileInfo().IsDir() {
		return Error.Wrap(os.MkdirAll(target, 0755))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Error.Wrap(err)
	}

	in, err := entry.Open()
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, in.Close()) }()

	out, err := os.Create(target)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, out.Close()) }()

	_, err = io.Copy(out, in)
	return Error.Wrap(err)
}
