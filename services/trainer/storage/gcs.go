// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSScheme is the URI prefix GCS handles.
const GCSScheme = "gs://"

// GCS is a Backend over Google Cloud Storage for "gs://bucket/object" paths.
//
// Object stores have no directories. A "directory" exists when an object
// with that exact name exists or at least one object lives under it.
type GCS struct {
	client *storage.Client
}

var _ Backend = (*GCS)(nil)

// NewGCS creates a GCS backend.
//
// Description:
//
//	With a non-empty saKeyPath the service account key is loaded from that
//	file, which must exist. With an empty path the client falls back to
//	application default credentials.
//
// Inputs:
//
//	ctx - Context for client creation.
//	saKeyPath - Path to a service account JSON key, or "".
//
// Outputs:
//
//	*GCS - The backend. Call Close when done.
//	error - Non-nil if the key is missing or the client cannot be created.
func NewGCS(ctx context.Context, saKeyPath string) (*GCS, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

// NewGCSWithClient wraps an existing client.
func NewGCSWithClient(client *storage.Client) *GCS {
	return &GCS{client: client}
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// ParseGCSURI splits "gs://bucket/object/path" into bucket and object.
// The object is empty for a bare bucket.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, GCSScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q lacks %s", ErrInvalidURI, uri, GCSScheme)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrInvalidURI, uri)
	}
	return bucket, object, nil
}

// Exists reports whether uri names an object or a non-empty prefix.
func (g *GCS) Exists(ctx context.Context, uri string) (bool, error) {
	bucketName, object, err := ParseGCSURI(uri)
	if err != nil {
		return false, err
	}
	bucket := g.client.Bucket(bucketName)

	object = strings.TrimSuffix(object, "/")
	if object == "" {
		_, err := bucket.Attrs(ctx)
		if errors.Is(err, storage.ErrBucketNotExist) {
			return false, nil
		}
		return err == nil, err
	}

	_, err = bucket.Object(object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, fmt.Errorf("stat gs://%s/%s: %w", bucketName, object, err)
	}

	it := bucket.Objects(ctx, &storage.Query{Prefix: object + "/"})
	_, err = it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list gs://%s/%s/: %w", bucketName, object, err)
	}
	return true, nil
}

// Create returns an object writer. The object is committed when the
// writer is closed; a failed Close means nothing was written. The writer
// implements Aborter, and a failed Write aborts it, so a partial upload
// never replaces the previous object.
func (g *GCS) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	bucketName, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if object == "" {
		return nil, fmt.Errorf("%w: %q names a bucket, not an object", ErrInvalidURI, uri)
	}
	obj := g.client.Bucket(bucketName).Object(object)
	return newAbortableWriter(ctx, func(ctx context.Context) io.WriteCloser {
		w := obj.NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}), nil
}

// abortableWriter ties an upload to its own context. Abort cancels that
// context so that Close discards the upload instead of committing it.
type abortableWriter struct {
	w       io.WriteCloser
	cancel  context.CancelFunc
	aborted bool
}

func newAbortableWriter(ctx context.Context, open func(context.Context) io.WriteCloser) *abortableWriter {
	ctx, cancel := context.WithCancel(ctx)
	return &abortableWriter{w: open(ctx), cancel: cancel}
}

func (a *abortableWriter) Write(p []byte) (int, error) {
	if a.aborted {
		return 0, ErrAborted
	}
	n, err := a.w.Write(p)
	if err != nil {
		a.Abort()
	}
	return n, err
}

// Abort drops the upload. It is safe to call more than once.
func (a *abortableWriter) Abort() {
	a.aborted = true
	a.cancel()
}

// Close commits the upload, or releases it and returns ErrAborted after
// Abort.
func (a *abortableWriter) Close() error {
	defer a.cancel()
	err := a.w.Close()
	if a.aborted {
		return ErrAborted
	}
	return err
}

// Open returns a reader over the object.
func (g *GCS) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucketName, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucketName).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucketName, object, err)
	}
	return r, nil
}
