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
	"io"
	"io/fs"
	"os"
	"strings"
)

const localScheme = "file://"

// Local is a Backend over the host filesystem. Paths may carry a
// "file://" scheme, which is stripped.
type Local struct{}

var _ Backend = Local{}

// NewLocal returns the local filesystem backend.
func NewLocal() Local {
	return Local{}
}

func localPath(path string) string {
	return strings.TrimPrefix(path, localScheme)
}

// Exists reports whether a file or directory exists at path.
func (Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(localPath(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Create truncates or creates the file. Parent directories are not
// created; a missing directory surfaces as fs.ErrNotExist.
func (Local) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Create(localPath(path))
}

// Open opens the file for reading.
func (Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(localPath(path))
}
