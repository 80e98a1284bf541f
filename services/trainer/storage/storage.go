// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the persistence backends hooks write artifacts to.
//
// A Backend answers existence checks and opens byte sinks and sources for a
// path. PathManager routes each path to a backend by URI prefix, so the same
// hook configuration works for a local directory or a gs:// bucket prefix:
//
//	pm := storage.NewPathManager(storage.NewLocal())
//	gcs, err := storage.NewGCS(ctx, saKeyPath)
//	if err != nil {
//	    return err
//	}
//	pm.Register("gs://", gcs)
//
// # Thread Safety
//
// PathManager is safe for concurrent use. Local and GCS are safe for
// concurrent use; writers they return are not.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors for storage operations.
var (
	// ErrInvalidURI is returned when a path cannot be parsed for its backend.
	ErrInvalidURI = errors.New("invalid storage uri")

	// ErrNoBackend is returned when no backend handles a path.
	ErrNoBackend = errors.New("no storage backend for path")

	// ErrDuplicatePrefix is returned when a prefix is registered twice.
	ErrDuplicatePrefix = errors.New("storage prefix already registered")

	// ErrAborted is returned by Close on a writer that was aborted.
	ErrAborted = errors.New("write aborted")
)

// Backend persists bytes under string paths.
type Backend interface {
	// Exists reports whether path names an existing file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// Create opens path for binary writing, truncating any previous
	// content. The caller must Close the writer; data is only guaranteed
	// to be persisted once Close returns nil.
	//
	// Close commits whatever was written, even after a failed write. A
	// writer that can discard its content implements Aborter; callers
	// abort it before closing when the write did not complete.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Open opens path for reading. The caller must Close the reader.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Aborter is implemented by writers that can drop their content instead
// of committing it. After Abort, Close releases the writer and returns
// ErrAborted.
type Aborter interface {
	Abort()
}

// Join appends name to dir with a single "/" separator.
//
// Unlike path.Join it leaves the "//" of URI schemes intact, so
// Join("gs://bucket/run", "a.pt") is "gs://bucket/run/a.pt".
func Join(dir, name string) string {
	return strings.TrimRight(dir, "/") + "/" + strings.TrimLeft(name, "/")
}

type prefixHandler struct {
	prefix  string
	backend Backend
}

// PathManager dispatches paths to backends by longest matching prefix,
// falling back to a default backend.
type PathManager struct {
	mu       sync.RWMutex
	handlers []prefixHandler
	fallback Backend
}

var _ Backend = (*PathManager)(nil)

// NewPathManager creates a PathManager. fallback handles every path no
// registered prefix matches; it may be nil, in which case such paths fail
// with ErrNoBackend.
func NewPathManager(fallback Backend) *PathManager {
	return &PathManager{fallback: fallback}
}

// Register routes paths starting with prefix to b.
func (m *PathManager) Register(prefix string, b Backend) error {
	if prefix == "" || b == nil {
		return fmt.Errorf("%w: empty prefix or nil backend", ErrInvalidURI)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if h.prefix == prefix {
			return fmt.Errorf("%w: %s", ErrDuplicatePrefix, prefix)
		}
	}
	m.handlers = append(m.handlers, prefixHandler{prefix: prefix, backend: b})
	sort.SliceStable(m.handlers, func(i, j int) bool {
		return len(m.handlers[i].prefix) > len(m.handlers[j].prefix)
	})
	return nil
}

// Prefixes returns the registered prefixes, longest first.
func (m *PathManager) Prefixes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h.prefix)
	}
	return out
}

func (m *PathManager) backendFor(path string) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.handlers {
		if strings.HasPrefix(path, h.prefix) {
			return h.backend, nil
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, path)
	}
	return m.fallback, nil
}

// Exists forwards to the backend registered for path.
func (m *PathManager) Exists(ctx context.Context, path string) (bool, error) {
	b, err := m.backendFor(path)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, path)
}

// Create forwards to the backend registered for path.
func (m *PathManager) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	b, err := m.backendFor(path)
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, path)
}

// Open forwards to the backend registered for path.
func (m *PathManager) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := m.backendFor(path)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, path)
}
