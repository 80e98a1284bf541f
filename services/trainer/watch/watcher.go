// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package watch notices when an export folder's artifact is rewritten.
//
// An export rewrites {folder}/torchscript.pt in place: a create or
// truncate followed by a burst of writes. The Watcher collapses each burst
// into one Change once the file has been quiet for the debounce window.
//
// Only local folders can be watched.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrUnsupportedPath is returned for folders on remote backends.
var ErrUnsupportedPath = errors.New("watch: only local folders can be watched")

// Op is what happened to the artifact.
type Op int

const (
	OpWritten Op = iota
	OpRemoved
)

func (op Op) String() string {
	switch op {
	case OpWritten:
		return "written"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one settled change to the artifact.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the artifact must be quiet before a Change is
	// reported. Default: 200ms.
	Debounce time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher reports changes to one file name inside one directory.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
}

// New watches folder for changes to the file called name.
//
// Description:
//
//	The folder must exist and be local; a "file://" prefix is accepted.
//	The watch is on the folder, so the artifact may be absent at first.
//
// Inputs:
//
//	folder - The export folder.
//	name - The artifact file name inside it.
//	opts - Debounce window and logger.
//
// Outputs:
//
//	*Watcher - Call Run to receive changes and Close to release it.
//	error - ErrUnsupportedPath, or the fsnotify error.
func New(folder, name string, opts Options) (*Watcher, error) {
	if strings.Contains(folder, "://") && !strings.HasPrefix(folder, "file://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPath, folder)
	}
	dir := strings.TrimPrefix(folder, "file://")
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     filepath.Join(dir, name),
		debounce: opts.Debounce,
		fsw:      fsw,
		logger:   opts.Logger.With(slog.String("component", "watch"), slog.String("path", filepath.Join(dir, name))),
	}, nil
}

// Path is the watched artifact path.
func (w *Watcher) Path() string { return w.path }

// Close stops the underlying watch. A blocked Run returns nil.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run calls handle for every settled change until ctx is done, the
// watcher is closed, or handle returns an error.
//
// handle runs on Run's goroutine. A burst still pending when ctx ends
// is dropped.
func (w *Watcher) Run(ctx context.Context, handle func(context.Context, Change) error) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending Op
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			pending = toOp(ev.Op)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			if err := handle(ctx, Change{Path: w.path, Op: pending, Time: time.Now()}); err != nil {
				return err
			}
		}
	}
}

func toOp(op fsnotify.Op) Op {
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		return OpRemoved
	}
	return OpWritten
}
