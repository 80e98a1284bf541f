// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trainhooks/services/trainer/hooks"
	"github.com/AleutianAI/trainhooks/services/trainer/models"
	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

const artifact = "torchscript.pt"

// collect runs w until it has seen n changes or the deadline passes.
func collect(t *testing.T, w *Watcher, n int, act func()) []Change {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []Change
	stop := errors.New("enough")
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, c Change) error {
			got = append(got, c)
			if len(got) == n {
				return stop
			}
			return nil
		})
	}()

	act()
	err := <-done
	require.ErrorIs(t, err, stop, "timed out after %d change(s)", len(got))
	return got
}

func newWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, artifact, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// =============================================================================
// Watcher Tests
// =============================================================================

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir)
	path := filepath.Join(dir, artifact)

	got := collect(t, w, 1, func() {
		for _, content := range []string{"one", "two", "three"} {
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		}
	})

	assert.Equal(t, path, got[0].Path)
	assert.Equal(t, OpWritten, got[0].Op)
	assert.Equal(t, path, w.Path())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir)

	got := collect(t, w, 1, func() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.pt"), []byte("x"), 0o600))
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, os.WriteFile(filepath.Join(dir, artifact), []byte("y"), 0o600))
	})
	assert.Equal(t, filepath.Join(dir, artifact), got[0].Path)
}

func TestWatcher_Remove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, artifact)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	w := newWatcher(t, dir)

	got := collect(t, w, 1, func() {
		require.NoError(t, os.Remove(path))
	})
	assert.Equal(t, OpRemoved, got[0].Op)
}

func TestWatcher_ExportHook(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir)
	hook, err := hooks.NewExportHook(hooks.NewExportConfig(dir), hooks.Dependencies{})
	require.NoError(t, err)
	m, err := models.NewClassifier()
	require.NoError(t, err)

	got := collect(t, w, 1, func() {
		require.NoError(t, hook.OnEnd(context.Background(), exportTask{m}))
	})
	assert.Equal(t, hook.ArtifactPath(), got[0].Path)
}

type exportTask struct{ m *models.Classifier }

func (t exportTask) BaseModel() program.Module { return t.m }

func TestWatcher_ContextCanceled(t *testing.T) {
	w := newWatcher(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx, func(context.Context, Change) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatcher_CloseEndsRun(t *testing.T) {
	w, err := New(t.TempDir(), artifact, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), func(context.Context, Change) error { return nil }) }()
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_Errors(t *testing.T) {
	_, err := New("gs://bucket/run", artifact, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedPath)

	_, err = New(filepath.Join(t.TempDir(), "absent"), artifact, Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(file, artifact, Options{})
	assert.Error(t, err)
}

func TestNew_FileScheme(t *testing.T) {
	dir := t.TempDir()
	w, err := New("file://"+dir, artifact, Options{})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, filepath.Join(dir, artifact), w.Path())
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "written", OpWritten.String())
	assert.Equal(t, "removed", OpRemoved.String())
	assert.Equal(t, "unknown", Op(9).String())
}
