// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/trainhooks/services/trainer/ledger"
	"github.com/AleutianAI/trainhooks/services/trainer/program"
	"github.com/AleutianAI/trainhooks/services/trainer/storage"
)

// fakeModel exposes capabilities according to its fields and records
// the modes it was in whenever a collaborator looked at it.
type fakeModel struct {
	shape    []int
	key      string
	training bool
	grad     bool
}

func (m *fakeModel) Forward(ops program.Ops) (program.Ref, error) { return ops.Input(), nil }
func (m *fakeModel) Parameters() map[string]*program.Tensor       { return nil }
func (m *fakeModel) InputShape() []int                            { return m.shape }
func (m *fakeModel) InputKey() string                             { return m.key }
func (m *fakeModel) Training() bool                               { return m.training }
func (m *fakeModel) Train(mode bool)                              { m.training = mode }
func (m *fakeModel) GradEnabled() bool                            { return m.grad }
func (m *fakeModel) SetGradEnabled(enabled bool)                  { m.grad = enabled }

// bareModel implements no optional capability.
type bareModel struct{}

func (bareModel) Forward(ops program.Ops) (program.Ref, error) { return ops.Input(), nil }
func (bareModel) Parameters() map[string]*program.Tensor       { return nil }

type task struct {
	model program.Module
}

func (t task) BaseModel() program.Module { return t.model }

type fakeProgram struct {
	device program.Device
	toErr  error
}

func (p *fakeProgram) To(dev program.Device) (program.Program, error) {
	if p.toErr != nil {
		return nil, p.toErr
	}
	return &fakeProgram{device: dev}, nil
}

func (p *fakeProgram) Devices() []program.Device { return []program.Device{p.device} }

type modeSnapshot struct {
	training bool
	grad     bool
}

func snapshot(m program.Module) modeSnapshot {
	var s modeSnapshot
	if t, ok := m.(program.Trainable); ok {
		s.training = t.Training()
	}
	if g, ok := m.(program.GradToggler); ok {
		s.grad = g.GradEnabled()
	}
	return s
}

// fakeCompiler implements Tracer, Scripter and Serializer.
type fakeCompiler struct {
	traceCalls  int
	scriptCalls int
	sample      program.Value
	strict      bool
	modes       modeSnapshot
	saved       []program.Program

	program   *fakeProgram
	traceErr  error
	scriptErr error
	saveErr   error
}

func newFakeCompiler() *fakeCompiler {
	return &fakeCompiler{program: &fakeProgram{device: program.CPU}}
}

func (c *fakeCompiler) Trace(_ context.Context, m program.Module, sample program.Value, strict bool) (program.Program, error) {
	c.traceCalls++
	c.sample = sample
	c.strict = strict
	c.modes = snapshot(m)
	if c.traceErr != nil {
		return nil, c.traceErr
	}
	return c.program, nil
}

func (c *fakeCompiler) Script(_ context.Context, m program.Module) (program.Program, error) {
	c.scriptCalls++
	c.modes = snapshot(m)
	if c.scriptErr != nil {
		return nil, c.scriptErr
	}
	return c.program, nil
}

func (c *fakeCompiler) Save(p program.Program, w io.Writer) error {
	c.saved = append(c.saved, p)
	if c.saveErr != nil {
		return c.saveErr
	}
	_, err := io.WriteString(w, "program@"+p.Devices()[0].String())
	return err
}

// memStorage is an in-memory Backend that records every call.
type memStorage struct {
	mu        sync.Mutex
	dirs      map[string]bool
	files     map[string][]byte
	calls     []string
	closed    int
	aborted   int
	existsErr error
	createErr error
	closeErr  error
}

func newMemStorage(dirs ...string) *memStorage {
	s := &memStorage{dirs: map[string]bool{}, files: map[string][]byte{}}
	for _, d := range dirs {
		s.dirs[d] = true
	}
	return s
}

func (s *memStorage) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "exists "+path)
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, isFile := s.files[path]
	return s.dirs[path] || isFile, nil
}

func (s *memStorage) Create(_ context.Context, path string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "create "+path)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &memFile{storage: s, path: path}, nil
}

func (s *memStorage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "open "+path)
	data, ok := s.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type memFile struct {
	bytes.Buffer
	storage *memStorage
	path    string
	aborted bool
}

func (f *memFile) Abort() {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	f.storage.aborted++
	f.aborted = true
}

func (f *memFile) Close() error {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	f.storage.closed++
	if f.aborted {
		return storage.ErrAborted
	}
	if f.storage.closeErr != nil {
		return f.storage.closeErr
	}
	f.storage.files[f.path] = bytes.Clone(f.Bytes())
	return nil
}

type fakeRecorder struct {
	records []ledger.Record
	err     error
}

func (r *fakeRecorder) Append(_ context.Context, rec ledger.Record) (ledger.Record, error) {
	if r.err != nil {
		return ledger.Record{}, r.err
	}
	r.records = append(r.records, rec)
	return rec, nil
}

// logBuffer captures log output for assertions.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Contains(s string) bool { return strings.Contains(b.String(), s) }

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

var errBoom = errors.New("boom")
