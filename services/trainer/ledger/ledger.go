// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger keeps a durable history of exported program artifacts.
//
// Every successful export appends one Record: where the artifact went, its
// digest and size, and how it was produced. The ledger answers "what was
// last written to this path" without re-reading the artifact, and lets
// tooling detect when two exports produced identical bytes.
//
// Key format: "export:{path}\x00{exported_at_unix_nano:020d}:{id}"
// Value format: JSON-encoded Record
//
// Records for one path therefore sort by export time.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Latest when a path has no records.
	ErrNotFound = errors.New("ledger: no records for path")

	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger: closed")

	// ErrInvalidRecord is returned when a record lacks its path or digest.
	ErrInvalidRecord = errors.New("ledger: invalid record")
)

// Record describes one written artifact.
type Record struct {
	// ID uniquely identifies the record. Assigned by Append when empty.
	ID string `json:"id"`

	// RunID groups records written by the same training run.
	RunID string `json:"run_id,omitempty"`

	// Path is the full artifact path, e.g. "/out/torchscript.pt".
	Path string `json:"path"`

	// SHA256 is the hex digest of the artifact bytes.
	SHA256 string `json:"sha256"`

	// Bytes is the artifact size.
	Bytes int64 `json:"bytes"`

	// Strategy is "trace" or "script".
	Strategy string `json:"strategy"`

	// Strict is the trace strictness; always false for script.
	Strict bool `json:"strict"`

	// Device is the device the program was relocated to.
	Device string `json:"device"`

	// TraceID links the record to the export span, when traced.
	TraceID string `json:"trace_id,omitempty"`

	// ExportedAt is set by Append when zero.
	ExportedAt time.Time `json:"exported_at"`
}

// Ledger is an append-only export history backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens or creates a ledger.
//
// Description:
//
//	Opens the badger database described by cfg. When GCInterval is set
//	on a persistent ledger, value log GC runs in the background until
//	Close.
//
// Inputs:
//
//	cfg - Ledger configuration. Path is required unless InMemory.
//
// Outputs:
//
//	*Ledger - The ledger. Caller must call Close.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Ledger, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		db:     db,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory && cfg.GCDiscardRatio > 0 && cfg.GCDiscardRatio < 1 {
		l.stopGC = make(chan struct{})
		l.gcDone = make(chan struct{})
		go runGC(db, cfg.GCInterval, cfg.GCDiscardRatio, l.logger, l.stopGC, l.gcDone)
	}

	l.logger.Debug("ledger opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory))
	return l, nil
}

func pathPrefix(path string) []byte {
	return []byte("export:" + path + "\x00")
}

func recordKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", pathPrefix(rec.Path), rec.ExportedAt.UnixNano(), rec.ID))
}

// Append stores rec and returns it with ID and ExportedAt filled in.
func (l *Ledger) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.Path == "" || rec.SHA256 == "" {
		return Record{}, fmt.Errorf("%w: path and sha256 are required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = l.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return Record{}, ErrClosed
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec), data)
	})
	if err != nil {
		return Record{}, fmt.Errorf("append record: %w", err)
	}

	l.logger.Debug("export recorded",
		slog.String("id", rec.ID),
		slog.String("path", rec.Path),
		slog.String("sha256", rec.SHA256))
	return rec, nil
}

// History returns every record for path, oldest first.
func (l *Ledger) History(ctx context.Context, path string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	var out []Record
	prefix := pathPrefix(path)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", path, err)
	}
	return out, nil
}

// Latest returns the most recent record for path, or ErrNotFound.
func (l *Ledger) Latest(ctx context.Context, path string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return Record{}, ErrClosed
	}

	var rec Record
	prefix := pathPrefix(path)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		var err error
		rec, err = decodeItem(it.Item())
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read latest for %s: %w", path, err)
	}
	return rec, nil
}

func decodeItem(item *badger.Item) (Record, error) {
	var rec Record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("decode %q: %w", item.Key(), err)
	}
	return rec, nil
}

// Close stops background GC and closes the database. Safe to call more
// than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.stopGC != nil {
		close(l.stopGC)
		<-l.gcDone
	}
	return l.db.Close()
}
