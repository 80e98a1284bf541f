// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jit

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

const (
	archiveRoot    = "torchscript/"
	archiveVersion = "1"

	// maxEntrySize bounds any single archive entry read by Load.
	maxEntrySize = 1 << 30
)

type manifest struct {
	Strategy Strategy      `json:"strategy"`
	Strict   bool          `json:"strict"`
	Graph    *Graph        `json:"graph"`
	Params   []paramRecord `json:"params"`
}

type paramRecord struct {
	Name   string         `json:"name"`
	Shape  []int          `json:"shape"`
	Device program.Device `json:"device"`
	Entry  string         `json:"entry"`
}

func writeArchive(p *Program, w io.Writer) error {
	zw := zip.NewWriter(w)

	m := manifest{Strategy: p.Strategy, Strict: p.Strict, Graph: p.Graph}
	names := p.ParamNames()
	for i, name := range names {
		t := p.Params[name]
		m.Params = append(m.Params, paramRecord{
			Name:   name,
			Shape:  t.Shape,
			Device: t.Device,
			Entry:  "data/" + strconv.Itoa(i),
		})
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := writeEntry(zw, "version", []byte(archiveVersion)); err != nil {
		return err
	}
	if err := writeEntry(zw, "program.json", doc); err != nil {
		return err
	}
	for i, name := range names {
		if err := writeEntry(zw, m.Params[i].Entry, encodeFloats(p.Params[name].Data)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// writeEntry stores data uncompressed with a zero timestamp so archives
// are byte-for-byte reproducible.
func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: archiveRoot + name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

func encodeFloats(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

// Load reads a program archive written by Save.
//
// Description:
//
//	Validates the version entry, decodes the manifest and restores every
//	parameter with its recorded shape and device.
//
// Inputs:
//
//	r - Random access reader over the archive bytes.
//	size - Archive size in bytes.
//
// Outputs:
//
//	*Program - The decoded program.
//	error - Wraps ErrBadArchive on structural problems.
func Load(r io.ReaderAt, size int64) (*Program, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[strings.TrimPrefix(f.Name, archiveRoot)] = f
	}

	version, err := readEntry(entries, "version")
	if err != nil {
		return nil, err
	}
	if string(version) != archiveVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrBadArchive, version)
	}

	doc, err := readEntry(entries, "program.json")
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrBadArchive, err)
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: manifest has no graph", ErrBadArchive)
	}

	p := &Program{
		Strategy: m.Strategy,
		Strict:   m.Strict,
		Graph:    m.Graph,
		Params:   make(map[string]*program.Tensor, len(m.Params)),
	}
	for _, rec := range m.Params {
		raw, err := readEntry(entries, rec.Entry)
		if err != nil {
			return nil, err
		}
		if len(raw) != 4*program.Numel(rec.Shape) {
			return nil, fmt.Errorf("%w: param %q has %d bytes for shape %v", ErrBadArchive, rec.Name, len(raw), rec.Shape)
		}
		p.Params[rec.Name] = &program.Tensor{
			Shape:  rec.Shape,
			Data:   decodeFloats(raw),
			Device: rec.Device,
		}
	}
	return p, nil
}

// LoadBytes is Load over an in-memory archive.
func LoadBytes(b []byte) (*Program, error) {
	return Load(bytes.NewReader(b), int64(len(b)))
}

func readEntry(entries map[string]*zip.File, name string) ([]byte, error) {
	f, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing entry %s", ErrBadArchive, name)
	}
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%w: entry %s too large", ErrBadArchive, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBadArchive, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrBadArchive, name, err)
	}
	return data, nil
}
