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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// gatedModel computes h = flatten(x)·w + b and returns relu(h) when h sums
// positive, -h otherwise.
type gatedModel struct {
	params  map[string]*program.Tensor
	key     string
	asDict  bool
	viaDict bool
	badName bool
	failErr error
}

func newGatedModel(t *testing.T) *gatedModel {
	t.Helper()
	w, err := program.NewTensor([]int{4, 2}, []float32{1, 1, 1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	b, err := program.NewTensor([]int{2}, []float32{0, 0})
	require.NoError(t, err)
	return &gatedModel{params: map[string]*program.Tensor{"w": w, "b": b, "unused": program.Zeros([]int{3}, program.CPU)}}
}

func (m *gatedModel) Parameters() map[string]*program.Tensor { return m.params }

func (m *gatedModel) Forward(ops program.Ops) (program.Ref, error) {
	if m.failErr != nil {
		return program.NoRef, m.failErr
	}
	x := ops.Input()
	if m.key != "" {
		x = ops.Field(x, m.key)
	}
	weight := "w"
	if m.badName {
		weight = "missing"
	}
	h := ops.Add(ops.MatMul(ops.Flatten(x), ops.Param(weight)), ops.Param("b"))
	if m.viaDict {
		h = ops.Field(ops.Dict(map[string]program.Ref{"hidden": h}), "hidden")
	}
	out := ops.Cond(h,
		func(o program.Ops) program.Ref { return o.ReLU(h) },
		func(o program.Ops) program.Ref { return o.Scale(h, -1) },
	)
	if m.asDict {
		out = ops.Dict(map[string]program.Ref{"logits": out})
	}
	return out, nil
}

func ones(t *testing.T) *program.Tensor {
	t.Helper()
	x, err := program.NewTensor([]int{1, 2, 2}, []float32{1, 1, 1, 1})
	require.NoError(t, err)
	return x
}

func sample() program.Value {
	return program.Zeros([]int{1, 2, 2}, program.CPU)
}

func asTensor(t *testing.T, v program.Value) *program.Tensor {
	t.Helper()
	tensor, ok := v.(*program.Tensor)
	require.True(t, ok, "expected tensor, got %T", v)
	return tensor
}

// =============================================================================
// Trace Tests
// =============================================================================

func TestTrace_BakesTakenBranch(t *testing.T) {
	c := NewCompiler(nil)
	p, err := c.Trace(context.Background(), newGatedModel(t), sample(), true)
	require.NoError(t, err)

	jp := p.(*Program)
	assert.Equal(t, StrategyTrace, jp.Strategy)
	assert.True(t, jp.Strict)
	assert.Equal(t, 0, jp.Graph.Count(OpIf), "trace must not record branches")
	assert.Equal(t, 1, jp.Graph.Count(OpScale), "zero sample takes the else branch")
	assert.Equal(t, 0, jp.Graph.Count(OpReLU))
	assert.Equal(t, []string{"b", "w"}, jp.ParamNames(), "only referenced params are kept")
}

func TestTrace_ReplaysRecordedPathOnly(t *testing.T) {
	m := newGatedModel(t)
	p, err := NewCompiler(nil).Trace(context.Background(), m, sample(), true)
	require.NoError(t, err)

	eager, err := Eager(m, ones(t))
	require.NoError(t, err)
	traced, err := p.(*Program).Run(ones(t))
	require.NoError(t, err)

	assert.Equal(t, []float32{4, 4}, asTensor(t, eager).Data)
	assert.Equal(t, []float32{-4, -4}, asTensor(t, traced).Data, "trace keeps the branch taken by the sample")
}

func TestTrace_StrictAllowsIntermediateDict(t *testing.T) {
	m := newGatedModel(t)
	m.viaDict = true

	p, err := NewCompiler(nil).Trace(context.Background(), m, sample(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, p.(*Program).Graph.Count(OpDict))

	out, err := p.(*Program).Run(ones(t))
	require.NoError(t, err)
	assert.Equal(t, []float32{-4, -4}, asTensor(t, out).Data)
}

func TestTrace_StrictRejectsDict(t *testing.T) {
	m := newGatedModel(t)
	m.asDict = true

	_, err := NewCompiler(nil).Trace(context.Background(), m, sample(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContainerOutput)

	p, err := NewCompiler(nil).Trace(context.Background(), m, sample(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.(*Program).Graph.Count(OpDict))

	out, err := p.(*Program).Run(sample())
	require.NoError(t, err)
	d, ok := out.(program.Dict)
	require.True(t, ok)
	assert.Contains(t, d, "logits")
}

func TestTrace_KeyedInput(t *testing.T) {
	m := newGatedModel(t)
	m.key = "image"

	p, err := NewCompiler(nil).Trace(context.Background(), m, program.Dict{"image": sample()}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, p.(*Program).Graph.Count(OpField))

	_, err = NewCompiler(nil).Trace(context.Background(), m, program.Dict{"other": sample()}, true)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = NewCompiler(nil).Trace(context.Background(), m, sample(), true)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestTrace_Errors(t *testing.T) {
	ctx := context.Background()

	m := newGatedModel(t)
	m.badName = true
	_, err := NewCompiler(nil).Trace(ctx, m, sample(), true)
	assert.ErrorIs(t, err, ErrUnknownParam)

	boom := errors.New("boom")
	m = newGatedModel(t)
	m.failErr = boom
	_, err = NewCompiler(nil).Trace(ctx, m, sample(), true)
	assert.ErrorIs(t, err, boom)

	_, err = NewCompiler(nil).Trace(ctx, newGatedModel(t), program.Zeros([]int{1, 3}, program.CPU), true)
	assert.ErrorIs(t, err, program.ErrShapeMismatch)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewCompiler(nil).Trace(canceled, newGatedModel(t), sample(), true)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Script Tests
// =============================================================================

func TestScript_KeepsBothBranches(t *testing.T) {
	p, err := NewCompiler(nil).Script(context.Background(), newGatedModel(t))
	require.NoError(t, err)

	jp := p.(*Program)
	assert.Equal(t, StrategyScript, jp.Strategy)
	assert.Equal(t, 1, jp.Graph.Count(OpIf))
	assert.Equal(t, 1, jp.Graph.Count(OpReLU))
	assert.Equal(t, 1, jp.Graph.Count(OpScale))
}

func TestScript_MatchesEagerOnEveryBranch(t *testing.T) {
	m := newGatedModel(t)
	p, err := NewCompiler(nil).Script(context.Background(), m)
	require.NoError(t, err)

	for name, in := range map[string]program.Value{"positive": ones(t), "zero": sample()} {
		t.Run(name, func(t *testing.T) {
			want, err := Eager(m, in)
			require.NoError(t, err)
			got, err := p.(*Program).Run(in)
			require.NoError(t, err)
			assert.True(t, asTensor(t, want).Equal(asTensor(t, got)))
		})
	}
}

func TestScript_AllowsDict(t *testing.T) {
	m := newGatedModel(t)
	m.asDict = true
	p, err := NewCompiler(nil).Script(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, p.(*Program).Graph.Count(OpDict))
}

func TestScript_UnknownParam(t *testing.T) {
	m := newGatedModel(t)
	m.badName = true
	_, err := NewCompiler(nil).Script(context.Background(), m)
	assert.ErrorIs(t, err, ErrUnknownParam)
}

// =============================================================================
// Relocation Tests
// =============================================================================

func TestProgram_To(t *testing.T) {
	m := newGatedModel(t)
	p, err := NewCompiler(nil).Script(context.Background(), m)
	require.NoError(t, err)

	moved, err := p.To("cuda:1")
	require.NoError(t, err)
	assert.Equal(t, []program.Device{"cuda:1"}, moved.Devices())
	assert.Equal(t, []program.Device{program.CPU}, p.Devices(), "source program is unchanged")
	assert.Equal(t, program.CPU, m.params["w"].Device, "live model is unchanged")

	_, err = p.To("gpu")
	assert.ErrorIs(t, err, program.ErrInvalidDevice)
}

// =============================================================================
// Archive Tests
// =============================================================================

func TestSaveLoad_RoundTrip(t *testing.T) {
	c := NewCompiler(nil)
	p, err := c.Script(context.Background(), newGatedModel(t))
	require.NoError(t, err)
	moved, err := p.To("cuda:0")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Save(moved, &buf))

	loaded, err := LoadBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, StrategyScript, loaded.Strategy)
	assert.Equal(t, []program.Device{"cuda:0"}, loaded.Devices())
	assert.Equal(t, moved.(*Program).Graph.Len(), loaded.Graph.Len())

	out, err := loaded.Run(ones(t))
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4}, asTensor(t, out).Data)
}

func TestSave_Deterministic(t *testing.T) {
	c := NewCompiler(nil)
	m := newGatedModel(t)

	var first, second bytes.Buffer
	p1, err := c.Trace(context.Background(), m, sample(), true)
	require.NoError(t, err)
	require.NoError(t, c.Save(p1, &first))

	p2, err := c.Trace(context.Background(), m, sample(), true)
	require.NoError(t, err)
	require.NoError(t, c.Save(p2, &second))

	assert.Equal(t, first.Bytes(), second.Bytes())
}

type foreignProgram struct{}

func (foreignProgram) To(program.Device) (program.Program, error) { return foreignProgram{}, nil }
func (foreignProgram) Devices() []program.Device                  { return nil }

func TestSave_ForeignProgram(t *testing.T) {
	err := NewCompiler(nil).Save(foreignProgram{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrForeignProgram)
}

func TestLoad_BadArchive(t *testing.T) {
	_, err := LoadBytes([]byte("not a zip"))
	assert.ErrorIs(t, err, ErrBadArchive)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, writeEntry(zw, "version", []byte("9")))
	require.NoError(t, zw.Close())
	_, err = LoadBytes(buf.Bytes())
	assert.ErrorIs(t, err, ErrBadArchive)

	buf.Reset()
	zw = zip.NewWriter(&buf)
	require.NoError(t, writeEntry(zw, "version", []byte(archiveVersion)))
	require.NoError(t, zw.Close())
	_, err = LoadBytes(buf.Bytes())
	assert.ErrorIs(t, err, ErrBadArchive, "missing manifest")
}
