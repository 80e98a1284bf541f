// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
	"github.com/AleutianAI/trainhooks/services/trainer/program/jit"
)

func TestNewClassifier_Defaults(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	assert.Equal(t, []int{3, 8, 8}, program.InputShapeOf(c))
	assert.Empty(t, program.InputKeyOf(c))
	assert.Equal(t, program.CPU, program.DeviceOf(c))
	assert.True(t, c.Training())
	assert.True(t, c.GradEnabled())
	assert.Equal(t, []int{192, 10}, c.Parameters()[ParamWeight].Shape)
	assert.Equal(t, []int{10}, c.Parameters()[ParamBias].Shape)
}

func TestNewClassifier_Options(t *testing.T) {
	c, err := NewClassifier(WithInputShape(2, 2), WithInputKey("image"), WithClasses(3), WithDevice("cuda:1"))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, c.InputShape())
	assert.Equal(t, "image", c.InputKey())
	assert.Equal(t, program.Device("cuda:1"), c.Device())
	assert.Equal(t, program.Device("cuda:1"), c.Parameters()[ParamWeight].Device)

	noShape, err := NewClassifier(WithInputShape())
	require.NoError(t, err)
	assert.Nil(t, program.InputShapeOf(noShape))

	_, err = NewClassifier(WithClasses(0))
	assert.Error(t, err)
	_, err = NewClassifier(WithDevice("tpu"))
	assert.ErrorIs(t, err, program.ErrInvalidDevice)
	_, err = NewClassifier(WithInputShape(-1, 3))
	assert.ErrorIs(t, err, program.ErrShapeMismatch)
}

func TestNewClassifier_Deterministic(t *testing.T) {
	a, err := NewClassifier()
	require.NoError(t, err)
	b, err := NewClassifier()
	require.NoError(t, err)
	assert.True(t, a.Parameters()[ParamWeight].Equal(b.Parameters()[ParamWeight]))
}

func TestClassifier_Forward(t *testing.T) {
	c, err := NewClassifier(WithInputShape(2), WithClasses(2))
	require.NoError(t, err)

	zero := program.Zeros([]int{1, 2}, program.CPU)
	out, err := jit.Eager(c, zero)
	require.NoError(t, err)
	logits, ok := out.(*program.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, logits.Shape)
	assert.InDeltaSlice(t, []float32{0.1, 0.1}, logits.Data, 1e-6, "zero input yields the bias through the ReLU branch")
}

func TestClassifier_ScriptKeepsGate(t *testing.T) {
	c, err := NewClassifier(WithDictOutput())
	require.NoError(t, err)

	p, err := jit.NewCompiler(nil).Script(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, p.(*jit.Program).Graph.Count(jit.OpIf))
	assert.Equal(t, 1, p.(*jit.Program).Graph.Count(jit.OpDict))
}

func TestClassifier_Step(t *testing.T) {
	c, err := NewClassifier(WithInputShape(1), WithClasses(1))
	require.NoError(t, err)
	before := c.Parameters()[ParamBias].Data[0]

	c.Step(0.05)
	assert.InDelta(t, before-0.05, c.Parameters()[ParamBias].Data[0], 1e-6)

	c.Train(false)
	c.Step(0.05)
	assert.InDelta(t, before-0.05, c.Parameters()[ParamBias].Data[0], 1e-6, "eval mode does not update")
}
