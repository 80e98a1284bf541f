// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package program

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// MaxElements bounds the element count of a tensor built from a declared
// shape.
const MaxElements = 1<<31 - 1

// Value is a model input or output: a *Tensor or a Dict of values.
type Value interface {
	value()
}

// Tensor is a dense row-major float32 tensor tagged with its device.
type Tensor struct {
	Shape  []int
	Data   []float32
	Device Device
}

func (*Tensor) value() {}

// Dict is a keyed container of values, used for models that take or
// return structured inputs.
type Dict map[string]Value

func (Dict) value() {}

// Keys returns the dict keys in sorted order.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Numel returns the number of elements a tensor of the given shape holds.
// The empty shape is a scalar with one element.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// CheckShape returns the element count of shape, or ErrShapeMismatch when
// a dimension is negative or the count exceeds MaxElements.
func CheckShape(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows the element count", ErrShapeMismatch, shape)
		}
		n *= d
	}
	if n > MaxElements {
		return 0, fmt.Errorf("%w: shape %v has %d elements, limit is %d", ErrShapeMismatch, shape, n, MaxElements)
	}
	return n, nil
}

// NewTensor creates a CPU tensor, checking that data fills the shape.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	want, err := CheckShape(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, shape, want, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data, Device: CPU}, nil
}

// Zeros creates a zero-filled tensor on dev. shape must already be valid;
// see CheckShape.
func Zeros(shape []int, dev Device) *Tensor {
	return &Tensor{
		Shape:  slices.Clone(shape),
		Data:   make([]float32, Numel(shape)),
		Device: dev,
	}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape:  slices.Clone(t.Shape),
		Data:   slices.Clone(t.Data),
		Device: t.Device,
	}
}

// To returns a copy of t placed on dev. The receiver is not modified.
func (t *Tensor) To(dev Device) *Tensor {
	c := t.Clone()
	c.Device = dev
	return c
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var s float32
	for _, v := range t.Data {
		s += v
	}
	return s
}

// Equal reports whether both tensors have the same shape and data.
// Devices are not compared.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return slices.Equal(t.Shape, o.Shape) && slices.Equal(t.Data, o.Data)
}
