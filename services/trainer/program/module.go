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

import "slices"

// Ref is a handle to a value produced inside one Ops session.
type Ref int

// NoRef is returned by Ops methods once the session has failed.
const NoRef Ref = -1

// Ops is the operation surface a forward pass is written against.
//
// An implementation may compute values eagerly, record them while computing
// (tracing), or record them without computing (scripting). Errors are sticky:
// after the first failure every method returns NoRef and the session reports
// the error when the forward pass returns.
type Ops interface {
	// Input returns the model input.
	Input() Ref

	// Field selects key from a Dict value.
	Field(v Ref, key string) Ref

	// Param returns the named module parameter.
	Param(name string) Ref

	// MatMul multiplies a [B,K] by b [K,N].
	MatMul(a, b Ref) Ref

	// Add adds two tensors of equal shape, or broadcasts a 1-D b over the
	// last dimension of a.
	Add(a, b Ref) Ref

	ReLU(a Ref) Ref

	// Scale multiplies every element by factor.
	Scale(a Ref, factor float32) Ref

	// Flatten keeps the leading dimension and folds the rest.
	Flatten(a Ref) Ref

	// Cond runs then when the elements of pred sum to a positive value and
	// otherwise runs otherwise. Both branches must return a value.
	Cond(pred Ref, then, otherwise func(Ops) Ref) Ref

	// Dict builds a keyed container from fields.
	Dict(fields map[string]Ref) Ref
}

// Module is a live model.
type Module interface {
	// Forward describes the computation from Input to the returned Ref.
	Forward(ops Ops) (Ref, error)

	// Parameters returns the named parameter tensors. The map is read only.
	Parameters() map[string]*Tensor
}

// InputShaper is implemented by modules that declare their per-sample
// input shape, without the batch dimension.
type InputShaper interface {
	InputShape() []int
}

// InputKeyer is implemented by modules that expect their input wrapped in
// a Dict under a fixed key.
type InputKeyer interface {
	InputKey() string
}

// Trainable is implemented by modules with a train/eval mode switch.
type Trainable interface {
	Training() bool
	Train(mode bool)
}

// GradToggler is implemented by modules that track gradients.
type GradToggler interface {
	GradEnabled() bool
	SetGradEnabled(enabled bool)
}

// DevicePlacer is implemented by modules that know where their
// parameters live.
type DevicePlacer interface {
	Device() Device
}

// InputShapeOf returns the declared input shape of m, or nil when m does
// not implement InputShaper.
func InputShapeOf(m Module) []int {
	if s, ok := m.(InputShaper); ok {
		return slices.Clone(s.InputShape())
	}
	return nil
}

// InputKeyOf returns the declared input key of m, or "" when m does not
// implement InputKeyer.
func InputKeyOf(m Module) string {
	if k, ok := m.(InputKeyer); ok {
		return k.InputKey()
	}
	return ""
}

// DeviceOf returns the device of m, defaulting to CPU.
func DeviceOf(m Module) Device {
	if p, ok := m.(DevicePlacer); ok && p.Device() != "" {
		return p.Device()
	}
	return CPU
}
