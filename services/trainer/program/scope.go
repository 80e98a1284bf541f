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

// InferenceScope remembers the train and grad modes of a module so they
// can be put back after an inference-only section.
type InferenceScope struct {
	trainable   Trainable
	grads       GradToggler
	wasTraining bool
	hadGrad     bool
	restored    bool
}

// EnterInference switches m to eval mode with gradient tracking off.
//
// Description:
//
//	Capabilities the module does not implement are skipped. The returned
//	scope must be restored, typically with defer, on every exit path.
//
// Example:
//
//	scope := program.EnterInference(model)
//	defer scope.Restore()
//
// Thread Safety: Not safe for concurrent use on the same module.
func EnterInference(m Module) *InferenceScope {
	s := &InferenceScope{}
	if t, ok := m.(Trainable); ok {
		s.trainable = t
		s.wasTraining = t.Training()
		t.Train(false)
	}
	if g, ok := m.(GradToggler); ok {
		s.grads = g
		s.hadGrad = g.GradEnabled()
		g.SetGradEnabled(false)
	}
	return s
}

// Restore puts back the modes saved by EnterInference. Calling it more
// than once is a no-op.
func (s *InferenceScope) Restore() {
	if s == nil || s.restored {
		return
	}
	s.restored = true
	if s.grads != nil {
		s.grads.SetGradEnabled(s.hadGrad)
	}
	if s.trainable != nil {
		s.trainable.Train(s.wasTraining)
	}
}
