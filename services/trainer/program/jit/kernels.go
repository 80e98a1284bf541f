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
	"fmt"
	"slices"

	"github.com/AleutianAI/trainhooks/services/trainer/program"
)

// Results inherit the device of their first operand.

func matmul(a, b *program.Tensor) (*program.Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("%w: matmul %v x %v", program.ErrShapeMismatch, a.Shape, b.Shape)
	}
	rows, inner, cols := a.Shape[0], a.Shape[1], b.Shape[1]
	out := program.Zeros([]int{rows, cols}, a.Device)
	for i := 0; i < rows; i++ {
		for k := 0; k < inner; k++ {
			av := a.Data[i*inner+k]
			if av == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				out.Data[i*cols+j] += av * b.Data[k*cols+j]
			}
		}
	}
	return out, nil
}

func add(a, b *program.Tensor) (*program.Tensor, error) {
	out := a.Clone()
	switch {
	case slices.Equal(a.Shape, b.Shape):
		for i := range out.Data {
			out.Data[i] += b.Data[i]
		}
	case len(b.Shape) == 1 && len(a.Shape) > 0 && a.Shape[len(a.Shape)-1] == b.Shape[0]:
		width := b.Shape[0]
		for i := range out.Data {
			out.Data[i] += b.Data[i%width]
		}
	default:
		return nil, fmt.Errorf("%w: add %v + %v", program.ErrShapeMismatch, a.Shape, b.Shape)
	}
	return out, nil
}

func relu(a *program.Tensor) *program.Tensor {
	out := a.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

func scale(a *program.Tensor, factor float32) *program.Tensor {
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] *= factor
	}
	return out
}

func flatten(a *program.Tensor) *program.Tensor {
	out := a.Clone()
	if len(a.Shape) < 2 {
		return out
	}
	out.Shape = []int{a.Shape[0], program.Numel(a.Shape[1:])}
	return out
}
