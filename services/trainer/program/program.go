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

// Program is a portable representation of a model's computation,
// independent of the live module it was extracted from.
type Program interface {
	// To returns a copy of the program with all tensors placed on dev.
	To(dev Device) (Program, error)

	// Devices lists the distinct devices holding the program's tensors.
	Devices() []Device
}

// DummyInput builds one zero-filled sample for m.
//
// The tensor has shape [1]+shape on the module's device. When key is not
// empty the tensor is wrapped in a Dict under that key. A shape that
// CheckShape rejects returns ErrShapeMismatch.
func DummyInput(m Module, shape []int, key string) (Value, error) {
	full := append([]int{1}, shape...)
	if _, err := CheckShape(full); err != nil {
		return nil, err
	}
	t := Zeros(full, DeviceOf(m))
	if key != "" {
		return Dict{key: t}, nil
	}
	return t, nil
}
