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

import "errors"

// Sentinel errors for program values.
var (
	// ErrInvalidDevice is returned when a device identifier cannot be parsed.
	// Valid identifiers are cpu, cuda, mps and meta, optionally followed by
	// ":N" with a non-negative ordinal.
	ErrInvalidDevice = errors.New("invalid device")

	// ErrShapeMismatch is returned when tensor data does not fit its shape,
	// or when two operands have incompatible shapes.
	ErrShapeMismatch = errors.New("shape mismatch")
)
