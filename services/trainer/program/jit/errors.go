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

import "errors"

// Sentinel errors for program extraction and archives.
var (
	// ErrUnknownParam is returned when a forward pass asks for a parameter
	// the module does not have.
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrInvalidRef is returned when an op receives a handle that was never
	// produced by the current session.
	ErrInvalidRef = errors.New("invalid value reference")

	// ErrTypeMismatch is returned when an op receives a Dict where a tensor
	// is needed, or the reverse.
	ErrTypeMismatch = errors.New("value type mismatch")

	// ErrMissingField is returned when Field selects a key the Dict lacks.
	ErrMissingField = errors.New("missing dict field")

	// ErrContainerOutput is returned by a strict trace whose forward pass
	// returns a Dict. Dicts built and read back inside the pass are fine.
	// Tracing with strict disabled records the output container instead.
	ErrContainerOutput = errors.New("strict trace cannot record a container output")

	// ErrForeignProgram is returned when Save receives a program this
	// package did not produce.
	ErrForeignProgram = errors.New("program was not produced by jit")

	// ErrBadArchive is returned when Load meets a malformed archive.
	ErrBadArchive = errors.New("malformed program archive")
)
