// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrTypeConfiguration is returned when a hook option has the wrong type
	// or an invalid value.
	ErrTypeConfiguration = errors.New("hook configuration error")

	// ErrUnknownHook is returned when building a hook name nobody registered.
	ErrUnknownHook = errors.New("unknown hook")

	// ErrDuplicateHook is returned when a hook name is registered twice.
	ErrDuplicateHook = errors.New("hook already registered")
)

// MissingOutputDirectoryError is returned at run start when the export
// folder does not exist. It is fatal to the run.
type MissingOutputDirectoryError struct {
	Dir string
}

func (e *MissingOutputDirectoryError) Error() string {
	return fmt.Sprintf("Torchscript folder '%s' does not exist.", e.Dir)
}

// Unwrap lets callers test with errors.Is(err, fs.ErrNotExist).
func (e *MissingOutputDirectoryError) Unwrap() error {
	return fs.ErrNotExist
}

// HookError reports which hook failed at which event. Err is the hook's
// error, unchanged.
type HookError struct {
	Hook  string
	Event Event
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s %s: %v", e.Hook, e.Event, e.Err)
}

// Unwrap returns the hook's own error.
func (e *HookError) Unwrap() error {
	return e.Err
}
