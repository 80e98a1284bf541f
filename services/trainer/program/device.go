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
	"strconv"
	"strings"
)

// Device identifies where tensor storage lives, e.g. "cpu" or "cuda:1".
type Device string

// CPU is the default device.
const CPU Device = "cpu"

var deviceTypes = map[string]bool{
	"cpu":  true,
	"cuda": true,
	"mps":  true,
	"meta": true,
}

// ParseDevice validates a device identifier.
//
// Description:
//
//	Accepts a known device type optionally followed by ":N". Surrounding
//	whitespace is trimmed; the identifier is otherwise kept as written so
//	"cuda" and "cuda:0" stay distinct.
//
// Inputs:
//
//	s - Device identifier such as "cpu", "cuda", "cuda:3".
//
// Outputs:
//
//	Device - The validated device.
//	error - Wraps ErrInvalidDevice when the identifier is malformed.
func ParseDevice(s string) (Device, error) {
	name := strings.TrimSpace(s)
	typ, ordinal, hasOrdinal := strings.Cut(name, ":")
	if !deviceTypes[typ] {
		return "", fmt.Errorf("%w: %q", ErrInvalidDevice, s)
	}
	if hasOrdinal {
		n, err := strconv.Atoi(ordinal)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: %q has a bad ordinal", ErrInvalidDevice, s)
		}
	}
	return Device(name), nil
}

// Type returns the device type without its ordinal.
func (d Device) Type() string {
	typ, _, _ := strings.Cut(string(d), ":")
	return typ
}

func (d Device) String() string {
	return string(d)
}
