// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package distributed answers which process of a multi-process run is the
// designated writer.
//
// Hooks never inspect the environment themselves. They are handed a
// RankProvider and ask it on every callback, so tests and single-process
// tools can inject a fixed answer.
package distributed

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by FromEnv.
const (
	EnvRank      = "RANK"
	EnvWorldSize = "WORLD_SIZE"
)

// ErrInvalidRank is returned when a rank or world size cannot be parsed or
// is out of range.
var ErrInvalidRank = errors.New("invalid rank")

// RankProvider reports whether the calling process is the designated
// writer. Implementations must be safe to call repeatedly.
type RankProvider interface {
	IsPrimary() bool
}

// PrimaryFunc adapts a function to RankProvider.
type PrimaryFunc func() bool

// IsPrimary calls f.
func (f PrimaryFunc) IsPrimary() bool { return f() }

// Static is a fixed rank in a fixed world. Rank 0 is primary.
type Static struct {
	Rank      int
	WorldSize int
}

// IsPrimary reports whether s is rank 0.
func (s Static) IsPrimary() bool { return s.Rank == 0 }

// Single is the provider for a single-process run.
var Single RankProvider = Static{Rank: 0, WorldSize: 1}

// FromEnv reads RANK and WORLD_SIZE.
//
// Description:
//
//	Unset variables mean a single-process run: rank 0 of a world of 1.
//	Both values must be non-negative integers and the rank must be
//	smaller than the world size.
//
// Outputs:
//
//	Static - The parsed rank.
//	error - Wraps ErrInvalidRank on malformed or inconsistent values.
func FromEnv() (Static, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Static, error) {
	s := Static{Rank: 0, WorldSize: 1}

	if v, ok := lookup(EnvRank); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Static{}, fmt.Errorf("%w: %s=%q", ErrInvalidRank, EnvRank, v)
		}
		s.Rank = n
	}
	if v, ok := lookup(EnvWorldSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Static{}, fmt.Errorf("%w: %s=%q", ErrInvalidRank, EnvWorldSize, v)
		}
		s.WorldSize = n
	} else if s.Rank > 0 {
		s.WorldSize = s.Rank + 1
	}

	if s.Rank >= s.WorldSize {
		return Static{}, fmt.Errorf("%w: rank %d outside world of %d", ErrInvalidRank, s.Rank, s.WorldSize)
	}
	return s, nil
}
