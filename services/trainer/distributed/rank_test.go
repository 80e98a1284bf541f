// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package distributed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_IsPrimary(t *testing.T) {
	assert.True(t, Static{Rank: 0, WorldSize: 4}.IsPrimary())
	assert.False(t, Static{Rank: 3, WorldSize: 4}.IsPrimary())
	assert.True(t, Single.IsPrimary())
}

func TestPrimaryFunc(t *testing.T) {
	calls := 0
	p := PrimaryFunc(func() bool {
		calls++
		return calls%2 == 1
	})
	assert.True(t, p.IsPrimary())
	assert.False(t, p.IsPrimary())
	assert.Equal(t, 2, calls)
}

func TestFromLookup(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    Static
		wantErr bool
	}{
		{name: "unset", env: nil, want: Static{Rank: 0, WorldSize: 1}},
		{name: "primary", env: map[string]string{"RANK": "0", "WORLD_SIZE": "8"}, want: Static{Rank: 0, WorldSize: 8}},
		{name: "worker", env: map[string]string{"RANK": "5", "WORLD_SIZE": "8"}, want: Static{Rank: 5, WorldSize: 8}},
		{name: "rank without world", env: map[string]string{"RANK": "2"}, want: Static{Rank: 2, WorldSize: 3}},
		{name: "empty values", env: map[string]string{"RANK": "", "WORLD_SIZE": ""}, want: Static{Rank: 0, WorldSize: 1}},
		{name: "non numeric rank", env: map[string]string{"RANK": "zero"}, wantErr: true},
		{name: "negative rank", env: map[string]string{"RANK": "-1"}, wantErr: true},
		{name: "zero world", env: map[string]string{"WORLD_SIZE": "0"}, wantErr: true},
		{name: "rank outside world", env: map[string]string{"RANK": "4", "WORLD_SIZE": "4"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fromLookup(func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRank)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvRank, "1")
	t.Setenv(EnvWorldSize, "2")

	got, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Static{Rank: 1, WorldSize: 2}, got)
	assert.False(t, got.IsPrimary())
}
