// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSplits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	tests := []struct {
		name      string
		start     int64
		length    int64
		splitSize int64
		wantLens  []int64
	}{
		{"whole file one split", 0, -1, 2000, []int64{1000}},
		{"even splits", 0, -1, 250, []int64{250, 250, 250, 250}},
		{"ragged tail", 0, -1, 300, []int64{300, 300, 300, 100}},
		{"bounded range", 100, 500, 200, []int64{200, 200, 100}},
		{"empty range", 500, 0, 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := planSplits(path, tt.start, tt.length, tt.splitSize)
			require.NoError(t, err)

			var lens []int64
			next := tt.start
			for _, s := range splits {
				assert.Equal(t, next, s.Start, "splits must be contiguous")
				next = s.Start + s.Length
				lens = append(lens, s.Length)
			}
			assert.Equal(t, tt.wantLens, lens)
		})
	}
}

func TestPlanSplits_MissingFile(t *testing.T) {
	_, err := planSplits(filepath.Join(t.TempDir(), "absent"), 0, -1, 100)
	require.Error(t, err)
}
