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

package splitreader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/avroreader/internal/avroocf"
	"github.com/cardinalhq/avroreader/internal/avroschema"
)

const userSchema = `{"type":"record","name":"User","fields":[{"name":"id","type":"long"},{"name":"name","type":"string"}]}`

// renamedSchema is read-compatible with userSchema (identical binary layout)
// but exposes different field names, so a decoded record reveals which schema
// the reader was configured with.
const renamedSchema = `{"type":"record","name":"User","fields":[{"name":"ident","type":"long"},{"name":"label","type":"string"}]}`

// writeUsers writes an OCF file of blockCount blocks with perBlock sequential
// user records each and returns its path.
func writeUsers(t *testing.T, dir string, blockCount, perBlock int) string {
	t.Helper()

	path := filepath.Join(dir, "users.avro")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:      f,
		Schema: userSchema,
	})
	require.NoError(t, err)

	i := 0
	for b := 0; b < blockCount; b++ {
		datums := make([]any, 0, perBlock)
		for r := 0; r < perBlock; r++ {
			datums = append(datums, map[string]any{
				"id":   int64(i),
				"name": fmt.Sprintf("user-%03d", i),
			})
			i++
		}
		require.NoError(t, w.Append(datums))
	}
	return path
}

// blockStarts derives every block start offset by stepping Sync through the
// file, plus the end-of-file position as a final element.
func blockStarts(t *testing.T, path string) []int64 {
	t.Helper()

	af, err := avroocf.Open(path, avroocf.Options{})
	require.NoError(t, err)
	defer func() { _ = af.Close() }()

	var starts []int64
	at := int64(0)
	for {
		require.NoError(t, af.Sync(at))
		pos := af.Tell()
		if pos >= af.Size() {
			starts = append(starts, af.Size())
			return starts
		}
		starts = append(starts, pos)
		at = pos - avroocf.SyncSize + 1
	}
}

// readIDs drains a reader and returns the record ids in order.
func readIDs(t *testing.T, r *Reader) []int64 {
	t.Helper()

	var ids []int64
	key := r.CreateKey()
	value := r.CreateValue()
	lastPos := int64(0)
	for {
		ok, err := r.Next(key, value)
		require.NoError(t, err)
		if !ok {
			return ids
		}
		rec := value.Value().(map[string]any)
		ids = append(ids, rec["id"].(int64))

		pos := r.Pos()
		assert.GreaterOrEqual(t, pos, lastPos, "position must be non-decreasing")
		lastPos = pos

		p := r.Progress()
		assert.GreaterOrEqual(t, p, float32(0))
		assert.LessOrEqual(t, p, float32(1))
	}
}

func TestReader_WholeFile(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 5, 4)
	st, err := os.Stat(path)
	require.NoError(t, err)

	r, err := NewReader(context.Background(), Config{}, Split{Path: path, Start: 0, Length: st.Size()}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ids := readIDs(t, r)
	require.Len(t, ids, 20)
	for i, id := range ids {
		assert.Equal(t, int64(i), id)
	}
	assert.Equal(t, float32(1), r.Progress())
}

func TestReader_AdjacentSplitsCoverEveryRecordOnce(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 8, 3)
	st, err := os.Stat(path)
	require.NoError(t, err)
	size := st.Size()

	// Sweep the split boundary across the whole file, including positions
	// inside blocks, inside sync markers, and exactly on block boundaries.
	for boundary := int64(0); boundary <= size; boundary += 13 {
		first, err := NewReader(context.Background(), Config{},
			Split{Path: path, Start: 0, Length: boundary}, nil)
		require.NoError(t, err)
		second, err := NewReader(context.Background(), Config{},
			Split{Path: path, Start: boundary, Length: size - boundary}, nil)
		require.NoError(t, err)

		ids := append(readIDs(t, first), readIDs(t, second)...)
		require.NoError(t, first.Close())
		require.NoError(t, second.Close())

		require.Len(t, ids, 24, "boundary %d", boundary)
		for i, id := range ids {
			require.Equal(t, int64(i), id, "boundary %d", boundary)
		}
	}
}

func TestReader_StopsAtSyncBoundary(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 4, 3)
	starts := blockStarts(t, path)
	require.Len(t, starts, 5)

	// A split ending inside the second block still finishes that block's
	// records, because their sync point precedes the stop offset; the third
	// block begins past it.
	stop := starts[1] + 2
	r, err := NewReader(context.Background(), Config{}, Split{Path: path, Start: 0, Length: stop}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ids := readIDs(t, r)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, ids)

	// The final record crossed the stop offset, so the raw position exceeds
	// it but progress stays capped.
	assert.Greater(t, r.Pos(), stop)
	assert.Equal(t, float32(1), r.Progress())
}

func TestReader_ZeroLengthEffectiveRange(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 3, 2)
	starts := blockStarts(t, path)

	// Start at the second block's sync marker with length equal to the
	// marker: the post-seek position equals the stop offset.
	split := Split{
		Path:   path,
		Start:  starts[1] - avroocf.SyncSize,
		Length: avroocf.SyncSize,
	}
	r, err := NewReader(context.Background(), Config{}, split, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, starts[1], r.Pos())
	assert.Equal(t, float32(0), r.Progress())

	readIDs(t, r)
	assert.Equal(t, float32(0), r.Progress())
}

func TestReader_ResolvedSchemaConfiguresDecoder(t *testing.T) {
	dir := t.TempDir()
	path := writeUsers(t, dir, 2, 2)
	st, err := os.Stat(path)
	require.NoError(t, err)

	cfg := Config{
		Distributed: true,
		Table: avroschema.NewTable().
			Add(dir, map[string]string{avroschema.SchemaLiteralKey: renamedSchema}),
	}

	r, err := NewReader(context.Background(), cfg, Split{Path: path, Start: 0, Length: st.Size()}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	key := r.CreateKey()
	value := r.CreateValue()
	ok, err := r.Next(key, value)
	require.NoError(t, err)
	require.True(t, ok)

	rec := value.Value().(map[string]any)
	assert.Contains(t, rec, "ident")
	assert.Contains(t, rec, "label")
	assert.NotContains(t, rec, "id")
}

func TestReader_UnmatchedPartitionUsesEmbeddedSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeUsers(t, dir, 1, 2)
	st, err := os.Stat(path)
	require.NoError(t, err)

	cfg := Config{
		Distributed: true,
		Table: avroschema.NewTable().
			Add("/somewhere/else", map[string]string{avroschema.SchemaLiteralKey: renamedSchema}),
	}

	r, err := NewReader(context.Background(), cfg, Split{Path: path, Start: 0, Length: st.Size()}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	key := r.CreateKey()
	value := r.CreateValue()
	ok, err := r.Next(key, value)
	require.NoError(t, err)
	require.True(t, ok)

	rec := value.Value().(map[string]any)
	assert.Contains(t, rec, "id")
}

func TestReader_InteractiveJobSchema(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 1, 2)
	st, err := os.Stat(path)
	require.NoError(t, err)

	cfg := Config{JobSchema: renamedSchema}
	r, err := NewReader(context.Background(), cfg, Split{Path: path, Start: 0, Length: st.Size()}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	key := r.CreateKey()
	value := r.CreateValue()
	ok, err := r.Next(key, value)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, value.Value().(map[string]any), "ident")
}

func TestReader_MalformedJobSchemaFatal(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 1, 1)

	_, err := NewReader(context.Background(), Config{JobSchema: "{"},
		Split{Path: path, Start: 0, Length: 1}, nil)
	require.Error(t, err)
}

func TestReader_MissingFileFatal(t *testing.T) {
	_, err := NewReader(context.Background(), Config{},
		Split{Path: filepath.Join(t.TempDir(), "absent.avro"), Start: 0, Length: 100}, nil)
	require.Error(t, err)
}

func TestReader_CloseTwice(t *testing.T) {
	path := writeUsers(t, t.TempDir(), 1, 1)

	r, err := NewReader(context.Background(), Config{}, Split{Path: path, Start: 0, Length: 10}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestReader_SharedResolverCache(t *testing.T) {
	dir := t.TempDir()
	path := writeUsers(t, dir, 2, 2)
	st, err := os.Stat(path)
	require.NoError(t, err)

	cache := avroschema.NewCache(0)
	cfg := Config{
		Distributed: true,
		Table: avroschema.NewTable().
			Add(dir, map[string]string{avroschema.SchemaLiteralKey: userSchema}),
		Resolver: avroschema.NewResolver(avroschema.WithCache(cache)),
	}

	for range 2 {
		r, err := NewReader(context.Background(), cfg, Split{Path: path, Start: 0, Length: st.Size()}, nil)
		require.NoError(t, err)
		require.NoError(t, r.Close())
	}
	assert.Equal(t, 1, cache.Len())
}
