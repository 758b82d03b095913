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

package avroschema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableYAML = `
partitions:
  - prefix: /data/events/dt=2026-08-01
    properties:
      avro.schema.literal: '{"type":"string"}'
  - prefix: /data/events/dt=2026-08-02
    properties:
      avro.schema.url: http://schemas.example.com/events.avsc
  - prefix: /data/events
`

func TestTable_MatchInsertionOrder(t *testing.T) {
	table := NewTable().
		Add("/data/a", map[string]string{"k": "first"}).
		Add("/data", map[string]string{"k": "second"})

	p, ok := table.Match("/data/a/part-00000")
	require.True(t, ok)
	assert.Equal(t, "first", p.Properties["k"])

	p, ok = table.Match("/data/b/part-00000")
	require.True(t, ok)
	assert.Equal(t, "second", p.Properties["k"])

	_, ok = table.Match("/elsewhere/part-00000")
	assert.False(t, ok)
}

func TestNewTableFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tableYAML), 0o644))

	table, err := NewTableFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	p, ok := table.Match("/data/events/dt=2026-08-01/part-00000")
	require.True(t, ok)
	assert.Contains(t, p.Properties, SchemaLiteralKey)

	// The catch-all prefix wins for any other date.
	p, ok = table.Match("/data/events/dt=2026-08-03/part-00000")
	require.True(t, ok)
	assert.Empty(t, p.Properties)
}

func TestNewTableFromFile_Env(t *testing.T) {
	t.Setenv("TEST_PARTITION_TABLE", tableYAML)

	table, err := NewTableFromFile("env:TEST_PARTITION_TABLE")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
}

func TestNewTableFromFile_EnvUnset(t *testing.T) {
	_, err := NewTableFromFile("env:TEST_PARTITION_TABLE_UNSET")
	require.Error(t, err)
}

func TestNewTableFromFile_UnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("partitions:\n  - prefix: /p\n    bogus: true\n"), 0o644))

	_, err := NewTableFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal partition table")
}

func TestNewTableFromFile_Missing(t *testing.T) {
	_, err := NewTableFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	c := NewCache(0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
