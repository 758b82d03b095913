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
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Partition is one table entry: a dataset-partition path prefix and its
// configuration properties.
type Partition struct {
	Prefix     string            `yaml:"prefix"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Table maps partition path prefixes to properties. Entries are kept in
// insertion order and Match accepts the first prefix match, so resolution is
// deterministic even if a caller supplies overlapping prefixes. Real
// partition layouts have disjoint prefixes and the tie-break never fires.
//
// A Table is immutable once handed to readers and safe for concurrent reads.
type Table struct {
	partitions []Partition
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a partition entry. Returns the table for chaining.
func (t *Table) Add(prefix string, properties map[string]string) *Table {
	t.partitions = append(t.partitions, Partition{Prefix: prefix, Properties: properties})
	return t
}

// Len returns the number of partition entries.
func (t *Table) Len() int { return len(t.partitions) }

// Match returns the first partition whose prefix is a string prefix of path.
func (t *Table) Match(path string) (Partition, bool) {
	for _, p := range t.partitions {
		if strings.HasPrefix(path, p.Prefix) {
			return p, true
		}
	}
	return Partition{}, false
}

type tableConfig struct {
	Partitions []Partition `yaml:"partitions"`
}

// NewTableFromFile loads a partition table from a YAML file. A filename of
// the form "env:VAR" reads the YAML from that environment variable instead.
func NewTableFromFile(filename string) (*Table, error) {
	if envVar, ok := strings.CutPrefix(filename, "env:"); ok {
		contents := os.Getenv(envVar)
		if contents == "" {
			return nil, fmt.Errorf("environment variable %s is not set", envVar)
		}
		return newTableFromContents(filename, []byte(contents))
	}

	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table from file %s: %w", filename, err)
	}
	return newTableFromContents(filename, contents)
}

func newTableFromContents(filename string, contents []byte) (*Table, error) {
	var cfg tableConfig
	dec := yaml.NewDecoder(strings.NewReader(string(contents)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal partition table from file %s: %w", filename, err)
	}
	return &Table{partitions: cfg.Partitions}, nil
}
