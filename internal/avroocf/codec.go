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

package avroocf

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/snappy"
)

// ErrCorrupt tags container-structure failures: bad magic, truncated blocks,
// sync mismatches, checksum failures.
var ErrCorrupt = errors.New("corrupt avro container")

type decompressFunc func(compressed []byte) ([]byte, error)

// decompressorFor returns the block decompressor for an avro.codec name.
func decompressorFor(name string) (decompressFunc, error) {
	switch name {
	case "null":
		return func(b []byte) ([]byte, error) { return b, nil }, nil
	case "deflate":
		return inflate, nil
	case "snappy":
		return unsnappy, nil
	default:
		return nil, fmt.Errorf("unsupported avro.codec %q", name)
	}
}

func inflate(compressed []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer func() { _ = fr.Close() }()
	data, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCorrupt, err)
	}
	return data, nil
}

// unsnappy decodes a snappy block followed by a 4-byte big-endian CRC32 of
// the uncompressed payload, as the Avro spec requires.
func unsnappy(compressed []byte) ([]byte, error) {
	if len(compressed) < 4 {
		return nil, fmt.Errorf("%w: snappy block too short", ErrCorrupt)
	}
	want := binary.BigEndian.Uint32(compressed[len(compressed)-4:])
	data, err := snappy.Decode(nil, compressed[:len(compressed)-4])
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
	}
	if got := crc32.ChecksumIEEE(data); got != want {
		return nil, fmt.Errorf("%w: snappy crc mismatch: got %08x want %08x", ErrCorrupt, got, want)
	}
	return data, nil
}
