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

// Package avroocf reads Avro Object Container Files with byte-offset
// addressing. Datum decoding is delegated to goavro; this package owns the
// container walk: header parse, block framing, and sync-marker scanning, so
// that a caller can position the handle at an arbitrary byte offset and
// resume at the next valid record boundary.
package avroocf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/linkedin/goavro/v2"
)

const (
	// SyncSize is the length of the sync marker separating blocks.
	SyncSize = 16

	// maxHeaderVarint bounds a single zigzag varint read.
	maxHeaderVarint = 10

	schemaMetaKey = "avro.schema"
	codecMetaKey  = "avro.codec"
)

var magic = []byte{'O', 'b', 'j', 1}

// Options configures Open.
type Options struct {
	// ReaderSchema, when non-empty, is the JSON schema used to decode datums
	// instead of the schema embedded in the file header. The writer schema
	// must be read-compatible with it.
	ReaderSchema string
}

// File is a forward-only handle over one container file. It is not safe for
// concurrent use; each consumer opens its own handle.
type File struct {
	f    *os.File
	size int64

	sync       [SyncSize]byte
	schemaJSON string
	codec      *goavro.Codec
	decompress decompressFunc

	// pos is the raw input offset consumed so far. After a block is loaded it
	// sits at the end of that block's trailing sync marker.
	pos int64

	// blockStart is the offset of the block the next datum would come from;
	// nextBlock is the offset just past the current block's trailing marker.
	blockStart int64
	nextBlock  int64

	remaining int64  // datums left in the loaded block
	buf       []byte // undecoded datum bytes of the loaded block

	closed bool
}

// Open opens path and parses the container header. The handle is positioned
// at the first block; call Sync to reposition for a split.
func Open(path string, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container file %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat container file %s: %w", path, err)
	}

	af := &File{f: f, size: st.Size()}
	if err := af.readHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	schemaJSON := af.schemaJSON
	if opts.ReaderSchema != "" {
		schemaJSON = opts.ReaderSchema
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to parse datum schema for %s: %w", path, err)
	}
	af.codec = codec

	return af, nil
}

// Schema returns the writer schema embedded in the file header.
func (af *File) Schema() string { return af.schemaJSON }

// Codec returns the datum codec in effect (reader schema if one was given).
func (af *File) Codec() *goavro.Codec { return af.codec }

// Size returns the container file's length in bytes.
func (af *File) Size() int64 { return af.size }

// readFullAt fills buf from offset off or fails.
func (af *File) readFullAt(buf []byte, off int64) error {
	n, err := af.f.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// readHeader parses magic, the metadata map, and the sync marker, leaving the
// handle positioned at the first block.
func (af *File) readHeader() error {
	var m [4]byte
	if err := af.readFullAt(m[:], 0); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(m[:], magic) {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupt, m)
	}
	off := int64(len(magic))

	meta := map[string][]byte{}
	for {
		count, n, err := af.readLongAt(off)
		if err != nil {
			return fmt.Errorf("%w: metadata count: %v", ErrCorrupt, err)
		}
		off += int64(n)
		if count == 0 {
			break
		}
		if count < 0 {
			// Negative map block count is followed by the block's byte size.
			count = -count
			_, n, err := af.readLongAt(off)
			if err != nil {
				return fmt.Errorf("%w: metadata block size: %v", ErrCorrupt, err)
			}
			off += int64(n)
		}
		for i := int64(0); i < count; i++ {
			key, n, err := af.readBytesAt(off)
			if err != nil {
				return fmt.Errorf("%w: metadata key: %v", ErrCorrupt, err)
			}
			off += n
			val, n2, err := af.readBytesAt(off)
			if err != nil {
				return fmt.Errorf("%w: metadata value: %v", ErrCorrupt, err)
			}
			off += n2
			meta[string(key)] = val
		}
	}

	if err := af.readFullAt(af.sync[:], off); err != nil {
		return fmt.Errorf("%w: sync marker: %v", ErrCorrupt, err)
	}
	off += SyncSize

	schema, ok := meta[schemaMetaKey]
	if !ok {
		return fmt.Errorf("%w: header has no %s", ErrCorrupt, schemaMetaKey)
	}
	af.schemaJSON = string(schema)

	codecName := "null"
	if c, ok := meta[codecMetaKey]; ok && len(c) > 0 {
		codecName = string(c)
	}
	dec, err := decompressorFor(codecName)
	if err != nil {
		return err
	}
	af.decompress = dec

	af.pos = off
	af.blockStart = off
	af.nextBlock = off
	return nil
}

// Sync positions the handle at the first block boundary at or after offset by
// scanning for the sync marker. If no marker follows offset the handle is
// positioned at end of file.
func (af *File) Sync(offset int64) error {
	if offset < 0 {
		offset = 0
	}
	af.remaining = 0
	af.buf = nil

	// Scan in chunks, overlapping by SyncSize-1 so a marker straddling a
	// chunk boundary is still found.
	const chunkSize = 64 * 1024
	chunk := make([]byte, chunkSize)
	at := offset
	for at < af.size {
		n, err := af.f.ReadAt(chunk, at)
		if n == 0 && err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("sync scan at %d: %w", at, err)
		}
		if i := bytes.Index(chunk[:n], af.sync[:]); i >= 0 {
			found := at + int64(i) + SyncSize
			af.pos = found
			af.blockStart = found
			af.nextBlock = found
			return nil
		}
		if err == io.EOF {
			break
		}
		at += int64(n) - (SyncSize - 1)
	}

	af.pos = af.size
	af.blockStart = af.size
	af.nextBlock = af.size
	return nil
}

// HasNext reports whether another datum is available, loading the next block
// on demand. Empty blocks are skipped.
func (af *File) HasNext() (bool, error) {
	for af.remaining == 0 {
		if af.nextBlock >= af.size {
			return false, nil
		}
		if err := af.loadBlock(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Next decodes and returns the next datum in goavro native form. Callers must
// have observed a true HasNext.
func (af *File) Next() (any, error) {
	if af.remaining == 0 {
		return nil, fmt.Errorf("%w: no datum available", ErrCorrupt)
	}
	datum, rest, err := af.codec.NativeFromBinary(af.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode datum at block %d: %w", af.blockStart, err)
	}
	af.buf = rest
	af.remaining--
	if af.remaining == 0 && len(af.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after last datum in block %d", ErrCorrupt, len(af.buf), af.blockStart)
	}
	return datum, nil
}

// Tell returns the raw input offset consumed so far.
func (af *File) Tell() int64 { return af.pos }

// PastSync reports whether the next datum's block begins at or past the sync
// boundary for offset. Mirrors Avro's DataFileReader.pastSync: true when
// blockStart >= offset+SyncSize or the handle is at end of file.
func (af *File) PastSync(offset int64) bool {
	return af.blockStart >= offset+SyncSize || af.blockStart >= af.size
}

// Close releases the underlying file. Calling Close more than once returns
// the error from the second close but does not corrupt state.
func (af *File) Close() error {
	if af.closed {
		return nil
	}
	af.closed = true
	af.remaining = 0
	af.buf = nil
	return af.f.Close()
}

// loadBlock reads the block at nextBlock: datum count, byte size, payload,
// and the trailing sync marker, which must match the file's marker.
func (af *File) loadBlock() error {
	off := af.nextBlock
	start := off

	count, n, err := af.readLongAt(off)
	if err != nil {
		return fmt.Errorf("%w: block count at %d: %v", ErrCorrupt, off, err)
	}
	off += int64(n)
	if count < 0 {
		return fmt.Errorf("%w: negative block count %d at %d", ErrCorrupt, count, start)
	}

	size, n, err := af.readLongAt(off)
	if err != nil {
		return fmt.Errorf("%w: block size at %d: %v", ErrCorrupt, off, err)
	}
	off += int64(n)
	if size < 0 || off+size+SyncSize > af.size {
		return fmt.Errorf("%w: block at %d overruns file (size %d)", ErrCorrupt, start, size)
	}

	payload := make([]byte, size)
	if err := af.readFullAt(payload, off); err != nil {
		return fmt.Errorf("%w: block payload at %d: %v", ErrCorrupt, off, err)
	}
	off += size

	var marker [SyncSize]byte
	if err := af.readFullAt(marker[:], off); err != nil {
		return fmt.Errorf("%w: block sync at %d: %v", ErrCorrupt, off, err)
	}
	if marker != af.sync {
		return fmt.Errorf("%w: sync mismatch after block at %d", ErrCorrupt, start)
	}
	off += SyncSize

	data, err := af.decompress(payload)
	if err != nil {
		return fmt.Errorf("block at %d: %w", start, err)
	}

	af.blockStart = start
	af.nextBlock = off
	af.pos = off
	af.remaining = count
	af.buf = data
	return nil
}

// readLongAt reads one zigzag-varint long at off, returning the value and the
// number of bytes it occupied.
func (af *File) readLongAt(off int64) (int64, int, error) {
	var b [maxHeaderVarint]byte
	n, err := af.f.ReadAt(b[:], off)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, err
	}
	v, vn := binary.Varint(b[:n])
	if vn <= 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return v, vn, nil
}

// readBytesAt reads a length-prefixed byte string at off, returning the bytes
// and the total encoded width.
func (af *File) readBytesAt(off int64) ([]byte, int64, error) {
	l, n, err := af.readLongAt(off)
	if err != nil {
		return nil, 0, err
	}
	if l < 0 || off+int64(n)+l > af.size {
		return nil, 0, io.ErrUnexpectedEOF
	}
	buf := make([]byte, l)
	if err := af.readFullAt(buf, off+int64(n)); err != nil {
		return nil, 0, err
	}
	return buf, int64(n) + l, nil
}
