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

// Package splitreader reads one byte-range split of an Avro container file
// as a forward-only sequence of records. Each reader is owned by exactly one
// task; readers over different splits of the same file never coordinate and
// rely on sync markers to find their own record boundaries.
package splitreader

import (
	"context"
	"fmt"

	"github.com/linkedin/goavro/v2"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/avroreader/internal/avroocf"
	"github.com/cardinalhq/avroreader/internal/avroschema"
)

// Split is a contiguous byte range of one file assigned to one task. The
// range is half-open: [Start, Start+Length).
type Split struct {
	Path   string
	Start  int64
	Length int64
}

func (s Split) String() string {
	return fmt.Sprintf("%s:%d+%d", s.Path, s.Start, s.Length)
}

// NullKey is the constant key sentinel; the container format has no keys.
type NullKey struct{}

// Record is a caller-allocated container the reader refills on each pull.
// The reader never retains it past the call.
type Record struct {
	datum any
}

// Set replaces the record's decoded value.
func (r *Record) Set(datum any) { r.datum = datum }

// Value returns the decoded value in goavro native form.
func (r *Record) Value() any { return r.datum }

// Reporter is the host framework's progress/heartbeat hook. It is retained
// by the reader for the host's benefit but not driven by the core read loop.
type Reporter interface {
	Progress(fraction float32)
}

// KeyValueReader is the iteration protocol the host framework consumes.
type KeyValueReader interface {
	CreateKey() NullKey
	CreateValue() *Record
	Next(key NullKey, value *Record) (bool, error)
	Pos() int64
	Progress() float32
	Close() error
}

// Config is the per-job configuration a reader is constructed with.
type Config struct {
	// Distributed is true when this reader is one task of a multi-task job.
	Distributed bool

	// JobSchema is an inline reader schema for interactive, single-process
	// reads. See avroschema.ResolveInput.
	JobSchema string

	// Table is the job's partition table; nil when not running distributed.
	Table *avroschema.Table

	// Resolver resolves the reader schema. A default resolver is used when
	// nil; supply one to share a schema cache across splits.
	Resolver *avroschema.Resolver
}

// Reader is a bounded split reader over one Avro container file.
type Reader struct {
	file     *avroocf.File
	start    int64
	stop     int64
	reporter Reporter
	closed   bool
}

var _ KeyValueReader = (*Reader)(nil)

// NewReader resolves the split's schema, opens the container, and seeks to
// the first sync point at or after the split's start. The bytes between the
// split start and that sync point belong to the previous split's trailing
// record, so the effective progress range begins at the post-seek position.
// Any failure here is fatal for the split.
func NewReader(ctx context.Context, cfg Config, split Split, reporter Reporter) (*Reader, error) {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = avroschema.NewResolver()
	}

	codec, err := resolver.Resolve(ctx, avroschema.ResolveInput{
		FilePath:    split.Path,
		Distributed: cfg.Distributed,
		JobSchema:   cfg.JobSchema,
		Table:       cfg.Table,
	})
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", split, err)
	}

	opts := avroocf.Options{}
	if codec != nil {
		opts.ReaderSchema = codec.Schema()
	}

	file, err := avroocf.Open(split.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", split, err)
	}
	if err := file.Sync(split.Start); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("split %s: %w", split, err)
	}

	return &Reader{
		file:     file,
		start:    file.Tell(),
		stop:     split.Start + split.Length,
		reporter: reporter,
	}, nil
}

// CreateKey returns the constant key sentinel.
func (r *Reader) CreateKey() NullKey { return NullKey{} }

// CreateValue returns a fresh record container for the caller to reuse.
func (r *Reader) CreateValue() *Record { return &Record{} }

// Next decodes the next record into value. It returns false once the handle
// is exhausted or once the next record's block begins at or past the split's
// stop offset; the past-stop check runs before any decode so that the one
// record straddling the boundary is finished but no new record starts. On
// false the container is left untouched. Decode errors are fatal.
func (r *Reader) Next(_ NullKey, value *Record) (bool, error) {
	has, err := r.file.HasNext()
	if err != nil {
		return false, fmt.Errorf("failed to advance reader: %w", err)
	}
	if !has || r.file.PastSync(r.stop) {
		return false, nil
	}

	datum, err := r.file.Next()
	if err != nil {
		return false, fmt.Errorf("failed to decode record: %w", err)
	}
	value.Set(datum)

	recordsReadCounter.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("reader", "splitreader"),
	))
	return true, nil
}

// Pos returns the current byte offset, non-decreasing across pulls. It can
// exceed the split's stop while the final boundary-crossing record is being
// finished.
func (r *Reader) Pos() int64 { return r.file.Tell() }

// Progress returns the fraction of the effective range consumed, in [0, 1].
// A degenerate zero-length range reports 0.
func (r *Reader) Progress() float32 {
	if r.stop == r.start {
		return 0
	}
	p := float32(r.Pos()-r.start) / float32(r.stop-r.start)
	return max(0, min(p, 1))
}

// Codec returns the datum codec in effect, for callers that re-encode
// records (e.g. to Avro JSON).
func (r *Reader) Codec() *goavro.Codec { return r.file.Codec() }

// Close releases the underlying handle.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
