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

// Package avroschema decides which reader schema, if any, applies to a file
// before any record of it is decoded. A nil resolved codec is a normal
// outcome and means the decoder should use the schema embedded in the file.
package avroschema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/cardinalhq/avroreader/internal/logctx"
)

// Partition property keys recognized by the resolver.
const (
	// SchemaLiteralKey holds the reader schema as inline JSON.
	SchemaLiteralKey = "avro.schema.literal"
	// SchemaURLKey holds a location the reader schema can be fetched from.
	SchemaURLKey = "avro.schema.url"
)

// maxSchemaBytes bounds a fetched schema document.
const maxSchemaBytes = 8 << 20

// ResolveInput is everything resolution depends on. There is no ambient
// process state: interactive callers pass their schema in JobSchema.
type ResolveInput struct {
	// FilePath is the split's file. It is qualified to its canonical absolute
	// form before prefix matching unless it already carries a URI scheme.
	FilePath string

	// Distributed is true when running as one task of a multi-task job, in
	// which case the partition table is consulted first.
	Distributed bool

	// JobSchema is an inline schema set by an interactive, single-process
	// caller. Consulted only when no partition matched.
	JobSchema string

	// Table is the job's partition table. May be nil.
	Table *Table
}

// Resolver resolves reader schemas. The zero value is not usable; construct
// with NewResolver. Safe for concurrent use.
type Resolver struct {
	client *http.Client
	cache  *Cache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the client used to fetch schema URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithCache attaches an explicit parsed-schema cache shared across splits.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver returns a resolver with a default HTTP client.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the reader codec for the file, or (nil, nil) when no
// schema source applies and the file's embedded schema should be used.
//
// Order: in a distributed job the partition table is searched for the first
// entry whose prefix matches the qualified file path. A matched partition
// with a literal schema wins over one with a URL; a matched partition with
// neither property is terminal — the partition has no override and no other
// entry is consulted. Only when no partition matched does JobSchema apply.
//
// A malformed literal, malformed JobSchema, or unreachable/unparsable URL is
// a fatal configuration error.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*goavro.Codec, error) {
	ll := logctx.FromContext(ctx)

	if in.Distributed && in.Table != nil {
		qualified := qualifyPath(in.FilePath)
		if part, ok := in.Table.Match(qualified); ok {
			ll.Info("Matched partition for input file",
				"partition", part.Prefix, "file", qualified)

			if lit, ok := part.Properties[SchemaLiteralKey]; ok {
				return r.parse(lit)
			}
			if url, ok := part.Properties[SchemaURLKey]; ok {
				return r.fetch(ctx, url)
			}
			// This partition explicitly carries no override; do not let it
			// inherit a sibling's schema or the job-level one.
			return nil, nil
		}
		ll.Info("Unable to match input file with a partition", "file", qualified)
	}

	if in.JobSchema != "" {
		ll.Info("Using schema from job configuration")
		return r.parse(in.JobSchema)
	}

	// No more places to get the schema from; the decoder will rely on the
	// schema embedded in the file itself.
	return nil, nil
}

// parse builds a codec from inline schema JSON, consulting the cache when
// one is attached.
func (r *Resolver) parse(schemaJSON string) (*goavro.Codec, error) {
	if r.cache != nil {
		if codec, ok := r.cache.Get(schemaJSON); ok {
			return codec, nil
		}
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema literal: %w", err)
	}
	if r.cache != nil {
		r.cache.Put(schemaJSON, codec)
	}
	return codec, nil
}

// fetch retrieves schema JSON from an http(s) URL or a filesystem path.
func (r *Resolver) fetch(ctx context.Context, url string) (*goavro.Codec, error) {
	if r.cache != nil {
		if codec, ok := r.cache.Get(url); ok {
			return codec, nil
		}
	}

	var body []byte
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build schema request for %s: %w", url, err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch schema from %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch schema from %s: status %s", url, resp.Status)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema body from %s: %w", url, err)
		}
	} else {
		var err error
		body, err = readSchemaFile(url)
		if err != nil {
			return nil, err
		}
	}

	codec, err := goavro.NewCodec(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema from %s: %w", url, err)
	}
	if r.cache != nil {
		r.cache.Put(url, codec)
	}
	return codec, nil
}

// qualifyPath canonicalizes a local path to absolute form. Paths that already
// carry a URI scheme are matched as given.
func qualifyPath(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
