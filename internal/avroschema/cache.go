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
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/linkedin/goavro/v2"
)

// Cache is an explicit, per-process cache of parsed codecs keyed by their
// source (literal text or URL). Share one across the splits of a job and
// discard it when the job ends; parsed schemas never expire mid-job unless a
// TTL is set. Safe for concurrent use.
type Cache struct {
	inner *ttlcache.Cache[string, *goavro.Codec]
}

// NewCache returns a cache whose entries live for ttl. A ttl of zero means
// entries never expire.
func NewCache(ttl time.Duration) *Cache {
	opts := []ttlcache.Option[string, *goavro.Codec]{}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *goavro.Codec](ttl))
	}
	return &Cache{inner: ttlcache.New(opts...)}
}

// Get returns the codec cached under key, if any.
func (c *Cache) Get(key string) (*goavro.Codec, bool) {
	item := c.inner.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Put stores a codec under key.
func (c *Cache) Put(key string, codec *goavro.Codec) {
	c.inner.Set(key, codec, ttlcache.DefaultTTL)
}

// Len returns the number of cached codecs.
func (c *Cache) Len() int { return c.inner.Len() }
