// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocr

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCacheCapacity bounds the number of remembered recognitions.
const DefaultCacheCapacity = 256

// Cache remembers recognized text by image content hash, so an image that
// comes back to the clipboard later is not decoded again.
//
// Expired entries are dropped lazily on access; no background goroutine is
// started.
type Cache struct {
	items *ttlcache.Cache[uint64, string]
}

// NewCache creates a cache whose entries live for ttl. A capacity of zero or
// less uses DefaultCacheCapacity.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		items: ttlcache.New(
			ttlcache.WithTTL[uint64, string](ttl),
			ttlcache.WithCapacity[uint64, string](uint64(capacity)),
		),
	}
}

// Get returns the text recognized for hash, if still cached.
func (c *Cache) Get(hash uint64) (string, bool) {
	item := c.items.Get(hash)
	if item == nil {
		cacheMisses.Inc()
		return "", false
	}
	cacheHits.Inc()
	return item.Value(), true
}

// Set stores the text recognized for hash.
func (c *Cache) Set(hash uint64, text string) {
	c.items.Set(hash, text, ttlcache.DefaultTTL)
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	return c.items.Len()
}
