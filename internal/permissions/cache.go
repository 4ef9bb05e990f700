// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package permissions

import (
	"sort"
	"sync"
	"time"
)

// cacheEntry stores a permission (or its absence) with its insertion time.
// A nil record is a cached not-found, bounding repeated-miss cost.
type cacheEntry struct {
	record     *Permission
	insertedAt time.Time
}

// Cache is a TTL cache of permission records. Safe for concurrent use.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	// now is replaceable for tests.
	now func() time.Time
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached record and whether an unexpired entry was found.
// The record itself may be nil for a cached not-found.
func (c *Cache) Get(costCenter string) (*Permission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[costCenter]
	if !ok {
		return nil, false
	}
	// Expired entries are kept for GetStale; a fresh Put overwrites them.
	if c.now().Sub(e.insertedAt) >= c.ttl {
		return nil, false
	}
	return e.record, true
}

// GetStale returns the cached record regardless of expiry, for degraded
// mode when the durable store is unreachable.
func (c *Cache) GetStale(costCenter string) (*Permission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[costCenter]
	if !ok {
		return nil, false
	}
	return e.record, true
}

// Put stores a record (nil for not-found) with the current timestamp.
func (c *Cache) Put(costCenter string, record *Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[costCenter] = cacheEntry{record: record, insertedAt: c.now()}
}

// Invalidate removes one cost center's entry.
func (c *Cache) Invalidate(costCenter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, costCenter)
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats describes the cache for introspection endpoints.
type Stats struct {
	Enabled    bool     `json:"enabled"`
	TTLSeconds float64  `json:"ttlSeconds"`
	EntryCount int      `json:"entryCount"`
	Keys       []string `json:"keys"`
}

// Stats returns a point-in-time view of the cache.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return Stats{
		Enabled:    true,
		TTLSeconds: c.ttl.Seconds(),
		EntryCount: len(c.entries),
		Keys:       keys,
	}
}
