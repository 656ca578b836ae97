// Copyright 2026 The ffl-livescore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetcher

import (
	"sync"
	"time"

	"github.com/egdcrypto/ffl-livescore/common"
)

// CacheTier freshness classification of a cache lookup
type CacheTier int

// Cache lookup classifications
const (
	// TierMiss no entry, or entry older than the stale TTL
	TierMiss CacheTier = iota
	// TierFresh entry younger than the fresh TTL
	TierFresh
	// TierStale entry between the fresh and stale TTLs, usable as fallback
	TierStale
)

// cachedSnapshot one cache entry
type cachedSnapshot[T any] struct {
	data     T
	cachedAt time.Time
}

// SnapshotCache last-known-good cache with two staleness tiers, keyed by a
// caller-chosen string (week/season, or game ID)
type SnapshotCache[T any] struct {
	mu       sync.RWMutex
	entries  map[string]cachedSnapshot[T]
	freshTTL time.Duration
	staleTTL time.Duration
	now      common.TimeSource
}

// NewSnapshotCache create new snapshot cache
func NewSnapshotCache[T any](
	freshTTL time.Duration, staleTTL time.Duration, now common.TimeSource,
) *SnapshotCache[T] {
	if now == nil {
		now = time.Now
	}
	if staleTTL < freshTTL {
		staleTTL = freshTTL
	}
	return &SnapshotCache[T]{
		entries:  make(map[string]cachedSnapshot[T]),
		freshTTL: freshTTL,
		staleTTL: staleTTL,
		now:      now,
	}
}

// Put store a snapshot under key, stamped with the current time
func (c *SnapshotCache[T]) Put(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedSnapshot[T]{data: data, cachedAt: c.now()}
}

// Get look up a snapshot, classifying it by age. Entries beyond the stale TTL
// are dropped and reported as a miss.
func (c *SnapshotCache[T]) Get(key string) (T, CacheTier) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	var zero T
	if !ok {
		return zero, TierMiss
	}
	age := c.now().Sub(entry.cachedAt)
	switch {
	case age <= c.freshTTL:
		return entry.data, TierFresh
	case age <= c.staleTTL:
		return entry.data, TierStale
	default:
		c.mu.Lock()
		// re-check under the write lock, a newer entry may have landed
		if latest, ok := c.entries[key]; ok && latest.cachedAt.Equal(entry.cachedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, TierMiss
	}
}

// Len number of entries currently held
func (c *SnapshotCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
