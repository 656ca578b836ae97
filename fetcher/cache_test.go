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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testClock controllable time source for unit tests
type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func TestSnapshotCacheTiers(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut := NewSnapshotCache[string](30*time.Second, 300*time.Second, clock.Now)

	// Case 0: empty cache misses
	_, tier := uut.Get("week/2026/1")
	assert.Equal(TierMiss, tier)

	// Case 1: a new entry is fresh
	uut.Put("week/2026/1", "snapshot-a")
	data, tier := uut.Get("week/2026/1")
	assert.Equal(TierFresh, tier)
	assert.Equal("snapshot-a", data)

	// Case 2: past the fresh TTL the entry is stale but usable
	clock.Advance(31 * time.Second)
	data, tier = uut.Get("week/2026/1")
	assert.Equal(TierStale, tier)
	assert.Equal("snapshot-a", data)

	// Case 3: past the stale TTL the entry is gone
	clock.Advance(300 * time.Second)
	_, tier = uut.Get("week/2026/1")
	assert.Equal(TierMiss, tier)
	assert.Equal(0, uut.Len())

	// Case 4: re-put restores freshness
	uut.Put("week/2026/1", "snapshot-b")
	data, tier = uut.Get("week/2026/1")
	assert.Equal(TierFresh, tier)
	assert.Equal("snapshot-b", data)
}

func TestSnapshotCacheIndependentKeys(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut := NewSnapshotCache[int](time.Second, 10*time.Second, clock.Now)

	uut.Put("game/a", 1)
	clock.Advance(5 * time.Second)
	uut.Put("game/b", 2)

	_, tier := uut.Get("game/a")
	assert.Equal(TierStale, tier)
	_, tier = uut.Get("game/b")
	assert.Equal(TierFresh, tier)
	assert.Equal(2, uut.Len())
}
