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

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
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

func TestTokenBucketBasicConsume(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := newTestClock()
	uut, err := GetTokenBucketInstance("ut-basic", 30, 30, time.Minute, clock.Now)
	assert.Nil(err)

	assert.Equal(30, uut.Capacity())
	assert.Equal(30, uut.Available())

	// Case 0: drain the bucket
	for itr := 0; itr < 30; itr++ {
		assert.True(uut.TryConsume(1))
	}
	assert.Equal(0, uut.Available())

	// Case 1: the 31st consume fails with no side effects
	assert.False(uut.TryConsume(1))
	assert.Equal(0, uut.Available())

	// Case 2: a full refill period restores the bucket
	clock.Advance(time.Minute)
	assert.True(uut.TryConsume(1))
	assert.Equal(29, uut.Available())
}

func TestTokenBucketRefillNeverExceedsCapacity(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, err := GetTokenBucketInstance("ut-cap", 10, 10, time.Second, clock.Now)
	assert.Nil(err)

	// Case 0: long idle period does not overfill
	clock.Advance(time.Hour)
	assert.Equal(10, uut.Available())

	// Case 1: partial refill credits proportionally
	assert.True(uut.TryConsume(10))
	clock.Advance(500 * time.Millisecond)
	assert.Equal(5, uut.Available())
	assert.True(uut.TryConsume(5))
	assert.False(uut.TryConsume(1))
}

func TestTokenBucketMultiTokenConsume(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, err := GetTokenBucketInstance("ut-multi", 5, 5, time.Second, clock.Now)
	assert.Nil(err)

	assert.True(uut.TryConsume(3))
	assert.False(uut.TryConsume(3))
	assert.Equal(2, uut.Available())
	assert.True(uut.TryConsume(2))
}

func TestTokenBucketSetCapacity(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, err := GetTokenBucketInstance("ut-setcap", 30, 30, time.Minute, clock.Now)
	assert.Nil(err)

	// Case 0: shrinking clamps available tokens
	uut.SetCapacity(24)
	assert.Equal(24, uut.Capacity())
	assert.Equal(24, uut.Available())

	// Case 1: refills respect the reduced capacity
	clock.Advance(time.Hour)
	assert.Equal(24, uut.Available())

	// Case 2: growing does not mint tokens beyond the refill schedule
	for itr := 0; itr < 24; itr++ {
		assert.True(uut.TryConsume(1))
	}
	uut.SetCapacity(30)
	assert.Equal(0, uut.Available())
	clock.Advance(time.Minute)
	assert.Equal(30, uut.Available())
}

func TestTokenBucketConcurrentConservation(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetTokenBucketInstance("ut-conc", 100, 1, time.Hour, nil)
	assert.Nil(err)

	var granted int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	for itr := 0; itr < 8; itr++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := int64(0)
			for i := 0; i < 100; i++ {
				if uut.TryConsume(1) {
					local++
				}
			}
			mu.Lock()
			granted += local
			mu.Unlock()
		}()
	}
	wg.Wait()

	// 800 attempts against 100 tokens with a negligible refill rate
	assert.EqualValues(100, granted)
	assert.GreaterOrEqual(uut.Available(), 0)
	assert.LessOrEqual(uut.Available(), uut.Capacity())
}
