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
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
)

// TokenBucket rate limiting primitive holding a capped, periodically refilled
// count of permitted operations. Refill is computed lazily at consume time from
// elapsed wall-clock time, so an idle bucket costs nothing.
type TokenBucket interface {
	// TryConsume take tokens from the bucket. Returns false without side
	// effects if not enough tokens are available.
	TryConsume(tokens int) bool
	// SetCapacity change the bucket capacity, clamping available tokens to it
	SetCapacity(newCapacity int)
	// Available current whole tokens in the bucket
	Available() int
	// Capacity current effective bucket capacity
	Capacity() int
}

// tokenBucketImpl implements TokenBucket
type tokenBucketImpl struct {
	common.Component
	mu         sync.Mutex
	capacity   int
	available  float64
	refillRate float64
	lastRefill time.Time
	now        common.TimeSource
}

// GetTokenBucketInstance create new token bucket. The bucket starts full.
// refillTokens tokens are restored evenly over each refillPeriod.
func GetTokenBucketInstance(
	name string,
	capacity int,
	refillTokens int,
	refillPeriod time.Duration,
	now common.TimeSource,
) (TokenBucket, error) {
	logTags := log.Fields{
		"module": "ratelimit", "component": "token-bucket", "instance": name,
	}
	if capacity < 1 {
		capacity = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &tokenBucketImpl{
		Component:  common.Component{LogTags: logTags},
		capacity:   capacity,
		available:  float64(capacity),
		refillRate: float64(refillTokens) / refillPeriod.Seconds(),
		lastRefill: now(),
		now:        now,
	}, nil
}

// refill credit tokens for elapsed time. Caller must hold the lock.
func (b *tokenBucketImpl) refill() {
	current := b.now()
	elapsed := current.Sub(b.lastRefill).Seconds()
	b.lastRefill = current
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * b.refillRate
	if b.available > float64(b.capacity) {
		b.available = float64(b.capacity)
	}
}

// TryConsume take tokens from the bucket
func (b *tokenBucketImpl) TryConsume(tokens int) bool {
	if tokens < 1 {
		tokens = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.available < float64(tokens) {
		return false
	}
	b.available -= float64(tokens)
	return true
}

// SetCapacity change the bucket capacity
func (b *tokenBucketImpl) SetCapacity(newCapacity int) {
	if newCapacity < 1 {
		newCapacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	log.WithFields(b.LogTags).Warnf(
		"Changing bucket capacity %d => %d", b.capacity, newCapacity,
	)
	b.capacity = newCapacity
	if b.available > float64(newCapacity) {
		b.available = float64(newCapacity)
	}
}

// Available current whole tokens in the bucket
func (b *tokenBucketImpl) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return int(b.available)
}

// Capacity current effective bucket capacity
func (b *tokenBucketImpl) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}
