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
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func defineTestPolicy(
	t *testing.T, clock *testClock, params BackoffParams,
) (BackoffPolicy, TokenBucket) {
	assert := assert.New(t)
	bucket, err := GetTokenBucketInstance("ut-bucket", 30, 30, time.Minute, clock.Now)
	assert.Nil(err)
	policy, err := GetBackoffPolicyInstance("ut-policy", params, bucket, clock.Now)
	assert.Nil(err)
	return policy, bucket
}

func TestBackoffGrowthAndReset(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	clock := newTestClock()
	uut, _ := defineTestPolicy(t, clock, BackoffParams{
		Initial:                     time.Second,
		Max:                         8 * time.Second,
		Multiplier:                  2.0,
		PermanentReductionThreshold: 100,
		PermanentReductionPercent:   80,
	})

	assert.True(uut.CallAllowed())

	// Case 0: first violation blocks for the initial backoff
	uut.OnRateLimited(0)
	assert.False(uut.CallAllowed())
	clock.Advance(time.Second)
	assert.True(uut.CallAllowed())

	// Case 1: backoff is non-decreasing and bounded by the ceiling
	previous := time.Duration(0)
	for itr := 0; itr < 6; itr++ {
		status := uut.Status()
		assert.GreaterOrEqual(status.CurrentBackoff, previous)
		assert.LessOrEqual(status.CurrentBackoff, 8*time.Second)
		previous = status.CurrentBackoff
		uut.OnRateLimited(0)
	}
	assert.Equal(8*time.Second, uut.Status().CurrentBackoff)

	// Case 2: success resets the duration but not the violation counter
	violationsBefore := uut.Status().ConsecutiveViolations
	clock.Advance(time.Minute)
	uut.OnSuccess()
	status := uut.Status()
	assert.Equal(time.Second, status.CurrentBackoff)
	assert.Equal(violationsBefore, status.ConsecutiveViolations)
	assert.True(uut.CallAllowed())
}

func TestBackoffRetryAfterHint(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, _ := defineTestPolicy(t, clock, BackoffParams{
		Initial:                     time.Second,
		Max:                         time.Minute,
		Multiplier:                  2.0,
		PermanentReductionThreshold: 100,
		PermanentReductionPercent:   80,
	})

	// Provider hint longer than the computed backoff wins
	uut.OnRateLimited(10 * time.Second)
	clock.Advance(5 * time.Second)
	assert.False(uut.CallAllowed())
	clock.Advance(5 * time.Second)
	assert.True(uut.CallAllowed())
}

func TestBackoffPermanentReduction(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, bucket := defineTestPolicy(t, clock, BackoffParams{
		Initial:                     time.Second,
		Max:                         time.Minute,
		Multiplier:                  2.0,
		PermanentReductionThreshold: 3,
		PermanentReductionPercent:   80,
	})

	// Case 0: three consecutive violations reduce 30 => 24 exactly once
	uut.OnRateLimited(0)
	uut.OnRateLimited(0)
	assert.Equal(30, bucket.Capacity())
	uut.OnRateLimited(0)
	assert.Equal(24, bucket.Capacity())
	status := uut.Status()
	assert.True(status.CapacityReduced)
	assert.Equal(0, status.ConsecutiveViolations)

	// Case 1: the next violation does not reduce again
	uut.OnRateLimited(0)
	assert.Equal(24, bucket.Capacity())

	// Case 2: a second full crossing reduces again (24 => 19)
	uut.OnRateLimited(0)
	uut.OnRateLimited(0)
	assert.Equal(19, bucket.Capacity())
}

func TestBackoffCapacityRestore(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, bucket := defineTestPolicy(t, clock, BackoffParams{
		Initial:                     time.Second,
		Max:                         time.Minute,
		Multiplier:                  2.0,
		PermanentReductionThreshold: 2,
		PermanentReductionPercent:   50,
		CapacityRestoreAfter:        time.Hour,
	})

	uut.OnRateLimited(0)
	uut.OnRateLimited(0)
	assert.Equal(15, bucket.Capacity())

	// Case 0: clean success inside the restore window changes nothing
	clock.Advance(30 * time.Minute)
	uut.OnSuccess()
	assert.Equal(15, bucket.Capacity())

	// Case 1: clean success past the window restores the original capacity
	clock.Advance(31 * time.Minute)
	uut.OnSuccess()
	assert.Equal(30, bucket.Capacity())
	assert.False(uut.Status().CapacityReduced)
}

func TestBackoffRestoreDisabledByDefault(t *testing.T) {
	assert := assert.New(t)

	clock := newTestClock()
	uut, bucket := defineTestPolicy(t, clock, BackoffParams{
		Initial:                     time.Second,
		Max:                         time.Minute,
		Multiplier:                  2.0,
		PermanentReductionThreshold: 2,
		PermanentReductionPercent:   50,
	})

	uut.OnRateLimited(0)
	uut.OnRateLimited(0)
	assert.Equal(15, bucket.Capacity())

	clock.Advance(240 * time.Hour)
	uut.OnSuccess()
	assert.Equal(15, bucket.Capacity())
}
