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

// BackoffParams tunables for BackoffPolicy
type BackoffParams struct {
	// Initial starting backoff duration
	Initial time.Duration `validate:"required"`
	// Max backoff duration ceiling
	Max time.Duration `validate:"required"`
	// Multiplier geometric growth factor applied per violation
	Multiplier float64 `validate:"required,gt=1"`
	// PermanentReductionThreshold consecutive violations which trigger a
	// permanent capacity reduction on the associated bucket
	PermanentReductionThreshold int `validate:"required,gte=1"`
	// PermanentReductionPercent percentage of capacity retained after a
	// permanent reduction fires
	PermanentReductionPercent int `validate:"required,gte=1,lte=100"`
	// CapacityRestoreAfter length of clean operation after which the original
	// capacity is restored. Zero means reductions are never undone.
	CapacityRestoreAfter time.Duration
}

// BackoffStatus read-only view of the backoff state machine
type BackoffStatus struct {
	// BackingOff whether calls are currently disallowed
	BackingOff bool `json:"backing_off"`
	// ConsecutiveViolations rate limit violations since the last reduction
	ConsecutiveViolations int `json:"consecutive_violations"`
	// CurrentBackoff the wait applied on the next violation
	CurrentBackoff time.Duration `json:"current_backoff"`
	// RateLimitedUntil when calls become allowed again
	RateLimitedUntil time.Time `json:"rate_limited_until"`
	// CapacityReduced whether a permanent reduction has fired
	CapacityReduced bool `json:"capacity_reduced"`
}

// BackoffPolicy exponential backoff state machine driven by provider rate
// limit signals. Repeated violations permanently reduce the capacity of the
// associated token bucket, modeling provider-side down-tiering.
type BackoffPolicy interface {
	// CallAllowed whether an outbound call is permitted right now
	CallAllowed() bool
	// OnRateLimited record a provider throttle signal. retryAfter of zero
	// means the provider gave no hint.
	OnRateLimited(retryAfter time.Duration)
	// OnSuccess record a clean provider call, resetting the backoff duration
	OnSuccess()
	// Status read the current state
	Status() BackoffStatus
}

// backoffPolicyImpl implements BackoffPolicy
type backoffPolicyImpl struct {
	common.Component
	mu               sync.Mutex
	params           BackoffParams
	bucket           TokenBucket
	originalCapacity int
	violations       int
	currentBackoff   time.Duration
	rateLimitedUntil time.Time
	lastViolationAt  time.Time
	capacityReduced  bool
	now              common.TimeSource
}

// GetBackoffPolicyInstance create new backoff policy tied to a token bucket
func GetBackoffPolicyInstance(
	name string, params BackoffParams, bucket TokenBucket, now common.TimeSource,
) (BackoffPolicy, error) {
	logTags := log.Fields{
		"module": "ratelimit", "component": "backoff-policy", "instance": name,
	}
	if now == nil {
		now = time.Now
	}
	return &backoffPolicyImpl{
		Component:        common.Component{LogTags: logTags},
		params:           params,
		bucket:           bucket,
		originalCapacity: bucket.Capacity(),
		violations:       0,
		currentBackoff:   params.Initial,
		now:              now,
	}, nil
}

// CallAllowed whether an outbound call is permitted right now
func (p *backoffPolicyImpl) CallAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.now().Before(p.rateLimitedUntil)
}

// OnRateLimited record a provider throttle signal
func (p *backoffPolicyImpl) OnRateLimited(retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.now()
	wait := p.currentBackoff
	if retryAfter > wait {
		wait = retryAfter
	}
	p.rateLimitedUntil = current.Add(wait)
	p.lastViolationAt = current
	p.violations++
	log.WithFields(p.LogTags).Warnf(
		"Provider rate limited call %d time(s) in a row, holding off until %s",
		p.violations, p.rateLimitedUntil.Format(time.RFC3339),
	)
	grown := time.Duration(float64(p.currentBackoff) * p.params.Multiplier)
	if grown > p.params.Max {
		grown = p.params.Max
	}
	p.currentBackoff = grown
	if p.violations >= p.params.PermanentReductionThreshold {
		reduced := p.bucket.Capacity() * p.params.PermanentReductionPercent / 100
		log.WithFields(p.LogTags).Errorf(
			"Sustained throttling, permanently reducing bucket capacity to %d", reduced,
		)
		p.bucket.SetCapacity(reduced)
		p.capacityReduced = true
		// the counter only resets when a reduction fires
		p.violations = 0
	}
}

// OnSuccess record a clean provider call
func (p *backoffPolicyImpl) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentBackoff = p.params.Initial
	p.rateLimitedUntil = time.Time{}
	if p.capacityReduced && p.params.CapacityRestoreAfter > 0 &&
		p.now().Sub(p.lastViolationAt) >= p.params.CapacityRestoreAfter {
		log.WithFields(p.LogTags).Warnf(
			"Clean for %s, restoring original bucket capacity %d",
			p.params.CapacityRestoreAfter, p.originalCapacity,
		)
		p.bucket.SetCapacity(p.originalCapacity)
		p.capacityReduced = false
	}
}

// Status read the current state
func (p *backoffPolicyImpl) Status() BackoffStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BackoffStatus{
		BackingOff:            p.now().Before(p.rateLimitedUntil),
		ConsecutiveViolations: p.violations,
		CurrentBackoff:        p.currentBackoff,
		RateLimitedUntil:      p.rateLimitedUntil,
		CapacityReduced:       p.capacityReduced,
	}
}
