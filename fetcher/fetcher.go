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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/metrics"
	"github.com/egdcrypto/ffl-livescore/ratelimit"
	"github.com/egdcrypto/ffl-livescore/stats"
)

// FetchOutcome where the returned data came from
type FetchOutcome string

// Fetch outcome values
const (
	// OutcomeLive data came straight from the provider
	OutcomeLive FetchOutcome = "live"
	// OutcomeCachedFresh provider unavailable, data from cache within fresh TTL
	OutcomeCachedFresh FetchOutcome = "cached_fresh"
	// OutcomeCachedStale provider unavailable, data from cache within stale TTL
	OutcomeCachedStale FetchOutcome = "cached_stale"
	// OutcomeEmpty provider unavailable and nothing usable cached
	OutcomeEmpty FetchOutcome = "empty"
)

// WeekStatsResult result of a week stats fetch. Fetch failures never surface
// as errors; they degrade the outcome instead.
type WeekStatsResult struct {
	// Stats the stat lines, nil when Outcome is empty
	Stats []stats.PlayerStat
	// Outcome where the data came from
	Outcome FetchOutcome
	// Delayed true whenever the data did not come straight from the provider
	Delayed bool
}

// GameStatusResult result of a game status fetch
type GameStatusResult struct {
	// Status the game status, zero value when Outcome is empty
	Status stats.GameStatus
	// Outcome where the data came from
	Outcome FetchOutcome
	// Delayed true whenever the data did not come straight from the provider
	Delayed bool
}

// RateLimitedFetcher guards all outbound calls to the stats provider behind a
// token bucket and a backoff policy, falling back to last-known-good cached
// data when the provider cannot be reached.
type RateLimitedFetcher interface {
	// FetchWeekStats fetch stat lines for a week, degrading to cache on failure
	FetchWeekStats(ctxt context.Context, week int, season int) WeekStatsResult
	// FetchGameStatus fetch one game status, degrading to cache on failure
	FetchGameStatus(ctxt context.Context, gameID string) GameStatusResult
	// SourceAvailable whether the most recent provider call succeeded
	SourceAvailable() bool
}

// FetcherParams dependencies and tunables for the fetcher
type FetcherParams struct {
	// Source the external stats provider
	Source stats.Source `validate:"required"`
	// Bucket outbound token bucket
	Bucket ratelimit.TokenBucket `validate:"required"`
	// Policy throttle backoff policy
	Policy ratelimit.BackoffPolicy `validate:"required"`
	// Metrics pipeline metrics collector
	Metrics *metrics.Collector `validate:"required"`
	// FetchTimeout bound on a single provider call
	FetchTimeout time.Duration `validate:"required"`
	// FreshTTL cache fresh tier
	FreshTTL time.Duration `validate:"required"`
	// StaleTTL cache stale-but-usable tier
	StaleTTL time.Duration `validate:"required"`
	// AlertThresholdPercent low-token warning threshold, percent of capacity
	AlertThresholdPercent int
	// Now time source, defaults to time.Now
	Now common.TimeSource
}

// rateLimitedFetcherImpl implements RateLimitedFetcher
type rateLimitedFetcherImpl struct {
	common.Component
	source          stats.Source
	bucket          ratelimit.TokenBucket
	policy          ratelimit.BackoffPolicy
	metrics         *metrics.Collector
	weekCache       *SnapshotCache[[]stats.PlayerStat]
	gameCache       *SnapshotCache[stats.GameStatus]
	fetchTimeout    time.Duration
	alertPercent    int
	sourceAvailable atomic.Bool
}

// GetRateLimitedFetcherInstance create new rate limited fetcher
func GetRateLimitedFetcherInstance(params FetcherParams) (RateLimitedFetcher, error) {
	logTags := log.Fields{
		"module": "fetcher", "component": "rate-limited-fetcher",
	}
	instance := &rateLimitedFetcherImpl{
		Component:    common.Component{LogTags: logTags},
		source:       params.Source,
		bucket:       params.Bucket,
		policy:       params.Policy,
		metrics:      params.Metrics,
		weekCache:    NewSnapshotCache[[]stats.PlayerStat](params.FreshTTL, params.StaleTTL, params.Now),
		gameCache:    NewSnapshotCache[stats.GameStatus](params.FreshTTL, params.StaleTTL, params.Now),
		fetchTimeout: params.FetchTimeout,
		alertPercent: params.AlertThresholdPercent,
	}
	instance.sourceAvailable.Store(true)
	instance.metrics.RegisterTokenGauge(params.Bucket.Available)
	return instance, nil
}

// weekKey cache key for a week of a season
func weekKey(week int, season int) string {
	return fmt.Sprintf("week/%d/%d", season, week)
}

// gameKey cache key for a game status
func gameKey(gameID string) string {
	return fmt.Sprintf("game/%s", gameID)
}

// admitCall run the fail-fast short circuits ahead of a provider call.
// Returns false when the call must be shed; sheds are counted as rejected.
func (f *rateLimitedFetcherImpl) admitCall() bool {
	if !f.policy.CallAllowed() {
		log.WithFields(f.LogTags).Debug("Backing off, serving from cache")
		f.metrics.RecordRejected()
		return false
	}
	if !f.bucket.TryConsume(1) {
		// out of tokens, self-throttle before touching the network
		log.WithFields(f.LogTags).Warn("Token bucket empty, serving from cache")
		f.metrics.RecordRejected()
		return false
	}
	if f.alertPercent > 0 {
		if remaining := f.bucket.Available(); remaining*100 < f.bucket.Capacity()*f.alertPercent {
			log.WithFields(f.LogTags).Warnf(
				"Token bucket running low: %d of %d remaining", remaining, f.bucket.Capacity(),
			)
		}
	}
	return true
}

// recordCallError classify a provider error. Only explicit throttle signals
// feed the backoff policy; transient failures do not.
func (f *rateLimitedFetcherImpl) recordCallError(err error) {
	f.sourceAvailable.Store(false)
	var limitErr *stats.RateLimitError
	if errors.As(err, &limitErr) {
		log.WithError(err).WithFields(f.LogTags).Warn("Provider throttled the call")
		f.policy.OnRateLimited(limitErr.RetryAfter)
		f.metrics.RecordRateLimited(limitErr.Headers)
		return
	}
	log.WithError(err).WithFields(f.LogTags).Warn("Provider call failed")
}

// FetchWeekStats fetch stat lines for a week, degrading to cache on failure
func (f *rateLimitedFetcherImpl) FetchWeekStats(
	ctxt context.Context, week int, season int,
) WeekStatsResult {
	key := weekKey(week, season)
	if f.admitCall() {
		f.metrics.RecordCall()
		callCtxt, cancel := context.WithTimeout(ctxt, f.fetchTimeout)
		statLines, err := f.source.FetchWeekStats(callCtxt, week, season)
		cancel()
		if err == nil {
			f.sourceAvailable.Store(true)
			f.policy.OnSuccess()
			f.weekCache.Put(key, statLines)
			return WeekStatsResult{Stats: statLines, Outcome: OutcomeLive}
		}
		f.recordCallError(err)
	}
	cached, tier := f.weekCache.Get(key)
	switch tier {
	case TierFresh:
		f.metrics.RecordCacheHit(true)
		return WeekStatsResult{Stats: cached, Outcome: OutcomeCachedFresh, Delayed: true}
	case TierStale:
		f.metrics.RecordCacheHit(false)
		return WeekStatsResult{Stats: cached, Outcome: OutcomeCachedStale, Delayed: true}
	default:
		f.metrics.RecordEmptyResult()
		return WeekStatsResult{Outcome: OutcomeEmpty, Delayed: true}
	}
}

// FetchGameStatus fetch one game status, degrading to cache on failure
func (f *rateLimitedFetcherImpl) FetchGameStatus(
	ctxt context.Context, gameID string,
) GameStatusResult {
	key := gameKey(gameID)
	if f.admitCall() {
		f.metrics.RecordCall()
		callCtxt, cancel := context.WithTimeout(ctxt, f.fetchTimeout)
		status, err := f.source.FetchGameStatus(callCtxt, gameID)
		cancel()
		if err == nil {
			f.sourceAvailable.Store(true)
			f.policy.OnSuccess()
			f.gameCache.Put(key, status)
			return GameStatusResult{Status: status, Outcome: OutcomeLive}
		}
		f.recordCallError(err)
	}
	cached, tier := f.gameCache.Get(key)
	switch tier {
	case TierFresh:
		f.metrics.RecordCacheHit(true)
		return GameStatusResult{Status: cached, Outcome: OutcomeCachedFresh, Delayed: true}
	case TierStale:
		f.metrics.RecordCacheHit(false)
		return GameStatusResult{Status: cached, Outcome: OutcomeCachedStale, Delayed: true}
	default:
		f.metrics.RecordEmptyResult()
		return GameStatusResult{Outcome: OutcomeEmpty, Delayed: true}
	}
}

// SourceAvailable whether the most recent provider call succeeded
func (f *rateLimitedFetcherImpl) SourceAvailable() bool {
	return f.sourceAvailable.Load()
}
