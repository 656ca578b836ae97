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

// Package metrics aggregates observational counters for the live scoring
// pipeline. Values here never drive control flow.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Snapshot point-in-time view of all pipeline metrics
type Snapshot struct {
	// TotalCalls provider calls attempted, success or failure
	TotalCalls int64 `json:"total_calls"`
	// RateLimitedCalls provider calls answered with a throttle signal
	RateLimitedCalls int64 `json:"rate_limited_calls"`
	// RejectedCalls calls shed before the network (no tokens or backing off)
	RejectedCalls int64 `json:"rejected_calls"`
	// CacheHitsFresh fallbacks served from cache within the fresh TTL
	CacheHitsFresh int64 `json:"cache_hits_fresh"`
	// CacheHitsStale fallbacks served from cache within the stale TTL
	CacheHitsStale int64 `json:"cache_hits_stale"`
	// EmptyResults fallbacks with no usable cache entry
	EmptyResults int64 `json:"empty_results"`
	// PublishedMessages broadcasts fanned out to at least one subscriber
	PublishedMessages int64 `json:"published_messages"`
	// ThrottledDrops broadcasts dropped inside a topic throttle window
	ThrottledDrops int64 `json:"throttled_drops"`
	// DeliveryFailures individual subscriber sends that failed
	DeliveryFailures int64 `json:"delivery_failures"`
	// RejectedConnects connection attempts refused at capacity
	RejectedConnects int64 `json:"rejected_connects"`
	// IdleEvictions connections closed by the idle sweep
	IdleEvictions int64 `json:"idle_evictions"`
	// AvailableTokens current whole tokens in the outbound bucket
	AvailableTokens int `json:"available_tokens"`
	// OpenConnections currently registered subscriber connections
	OpenConnections int `json:"open_connections"`
	// QueueDepth outbound messages buffered across all connections
	QueueDepth int `json:"queue_depth"`
	// LastRateLimitHeaders raw headers from the most recent throttle response
	LastRateLimitHeaders map[string]string `json:"last_rate_limit_headers,omitempty"`
}

// Gauge callback returning a live gauge value
type Gauge func() int

// Collector aggregates counters from the fetch and broadcast layers
type Collector struct {
	totalCalls       atomic.Int64
	rateLimitedCalls atomic.Int64
	rejectedCalls    atomic.Int64
	cacheHitsFresh   atomic.Int64
	cacheHitsStale   atomic.Int64
	emptyResults     atomic.Int64
	published        atomic.Int64
	throttledDrops   atomic.Int64
	deliveryFailures atomic.Int64
	rejectedConnects atomic.Int64
	idleEvictions    atomic.Int64

	mu               sync.RWMutex
	lastLimitHeaders map[string]string
	tokenGauge       Gauge
	connectionGauge  Gauge
	queueDepthGauge  Gauge
}

// NewCollector create new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// RecordCall count one provider call attempt
func (c *Collector) RecordCall() { c.totalCalls.Add(1) }

// RecordRateLimited count one throttled provider call, retaining its headers
func (c *Collector) RecordRateLimited(headers map[string]string) {
	c.rateLimitedCalls.Add(1)
	if headers != nil {
		c.mu.Lock()
		c.lastLimitHeaders = headers
		c.mu.Unlock()
	}
}

// RecordRejected count one call shed before reaching the network
func (c *Collector) RecordRejected() { c.rejectedCalls.Add(1) }

// RecordCacheHit count one cache fallback
func (c *Collector) RecordCacheHit(fresh bool) {
	if fresh {
		c.cacheHitsFresh.Add(1)
	} else {
		c.cacheHitsStale.Add(1)
	}
}

// RecordEmptyResult count one fallback with nothing usable cached
func (c *Collector) RecordEmptyResult() { c.emptyResults.Add(1) }

// RecordPublished count one broadcast fan-out
func (c *Collector) RecordPublished() { c.published.Add(1) }

// RecordThrottledDrop count one broadcast dropped by a topic throttle
func (c *Collector) RecordThrottledDrop() { c.throttledDrops.Add(1) }

// RecordDeliveryFailure count one failed subscriber send
func (c *Collector) RecordDeliveryFailure() { c.deliveryFailures.Add(1) }

// RecordRejectedConnect count one connection refused at capacity
func (c *Collector) RecordRejectedConnect() { c.rejectedConnects.Add(1) }

// RecordIdleEviction count one idle sweep eviction
func (c *Collector) RecordIdleEviction() { c.idleEvictions.Add(1) }

// RegisterTokenGauge install the live token level gauge
func (c *Collector) RegisterTokenGauge(g Gauge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenGauge = g
}

// RegisterConnectionGauge install the open connection count gauge
func (c *Collector) RegisterConnectionGauge(g Gauge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionGauge = g
}

// RegisterQueueDepthGauge install the outbound queue depth gauge
func (c *Collector) RegisterQueueDepthGauge(g Gauge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepthGauge = g
}

// ReadSnapshot read a point-in-time view of all metrics
func (c *Collector) ReadSnapshot() Snapshot {
	c.mu.RLock()
	tokenGauge := c.tokenGauge
	connectionGauge := c.connectionGauge
	queueDepthGauge := c.queueDepthGauge
	headers := make(map[string]string, len(c.lastLimitHeaders))
	for k, v := range c.lastLimitHeaders {
		headers[k] = v
	}
	c.mu.RUnlock()

	result := Snapshot{
		TotalCalls:        c.totalCalls.Load(),
		RateLimitedCalls:  c.rateLimitedCalls.Load(),
		RejectedCalls:     c.rejectedCalls.Load(),
		CacheHitsFresh:    c.cacheHitsFresh.Load(),
		CacheHitsStale:    c.cacheHitsStale.Load(),
		EmptyResults:      c.emptyResults.Load(),
		PublishedMessages: c.published.Load(),
		ThrottledDrops:    c.throttledDrops.Load(),
		DeliveryFailures:  c.deliveryFailures.Load(),
		RejectedConnects:  c.rejectedConnects.Load(),
		IdleEvictions:     c.idleEvictions.Load(),
	}
	if len(headers) > 0 {
		result.LastRateLimitHeaders = headers
	}
	if tokenGauge != nil {
		result.AvailableTokens = tokenGauge()
	}
	if connectionGauge != nil {
		result.OpenConnections = connectionGauge()
	}
	if queueDepthGauge != nil {
		result.QueueDepth = queueDepthGauge()
	}
	return result
}
