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

package hub

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/metrics"
)

// ErrAtCapacity returned by Register once the open connection ceiling is hit
var ErrAtCapacity = fmt.Errorf("hub at connection capacity")

// Session one subscriber connection as seen by the hub. The hub owns the
// session for its lifetime; transport details stay behind this interface.
type Session interface {
	// ID unique session identifier
	ID() string
	// Send enqueue a payload for delivery. Must not block; returns an error
	// when the session can no longer accept messages.
	Send(payload []byte) error
	// Close send a close notice and tear the connection down
	Close(reason string)
	// Pending outbound messages currently buffered
	Pending() int
}

// PublishPort entry point collaborators use to push updates to subscribers
type PublishPort interface {
	// Publish fan a message out to one topic, subject to the topic throttle
	Publish(topic Topic, msg ServerMessage)
	// PublishAll fan a message out to every open connection, bypassing
	// per-topic throttling
	PublishAll(msg ServerMessage)
}

// Hub topic based broadcast hub: connection registry, subscription index,
// per-topic throttle, admission control and idle eviction
type Hub interface {
	PublishPort
	// Register admit a new session. Returns ErrAtCapacity when the open
	// connection ceiling is reached; the caller closes the connection.
	Register(session Session) error
	// Disconnect remove a session from all indices. Always succeeds, even for
	// sessions that were never fully registered.
	Disconnect(sessionID string)
	// Subscribe add a session to a topic; repeat subscriptions are no-ops
	Subscribe(sessionID string, topic Topic)
	// Unsubscribe remove a session from a topic; absent entries are no-ops
	Unsubscribe(sessionID string, topic Topic)
	// Touch record session activity for idle tracking
	Touch(sessionID string)
	// LatestSnapshot the most recent payload published to a topic
	LatestSnapshot(topic Topic) ([]byte, bool)
	// OpenConnections currently registered session count
	OpenConnections() int
	// QueueDepth outbound messages buffered across all sessions
	QueueDepth() int
	// RunIdleSweep evict sessions idle beyond the idle timeout. Normally
	// driven by an interval timer.
	RunIdleSweep() error
}

// HubParams tunables for the broadcast hub
type HubParams struct {
	// MaxConnections open connection ceiling
	MaxConnections int `validate:"required,gte=1"`
	// WarningThreshold connection count triggering a log-only alert
	WarningThreshold int `validate:"required,gte=1"`
	// ThrottleWindow minimum spacing between two messages on one topic
	ThrottleWindow time.Duration `validate:"required"`
	// IdleTimeout inactivity period after which a session is evicted
	IdleTimeout time.Duration `validate:"required"`
	// Metrics pipeline metrics collector
	Metrics *metrics.Collector `validate:"required"`
	// Now time source, defaults to time.Now
	Now common.TimeSource
}

const indexShardCount = 32

// sessionEntry registry record for one session
type sessionEntry struct {
	session      Session
	openedAt     time.Time
	lastActivity time.Time
	topics       map[Topic]bool
}

// sessionShard one slice of the session registry
type sessionShard struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

// topicShard one slice of the topic subscription index. Also carries the
// per-topic throttle state and the latest payload for snapshot requests.
type topicShard struct {
	mu          sync.Mutex
	subscribers map[Topic]map[string]bool
	lastSentAt  map[Topic]time.Time
	latest      map[Topic][]byte
}

// hubImpl implements Hub
type hubImpl struct {
	common.Component
	params        HubParams
	sessionShards [indexShardCount]*sessionShard
	topicShards   [indexShardCount]*topicShard
	openCount     atomic.Int64
	now           common.TimeSource
}

// GetHubInstance create new broadcast hub
func GetHubInstance(params HubParams) (Hub, error) {
	logTags := log.Fields{
		"module": "hub", "component": "broadcast-hub",
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	instance := &hubImpl{
		Component: common.Component{LogTags: logTags},
		params:    params,
		now:       params.Now,
	}
	for itr := 0; itr < indexShardCount; itr++ {
		instance.sessionShards[itr] = &sessionShard{entries: make(map[string]*sessionEntry)}
		instance.topicShards[itr] = &topicShard{
			subscribers: make(map[Topic]map[string]bool),
			lastSentAt:  make(map[Topic]time.Time),
			latest:      make(map[Topic][]byte),
		}
	}
	params.Metrics.RegisterConnectionGauge(instance.OpenConnections)
	params.Metrics.RegisterQueueDepthGauge(instance.QueueDepth)
	return instance, nil
}

// shardIndex map a key onto a shard
func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % indexShardCount)
}

func (h *hubImpl) sessionShardFor(sessionID string) *sessionShard {
	return h.sessionShards[shardIndex(sessionID)]
}

func (h *hubImpl) topicShardFor(topic Topic) *topicShard {
	return h.topicShards[shardIndex(string(topic))]
}

// ----------------------------------------------------------------------------------------
// Connection lifecycle

// Register admit a new session
func (h *hubImpl) Register(session Session) error {
	count := h.openCount.Add(1)
	if count > int64(h.params.MaxConnections) {
		h.openCount.Add(-1)
		h.params.Metrics.RecordRejectedConnect()
		log.WithFields(h.LogTags).Errorf(
			"Rejecting connection %s, at capacity %d", session.ID(), h.params.MaxConnections,
		)
		return ErrAtCapacity
	}
	if count >= int64(h.params.WarningThreshold) {
		log.WithFields(h.LogTags).Warnf(
			"Connection count %d approaching ceiling %d", count, h.params.MaxConnections,
		)
	}
	current := h.now()
	shard := h.sessionShardFor(session.ID())
	shard.mu.Lock()
	shard.entries[session.ID()] = &sessionEntry{
		session:      session,
		openedAt:     current,
		lastActivity: current,
		topics:       make(map[Topic]bool),
	}
	shard.mu.Unlock()
	// every session hears the global topic; operational pushes like data
	// delay warnings go there and still honor the topic throttle
	h.Subscribe(session.ID(), TopicAll)
	log.WithFields(h.LogTags).Debugf("Registered session %s (%d open)", session.ID(), count)
	return nil
}

// Disconnect remove a session from all indices
func (h *hubImpl) Disconnect(sessionID string) {
	shard := h.sessionShardFor(sessionID)
	shard.mu.Lock()
	entry, ok := shard.entries[sessionID]
	if ok {
		delete(shard.entries, sessionID)
	}
	shard.mu.Unlock()
	if !ok {
		// never registered, nothing to clean up
		return
	}
	h.openCount.Add(-1)
	for topic := range entry.topics {
		h.removeSubscriber(sessionID, topic)
	}
	log.WithFields(h.LogTags).Debugf("Disconnected session %s", sessionID)
}

// Touch record session activity for idle tracking
func (h *hubImpl) Touch(sessionID string) {
	shard := h.sessionShardFor(sessionID)
	shard.mu.Lock()
	if entry, ok := shard.entries[sessionID]; ok {
		entry.lastActivity = h.now()
	}
	shard.mu.Unlock()
}

// ----------------------------------------------------------------------------------------
// Subscription index

// Subscribe add a session to a topic
func (h *hubImpl) Subscribe(sessionID string, topic Topic) {
	shard := h.sessionShardFor(sessionID)
	shard.mu.Lock()
	entry, ok := shard.entries[sessionID]
	if ok {
		entry.topics[topic] = true
	}
	shard.mu.Unlock()
	if !ok {
		// unknown sessions never enter the topic index
		return
	}
	ts := h.topicShardFor(topic)
	ts.mu.Lock()
	members, ok := ts.subscribers[topic]
	if !ok {
		members = make(map[string]bool)
		ts.subscribers[topic] = members
	}
	members[sessionID] = true
	ts.mu.Unlock()
}

// Unsubscribe remove a session from a topic
func (h *hubImpl) Unsubscribe(sessionID string, topic Topic) {
	shard := h.sessionShardFor(sessionID)
	shard.mu.Lock()
	if entry, ok := shard.entries[sessionID]; ok {
		delete(entry.topics, topic)
	}
	shard.mu.Unlock()
	h.removeSubscriber(sessionID, topic)
}

// removeSubscriber drop one session from a topic index entry
func (h *hubImpl) removeSubscriber(sessionID string, topic Topic) {
	ts := h.topicShardFor(topic)
	ts.mu.Lock()
	if members, ok := ts.subscribers[topic]; ok {
		delete(members, sessionID)
	}
	ts.mu.Unlock()
}

// ----------------------------------------------------------------------------------------
// Fan-out

// marshalMessage serialize one server message, stamping the send time
func (h *hubImpl) marshalMessage(msg ServerMessage) ([]byte, error) {
	if msg.SentAt.IsZero() {
		msg.SentAt = h.now()
	}
	return json.Marshal(&msg)
}

// deliver enqueue a payload on one session. Returns the session when the
// enqueue failed so the caller can shed it after releasing its locks.
func (h *hubImpl) deliver(sessionID string, payload []byte) Session {
	shard := h.sessionShardFor(sessionID)
	shard.mu.RLock()
	entry, ok := shard.entries[sessionID]
	shard.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := entry.session.Send(payload); err != nil {
		h.params.Metrics.RecordDeliveryFailure()
		log.WithError(err).WithFields(h.LogTags).Warnf(
			"Failed delivery to session %s", sessionID,
		)
		return entry.session
	}
	return nil
}

// shedStalled drop sessions whose send buffer could not accept a message.
// A consumer that cannot keep up must not hold buffered state open.
func (h *hubImpl) shedStalled(stalled []Session) {
	for _, session := range stalled {
		log.WithFields(h.LogTags).Warnf("Dropping slow consumer %s", session.ID())
		session.Close("slow consumer")
		h.Disconnect(session.ID())
	}
}

// Publish fan a message out to one topic
func (h *hubImpl) Publish(topic Topic, msg ServerMessage) {
	msg.Topic = topic
	payload, err := h.marshalMessage(msg)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf("Failed to marshal %s push", msg.Type)
		return
	}
	ts := h.topicShardFor(topic)
	ts.mu.Lock()
	// retain for snapshot requests even when nobody is listening right now
	ts.latest[topic] = payload
	members := ts.subscribers[topic]
	if len(members) == 0 {
		ts.mu.Unlock()
		return
	}
	current := h.now()
	if last, ok := ts.lastSentAt[topic]; ok && current.Sub(last) < h.params.ThrottleWindow {
		ts.mu.Unlock()
		h.params.Metrics.RecordThrottledDrop()
		log.WithFields(h.LogTags).Debugf("Throttled %s push on %s", msg.Type, topic)
		return
	}
	ts.lastSentAt[topic] = current
	targets := make([]string, 0, len(members))
	for sessionID := range members {
		targets = append(targets, sessionID)
	}
	// deliver while holding the topic lock so two racing publishes on the
	// same topic cannot interleave out of order
	var stalled []Session
	for _, sessionID := range targets {
		if failed := h.deliver(sessionID, payload); failed != nil {
			stalled = append(stalled, failed)
		}
	}
	ts.mu.Unlock()
	h.shedStalled(stalled)
	h.params.Metrics.RecordPublished()
}

// PublishAll fan a message out to every open connection
func (h *hubImpl) PublishAll(msg ServerMessage) {
	payload, err := h.marshalMessage(msg)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf("Failed to marshal %s push", msg.Type)
		return
	}
	var stalled []Session
	for _, shard := range h.sessionShards {
		shard.mu.RLock()
		entries := make([]Session, 0, len(shard.entries))
		for _, entry := range shard.entries {
			entries = append(entries, entry.session)
		}
		shard.mu.RUnlock()
		for _, session := range entries {
			if err := session.Send(payload); err != nil {
				h.params.Metrics.RecordDeliveryFailure()
				log.WithError(err).WithFields(h.LogTags).Warnf(
					"Failed delivery to session %s", session.ID(),
				)
				stalled = append(stalled, session)
			}
		}
	}
	h.shedStalled(stalled)
	h.params.Metrics.RecordPublished()
}

// LatestSnapshot the most recent payload published to a topic
func (h *hubImpl) LatestSnapshot(topic Topic) ([]byte, bool) {
	ts := h.topicShardFor(topic)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	payload, ok := ts.latest[topic]
	return payload, ok
}

// ----------------------------------------------------------------------------------------
// Accounting

// OpenConnections currently registered session count
func (h *hubImpl) OpenConnections() int {
	return int(h.openCount.Load())
}

// QueueDepth outbound messages buffered across all sessions
func (h *hubImpl) QueueDepth() int {
	total := 0
	for _, shard := range h.sessionShards {
		shard.mu.RLock()
		for _, entry := range shard.entries {
			total += entry.session.Pending()
		}
		shard.mu.RUnlock()
	}
	return total
}

// ----------------------------------------------------------------------------------------
// Idle eviction

// RunIdleSweep evict sessions idle beyond the idle timeout
func (h *hubImpl) RunIdleSweep() error {
	current := h.now()
	expired := make([]Session, 0)
	for _, shard := range h.sessionShards {
		shard.mu.RLock()
		for _, entry := range shard.entries {
			if current.Sub(entry.lastActivity) > h.params.IdleTimeout {
				expired = append(expired, entry.session)
			}
		}
		shard.mu.RUnlock()
	}
	for _, session := range expired {
		log.WithFields(h.LogTags).Infof("Evicting idle session %s", session.ID())
		session.Close("idle timeout")
		h.Disconnect(session.ID())
		h.params.Metrics.RecordIdleEviction()
	}
	// drop empty topic index entries so abandoned topics do not accumulate
	for _, ts := range h.topicShards {
		ts.mu.Lock()
		for topic, members := range ts.subscribers {
			if len(members) == 0 {
				delete(ts.subscribers, topic)
				delete(ts.lastSentAt, topic)
			}
		}
		ts.mu.Unlock()
	}
	if len(expired) > 0 {
		log.WithFields(h.LogTags).Infof("Idle sweep evicted %d session(s)", len(expired))
	}
	return nil
}
