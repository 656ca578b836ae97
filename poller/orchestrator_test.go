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

package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/egdcrypto/ffl-livescore/fetcher"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/egdcrypto/ffl-livescore/ratelimit"
	"github.com/egdcrypto/ffl-livescore/stats"
	"github.com/stretchr/testify/assert"
)

// fakeFetcher scriptable RateLimitedFetcher
type fakeFetcher struct {
	mu          sync.Mutex
	weekResults []fetcher.WeekStatsResult
	weekCalls   int
	gameResults map[string]fetcher.GameStatusResult
	gameCalls   []string
	blockOn     chan struct{}
	available   bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		gameResults: make(map[string]fetcher.GameStatusResult),
		available:   true,
	}
}

func (f *fakeFetcher) queueWeekResult(result fetcher.WeekStatsResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekResults = append(f.weekResults, result)
}

func (f *fakeFetcher) FetchWeekStats(
	ctxt context.Context, week int, season int,
) fetcher.WeekStatsResult {
	f.mu.Lock()
	f.weekCalls++
	block := f.blockOn
	var result fetcher.WeekStatsResult
	if len(f.weekResults) > 0 {
		result = f.weekResults[0]
		f.weekResults = f.weekResults[1:]
	} else {
		result = fetcher.WeekStatsResult{Outcome: fetcher.OutcomeEmpty, Delayed: true}
	}
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return result
}

func (f *fakeFetcher) FetchGameStatus(
	ctxt context.Context, gameID string,
) fetcher.GameStatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameCalls = append(f.gameCalls, gameID)
	if result, ok := f.gameResults[gameID]; ok {
		return result
	}
	return fetcher.GameStatusResult{Outcome: fetcher.OutcomeEmpty, Delayed: true}
}

func (f *fakeFetcher) SourceAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weekCalls
}

// fakeGroups static GroupLister
type fakeGroups struct {
	groups  []string
	listErr error
	calls   int
}

func (g *fakeGroups) ActiveGroups(ctxt context.Context) ([]string, error) {
	g.calls++
	return g.groups, g.listErr
}

// fakeComputer records recompute calls, failing scripted groups
type fakeComputer struct {
	mu      sync.Mutex
	scored  []string
	failing map[string]bool
}

func newFakeComputer() *fakeComputer {
	return &fakeComputer{failing: make(map[string]bool)}
}

func (c *fakeComputer) Recompute(
	ctxt context.Context, group string, statLines []stats.PlayerStat,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing[group] {
		return fmt.Errorf("scoring blew up for %s", group)
	}
	c.scored = append(c.scored, group)
	return nil
}

// fakePublisher records published messages
type fakePublisher struct {
	mu        sync.Mutex
	published []hub.ServerMessage
	broadcast []hub.ServerMessage
}

func (p *fakePublisher) Publish(topic hub.Topic, msg hub.ServerMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg.Topic = topic
	p.published = append(p.published, msg)
}

func (p *fakePublisher) PublishAll(msg hub.ServerMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, msg)
}

// fakePolicy static BackoffPolicy
type fakePolicy struct {
	backingOff bool
}

func (p *fakePolicy) CallAllowed() bool                      { return !p.backingOff }
func (p *fakePolicy) OnRateLimited(retryAfter time.Duration) {}
func (p *fakePolicy) OnSuccess()                             {}
func (p *fakePolicy) Status() ratelimit.BackoffStatus {
	return ratelimit.BackoffStatus{BackingOff: p.backingOff}
}

func statLine(playerID, gameID string, state stats.GameState) stats.PlayerStat {
	return stats.PlayerStat{
		PlayerID: playerID,
		GameID:   gameID,
		Game:     stats.GameStatus{GameID: gameID, State: state},
		Numbers:  map[string]float64{"yards": 42},
	}
}

type testHarness struct {
	uut       Orchestrator
	fetcher   *fakeFetcher
	groups    *fakeGroups
	computer  *fakeComputer
	publisher *fakePublisher
	policy    *fakePolicy
}

func defineTestOrchestrator(t *testing.T) *testHarness {
	h := &testHarness{
		fetcher:   newFakeFetcher(),
		groups:    &fakeGroups{groups: []string{"league-1", "league-2"}},
		computer:  newFakeComputer(),
		publisher: &fakePublisher{},
		policy:    &fakePolicy{},
	}
	uut, err := GetOrchestratorInstance(OrchestratorParams{
		Fetcher:               h.fetcher,
		Groups:                h.groups,
		Computer:              h.computer,
		Publisher:             h.publisher,
		Policy:                h.policy,
		Enabled:               false,
		Interval:              time.Second * 15,
		BackpressureThreshold: time.Second * 10,
		Season:                2026,
		WeekOf:                func(time.Time) int { return 3 },
		RootContext:           context.Background(),
		WG:                    &sync.WaitGroup{},
	})
	assert.Nil(t, err)
	h.uut = uut
	return h
}

func TestOrchestratorScoringCycle(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	// Case 1: live stats with games in progress score every active group
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats: []stats.PlayerStat{
			statLine("p1", "g1", stats.GameInProgress),
			statLine("p2", "g1", stats.GameInProgress),
		},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Equal([]string{"league-1", "league-2"}, h.computer.scored)
	assert.Empty(h.publisher.published)

	// Case 2: duration is recorded
	status := h.uut.Status()
	assert.False(status.LastCycleAt.IsZero())
	assert.False(status.PollInProgress)
}

func TestOrchestratorNoGamesShortCircuit(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	// Case 1: scheduled-only stats skip scoring entirely
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats:   []stats.PlayerStat{statLine("p1", "g1", stats.GameScheduled)},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Empty(h.computer.scored)
	assert.Zero(h.groups.calls)

	// Case 2: duration is still recorded on the short-circuit path
	assert.False(h.uut.Status().LastCycleAt.IsZero())
}

func TestOrchestratorOverlapPrevention(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	release := make(chan struct{})
	h.fetcher.mu.Lock()
	h.fetcher.blockOn = release
	h.fetcher.mu.Unlock()
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{Outcome: fetcher.OutcomeEmpty, Delayed: true})

	// Case 1: a cycle arriving while one is running is dropped, not queued
	firstDone := make(chan error, 1)
	go func() { firstDone <- h.uut.TriggerPoll(ctxt) }()
	assert.Eventually(func() bool {
		return h.fetcher.fetchCount() == 1
	}, time.Second, time.Millisecond*5)
	assert.True(h.uut.Status().PollInProgress)
	assert.ErrorIs(h.uut.TriggerPoll(ctxt), ErrPollInProgress)
	assert.Equal(1, h.fetcher.fetchCount())

	// Case 2: the guard is released once the blocked cycle finishes
	close(release)
	assert.Nil(<-firstDone)
	assert.False(h.uut.Status().PollInProgress)
	h.fetcher.mu.Lock()
	h.fetcher.blockOn = nil
	h.fetcher.mu.Unlock()
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Equal(2, h.fetcher.fetchCount())
}

func TestOrchestratorGroupErrorIsolation(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	h.groups.groups = []string{"league-1", "league-2", "league-3"}
	h.computer.failing["league-2"] = true
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats:   []stats.PlayerStat{statLine("p1", "g1", stats.GameInProgress)},
		Outcome: fetcher.OutcomeLive,
	})

	// Case 1: one failing group never aborts the batch
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Equal([]string{"league-1", "league-3"}, h.computer.scored)
}

func TestOrchestratorGameCompletion(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	// Case 1: first sighting of an in-progress game is not a completion
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats: []stats.PlayerStat{
			statLine("p1", "g1", stats.GameInProgress),
			statLine("p2", "g2", stats.GameInProgress),
		},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Empty(h.publisher.broadcast)

	// Case 2: in-progress to final in the feed broadcasts a completion
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats: []stats.PlayerStat{
			statLine("p1", "g1", stats.GameFinal),
			statLine("p2", "g2", stats.GameInProgress),
		},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Len(h.publisher.broadcast, 1)
	assert.Equal(hub.MsgGameCompleted, h.publisher.broadcast[0].Type)

	// Case 3: an already-final game does not announce again
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats: []stats.PlayerStat{
			statLine("p1", "g1", stats.GameFinal),
			statLine("p2", "g2", stats.GameInProgress),
		},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Len(h.publisher.broadcast, 1)

	// Case 4: a tracked game vanishing from the feed is confirmed directly
	h.fetcher.gameResults["g2"] = fetcher.GameStatusResult{
		Status:  stats.GameStatus{GameID: "g2", State: stats.GameFinal},
		Outcome: fetcher.OutcomeLive,
	}
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats:   []stats.PlayerStat{statLine("p1", "g1", stats.GameFinal)},
		Outcome: fetcher.OutcomeLive,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Contains(h.fetcher.gameCalls, "g2")
	assert.Len(h.publisher.broadcast, 2)
	assert.Equal(hub.MsgGameCompleted, h.publisher.broadcast[1].Type)

	// Case 5: finished games drop out of the transition tracker
	impl, ok := h.uut.(*orchestratorImpl)
	assert.True(ok)
	assert.Empty(impl.gameStates)
}

func TestOrchestratorDegradedDataHandling(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)
	ctxt := context.Background()

	// Case 1: stale cached data still scores, with a delay warning pushed
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Stats:   []stats.PlayerStat{statLine("p1", "g1", stats.GameInProgress)},
		Outcome: fetcher.OutcomeCachedStale,
		Delayed: true,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Len(h.publisher.published, 1)
	assert.Equal(hub.MsgDataDelayWarning, h.publisher.published[0].Type)
	assert.Equal(hub.TopicAll, h.publisher.published[0].Topic)
	assert.Equal([]string{"league-1", "league-2"}, h.computer.scored)

	// Case 2: nothing usable abandons the cycle after the warning
	h.fetcher.queueWeekResult(fetcher.WeekStatsResult{
		Outcome: fetcher.OutcomeEmpty, Delayed: true,
	})
	assert.Nil(h.uut.TriggerPoll(ctxt))
	assert.Len(h.publisher.published, 2)
	assert.Len(h.computer.scored, 2)
}

func TestOrchestratorStatus(t *testing.T) {
	assert := assert.New(t)
	h := defineTestOrchestrator(t)

	// Case 1: static fields reflect configuration
	status := h.uut.Status()
	assert.False(status.Enabled)
	assert.Equal(3, status.Week)
	assert.Equal(2026, status.Season)
	assert.True(status.SourceAvailable)
	assert.False(status.RateLimited)

	// Case 2: backoff engagement surfaces as rate limited
	h.policy.backingOff = true
	h.fetcher.available = false
	status = h.uut.Status()
	assert.True(status.RateLimited)
	assert.False(status.SourceAvailable)
}

func TestWeekFromSchedule(t *testing.T) {
	assert := assert.New(t)
	resolver := WeekFromSchedule(2026)

	// Case 1: before the season opener everything maps to week one
	assert.Equal(1, resolver(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))

	// Case 2: the opener week is week one
	assert.Equal(1, resolver(time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC)))

	// Case 3: weeks advance every seven days
	assert.Equal(2, resolver(time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC)))

	// Case 4: late season clamps at the final week
	assert.Equal(18, resolver(time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)))
}
