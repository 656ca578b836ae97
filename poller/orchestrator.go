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
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/fetcher"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/egdcrypto/ffl-livescore/ratelimit"
	"github.com/egdcrypto/ffl-livescore/scoring"
	"github.com/egdcrypto/ffl-livescore/stats"
)

// ErrPollInProgress returned by TriggerPoll when a cycle is already running
var ErrPollInProgress = fmt.Errorf("poll cycle already in progress")

// Status point-in-time view of the poll loop
type Status struct {
	// Enabled whether the periodic poll loop is running
	Enabled bool `json:"enabled"`
	// PollInProgress whether a cycle is running right now
	PollInProgress bool `json:"poll_in_progress"`
	// LastCycleAt start time of the most recent cycle
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	// LastCycleDurationMS duration of the most recent cycle
	LastCycleDurationMS int64 `json:"last_cycle_duration_ms"`
	// RateLimited whether the provider backoff is currently engaged
	RateLimited bool `json:"rate_limited"`
	// SourceAvailable whether the most recent provider call succeeded
	SourceAvailable bool `json:"source_available"`
	// Week the week the next cycle will fetch
	Week int `json:"week"`
	// Season the season being polled
	Season int `json:"season"`
}

// Orchestrator drives the periodic poll cycle: fetch the week's stat lines,
// detect game completions, and delegate per-group score recomputation
type Orchestrator interface {
	// Start begin the periodic poll loop
	Start() error
	// Stop halt the periodic poll loop
	Stop() error
	// TriggerPoll run one poll cycle now, outside the timer cadence
	TriggerPoll(ctxt context.Context) error
	// Status point-in-time view of the poll loop
	Status() Status
}

// OrchestratorParams dependencies and tunables for the orchestrator
type OrchestratorParams struct {
	// Fetcher rate limited stats fetcher
	Fetcher fetcher.RateLimitedFetcher `validate:"required"`
	// Groups enumerates groups with live scoring enabled
	Groups scoring.GroupLister `validate:"required"`
	// Computer per-group score recomputation
	Computer scoring.Computer `validate:"required"`
	// Publisher broadcast publish port
	Publisher hub.PublishPort `validate:"required"`
	// Policy throttle backoff policy, read for status reporting
	Policy ratelimit.BackoffPolicy `validate:"required"`
	// Enabled whether the periodic loop runs; TriggerPoll works either way
	Enabled bool
	// Interval poll cadence
	Interval time.Duration `validate:"required"`
	// BackpressureThreshold cycle duration above which a warning is logged
	BackpressureThreshold time.Duration `validate:"required"`
	// Season the season to poll
	Season int `validate:"required,gte=2000"`
	// WeekOf resolve the week to fetch for a point in time
	WeekOf func(time.Time) int `validate:"required"`
	// RootContext context for the timer loop
	RootContext context.Context `validate:"required"`
	// WG wait group tracking the timer loop
	WG *sync.WaitGroup `validate:"required"`
	// Now time source, defaults to time.Now
	Now common.TimeSource
}

// orchestratorImpl implements Orchestrator
type orchestratorImpl struct {
	common.Component
	params         OrchestratorParams
	timer          common.IntervalTimer
	pollInProgress atomic.Bool
	now            common.TimeSource

	// gameStates is only touched inside a poll cycle, which the
	// pollInProgress guard serializes
	gameStates map[string]stats.GameState

	lck           sync.Mutex
	lastCycleAt   time.Time
	lastCycleTook time.Duration
}

// GetOrchestratorInstance create new poll orchestrator
func GetOrchestratorInstance(params OrchestratorParams) (Orchestrator, error) {
	logTags := log.Fields{
		"module": "poller", "component": "orchestrator", "season": params.Season,
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	timer, err := common.GetIntervalTimerInstance("poll-cycle", params.RootContext, params.WG)
	if err != nil {
		return nil, err
	}
	return &orchestratorImpl{
		Component:  common.Component{LogTags: logTags},
		params:     params,
		timer:      timer,
		now:        params.Now,
		gameStates: make(map[string]stats.GameState),
	}, nil
}

// Start begin the periodic poll loop
func (o *orchestratorImpl) Start() error {
	if !o.params.Enabled {
		log.WithFields(o.LogTags).Info("Periodic polling disabled, manual trigger only")
		return nil
	}
	return o.timer.Start(o.params.Interval, func() error {
		if err := o.runCycle(o.params.RootContext); err != nil {
			if err == ErrPollInProgress {
				// overlap contract: drop the tick, never queue it
				log.WithFields(o.LogTags).Warn("Previous poll cycle still running, skipping tick")
				return nil
			}
			return err
		}
		return nil
	})
}

// Stop halt the periodic poll loop
func (o *orchestratorImpl) Stop() error {
	return o.timer.Stop()
}

// TriggerPoll run one poll cycle now
func (o *orchestratorImpl) TriggerPoll(ctxt context.Context) error {
	log.WithFields(o.LogTags).Info("Poll cycle triggered manually")
	return o.runCycle(ctxt)
}

// Status point-in-time view of the poll loop
func (o *orchestratorImpl) Status() Status {
	o.lck.Lock()
	lastAt, lastTook := o.lastCycleAt, o.lastCycleTook
	o.lck.Unlock()
	current := o.now()
	return Status{
		Enabled:             o.params.Enabled,
		PollInProgress:      o.pollInProgress.Load(),
		LastCycleAt:         lastAt,
		LastCycleDurationMS: lastTook.Milliseconds(),
		RateLimited:         o.params.Policy.Status().BackingOff,
		SourceAvailable:     o.params.Fetcher.SourceAvailable(),
		Week:                o.params.WeekOf(current),
		Season:              o.params.Season,
	}
}

// runCycle run one guarded poll cycle
func (o *orchestratorImpl) runCycle(ctxt context.Context) error {
	if !o.pollInProgress.CompareAndSwap(false, true) {
		return ErrPollInProgress
	}
	startTime := o.now()
	defer func() {
		// duration accounting and guard release on every exit path
		took := o.now().Sub(startTime)
		o.lck.Lock()
		o.lastCycleAt = startTime
		o.lastCycleTook = took
		o.lck.Unlock()
		if took > o.params.BackpressureThreshold {
			log.WithFields(o.LogTags).Warnf(
				"Poll cycle took %s, over backpressure threshold %s",
				took, o.params.BackpressureThreshold,
			)
		}
		o.pollInProgress.Store(false)
	}()
	o.pollOnce(ctxt, startTime)
	return nil
}

// pollOnce the body of one poll cycle
func (o *orchestratorImpl) pollOnce(ctxt context.Context, startTime time.Time) {
	week := o.params.WeekOf(startTime)
	result := o.params.Fetcher.FetchWeekStats(ctxt, week, o.params.Season)
	if result.Delayed {
		o.warnDataDelay(result.Outcome)
	}
	if result.Outcome == fetcher.OutcomeEmpty {
		log.WithFields(o.LogTags).Warnf("No usable stats for week %d, abandoning cycle", week)
		return
	}
	inProgress, completed := o.observeGames(ctxt, result.Stats)
	for _, game := range completed {
		o.announceCompletion(game)
	}
	if inProgress == 0 {
		log.WithFields(o.LogTags).Debugf("No games in progress for week %d", week)
		return
	}
	groups, err := o.params.Groups.ActiveGroups(ctxt)
	if err != nil {
		log.WithError(err).WithFields(o.LogTags).Error("Unable to list active groups")
		return
	}
	failed := 0
	for _, group := range groups {
		// one failing group never aborts the batch
		if err := o.params.Computer.Recompute(ctxt, group, result.Stats); err != nil {
			failed++
			log.WithError(err).WithFields(o.LogTags).Errorf("Scoring failed for group %s", group)
		}
	}
	log.WithFields(o.LogTags).Debugf(
		"Scored %d group(s) for week %d, %d failed", len(groups), week, failed,
	)
}

// observeGames track game state transitions across cycles. Returns the count
// of games currently in progress and the games which just went final.
func (o *orchestratorImpl) observeGames(
	ctxt context.Context, statLines []stats.PlayerStat,
) (int, []stats.GameStatus) {
	seen := make(map[string]stats.GameStatus)
	for _, line := range statLines {
		seen[line.GameID] = line.Game
	}
	inProgress := 0
	completed := make([]stats.GameStatus, 0)
	for gameID, status := range seen {
		if status.State == stats.GameInProgress {
			inProgress++
			o.gameStates[gameID] = status.State
			continue
		}
		if o.gameStates[gameID] == stats.GameInProgress && status.State == stats.GameFinal {
			completed = append(completed, status)
		}
		// only in-progress games need tracking; dropping the rest keeps the
		// map from growing for the whole season
		delete(o.gameStates, gameID)
	}
	// a tracked in-progress game can drop out of the stat feed entirely once
	// it ends; confirm those against the provider directly
	for gameID, state := range o.gameStates {
		if state != stats.GameInProgress {
			continue
		}
		if _, ok := seen[gameID]; ok {
			continue
		}
		result := o.params.Fetcher.FetchGameStatus(ctxt, gameID)
		if result.Outcome == fetcher.OutcomeEmpty {
			// keep tracking until the provider answers
			continue
		}
		switch result.Status.State {
		case stats.GameInProgress:
			inProgress++
		case stats.GameFinal:
			completed = append(completed, result.Status)
			delete(o.gameStates, gameID)
		default:
			delete(o.gameStates, gameID)
		}
	}
	return inProgress, completed
}

// announceCompletion broadcast a game completion to every open connection
func (o *orchestratorImpl) announceCompletion(game stats.GameStatus) {
	log.WithFields(o.LogTags).Infof("Game %s completed", game.GameID)
	payload, err := json.Marshal(&game)
	if err != nil {
		log.WithError(err).WithFields(o.LogTags).Errorf(
			"Unable to marshal completion notice for game %s", game.GameID,
		)
		return
	}
	o.params.Publisher.PublishAll(hub.ServerMessage{
		Type: hub.MsgGameCompleted, Payload: payload,
	})
}

// warnDataDelay tell subscribers the feed is running on cached data
func (o *orchestratorImpl) warnDataDelay(outcome fetcher.FetchOutcome) {
	payload, err := json.Marshal(map[string]string{"reason": string(outcome)})
	if err != nil {
		log.WithError(err).WithFields(o.LogTags).Error("Unable to marshal delay warning")
		return
	}
	o.params.Publisher.Publish(hub.TopicAll, hub.ServerMessage{
		Type: hub.MsgDataDelayWarning, Payload: payload,
	})
}

// WeekFromSchedule build a week resolver for a season assuming the regular
// schedule starts the first Thursday of September. Deployments with an exact
// schedule feed replace this with their own resolver.
func WeekFromSchedule(season int) func(time.Time) int {
	start := time.Date(season, time.September, 1, 0, 0, 0, 0, time.UTC)
	for start.Weekday() != time.Thursday {
		start = start.AddDate(0, 0, 1)
	}
	return func(at time.Time) int {
		if at.Before(start) {
			return 1
		}
		week := int(at.Sub(start)/(7*24*time.Hour)) + 1
		if week > 18 {
			return 18
		}
		return week
	}
}
