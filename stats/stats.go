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

// Package stats defines the contract with the external statistics provider.
// The provider itself lives outside this repository; the live scoring core
// only depends on these types.
package stats

import (
	"context"
	"fmt"
	"time"
)

// GameState lifecycle state of a game reported by the provider
type GameState string

// Game status values reported by the provider
const (
	GameScheduled  GameState = "scheduled"
	GameInProgress GameState = "in_progress"
	GameFinal      GameState = "final"
)

// GameStatus provider-reported status of a single game
type GameStatus struct {
	// GameID provider game identifier
	GameID string `json:"game_id" validate:"required"`
	// State lifecycle state of the game
	State GameState `json:"state" validate:"required,oneof=scheduled in_progress final"`
	// Quarter current quarter, zero before kickoff
	Quarter int `json:"quarter"`
	// Clock remaining game clock display string
	Clock string `json:"clock"`
}

// PlayerStat raw per-player statistics for one game
type PlayerStat struct {
	// PlayerID provider player identifier
	PlayerID string `json:"player_id" validate:"required"`
	// Name player display name
	Name string `json:"name"`
	// Position roster position code
	Position string `json:"position"`
	// GameID game the stat line belongs to
	GameID string `json:"game_id" validate:"required"`
	// Game current status of that game
	Game GameStatus `json:"game"`
	// Week the fetch week
	Week int `json:"week"`
	// Season the fetch season
	Season int `json:"season"`
	// Numbers raw stat categories (yards, receptions, touchdowns, ...)
	Numbers map[string]float64 `json:"numbers"`
}

// Source is the external statistics provider contract. Implementations signal
// throttling with *RateLimitError; any other error is treated as transient.
type Source interface {
	// FetchWeekStats fetch all player stat lines for a week of a season
	FetchWeekStats(ctxt context.Context, week int, season int) ([]PlayerStat, error)
	// FetchGameStatus fetch the status of a single game
	FetchGameStatus(ctxt context.Context, gameID string) (GameStatus, error)
}

// RateLimitError provider signaled throttling. Carries the provider retry
// hint and the raw rate limit headers for observability.
type RateLimitError struct {
	// RetryAfter provider supplied wait hint, zero when absent
	RetryAfter time.Duration
	// Headers raw rate limit response headers
	Headers map[string]string
}

// Error implement error
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}
