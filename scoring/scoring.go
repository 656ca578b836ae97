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

// Package scoring defines the contracts with the fantasy point computation
// subsystem, plus a built-in standard PPR computer. Custom formulas and
// league modeling live outside this repository; the poll orchestrator only
// needs to know which groups to score and whether scoring a group succeeded.
package scoring

import (
	"context"

	"github.com/egdcrypto/ffl-livescore/stats"
)

// GroupLister enumerates the groups (leagues) with live scoring enabled
type GroupLister interface {
	// ActiveGroups list the group IDs to score this cycle
	ActiveGroups(ctxt context.Context) ([]string, error)
}

// Computer recomputes scores for one group from raw stats. Implementations
// push the resulting per-topic updates through the broadcast publish port
// themselves; the orchestrator only tracks success or failure per group.
type Computer interface {
	// Recompute score one group against a fresh stat snapshot
	Recompute(ctxt context.Context, group string, statLines []stats.PlayerStat) error
}
