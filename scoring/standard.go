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

package scoring

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/egdcrypto/ffl-livescore/stats"
)

// standard PPR point weights per raw stat category
var standardWeights = map[string]float64{
	"passing_yards":        0.04,
	"passing_touchdowns":   4,
	"interceptions":        -2,
	"rushing_yards":        0.1,
	"rushing_touchdowns":   6,
	"receiving_yards":      0.1,
	"receptions":           1,
	"receiving_touchdowns": 6,
	"fumbles_lost":         -2,
}

// PlayerScore fantasy points for one player
type PlayerScore struct {
	// PlayerID provider player identifier
	PlayerID string `json:"player_id"`
	// Name player display name
	Name string `json:"name"`
	// Position roster position code
	Position string `json:"position"`
	// Points computed fantasy points
	Points float64 `json:"points"`
}

// GroupScores one group's scores for a cycle, ordered by points descending
type GroupScores struct {
	// Group the group (league) ID
	Group string `json:"group"`
	// Scores per-player points, highest first
	Scores []PlayerScore `json:"scores"`
}

// GetStaticGroupListerInstance define a GroupLister over a fixed group set
func GetStaticGroupListerInstance(groups []string) (GroupLister, error) {
	return &staticGroupLister{groups: groups}, nil
}

// staticGroupLister implements GroupLister
type staticGroupLister struct {
	groups []string
}

// ActiveGroups list the group IDs to score this cycle
func (l *staticGroupLister) ActiveGroups(ctxt context.Context) ([]string, error) {
	return l.groups, nil
}

// standardComputerImpl implements Computer with the standard PPR formula
type standardComputerImpl struct {
	common.Component
	publisher hub.PublishPort
}

// GetStandardComputerInstance define a Computer applying standard PPR scoring
// against every stat line, pushing one score_update per group per cycle
func GetStandardComputerInstance(publisher hub.PublishPort) (Computer, error) {
	logTags := log.Fields{
		"module": "scoring", "component": "standard-computer",
	}
	return &standardComputerImpl{
		Component: common.Component{LogTags: logTags},
		publisher: publisher,
	}, nil
}

// Recompute score one group against a fresh stat snapshot
func (c *standardComputerImpl) Recompute(
	ctxt context.Context, group string, statLines []stats.PlayerStat,
) error {
	scores := make([]PlayerScore, 0, len(statLines))
	for _, line := range statLines {
		scores = append(scores, PlayerScore{
			PlayerID: line.PlayerID,
			Name:     line.Name,
			Position: line.Position,
			Points:   ComputePoints(line.Numbers),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Points > scores[j].Points
	})
	payload, err := json.Marshal(&GroupScores{Group: group, Scores: scores})
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Unable to marshal scores for group %s", group,
		)
		return err
	}
	c.publisher.Publish(hub.LeagueTopic(group), hub.ServerMessage{
		Type: hub.MsgScoreUpdate, Payload: payload,
	})
	return nil
}

// ComputePoints apply the standard PPR weights to raw stat categories.
// Unknown categories score zero.
func ComputePoints(numbers map[string]float64) float64 {
	total := 0.0
	for category, value := range numbers {
		total += standardWeights[category] * value
	}
	return total
}
