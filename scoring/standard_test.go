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
	"testing"

	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/egdcrypto/ffl-livescore/stats"
	"github.com/stretchr/testify/assert"
)

// fakePublisher records pushed messages
type fakePublisher struct {
	published []hub.ServerMessage
}

func (p *fakePublisher) Publish(topic hub.Topic, msg hub.ServerMessage) {
	msg.Topic = topic
	p.published = append(p.published, msg)
}

func (p *fakePublisher) PublishAll(msg hub.ServerMessage) {
	p.published = append(p.published, msg)
}

func TestComputePoints(t *testing.T) {
	assert := assert.New(t)

	// Case 1: standard PPR weights
	points := ComputePoints(map[string]float64{
		"receiving_yards": 80,
		"receptions":      6,
		"receiving_touchdowns": 1,
	})
	assert.InDelta(20.0, points, 0.0001)

	// Case 2: negative categories subtract
	points = ComputePoints(map[string]float64{
		"passing_yards": 250,
		"interceptions": 2,
	})
	assert.InDelta(6.0, points, 0.0001)

	// Case 3: unknown categories contribute nothing
	points = ComputePoints(map[string]float64{"snaps_played": 55})
	assert.Zero(points)
}

func TestStandardComputer(t *testing.T) {
	assert := assert.New(t)
	publisher := &fakePublisher{}
	uut, err := GetStandardComputerInstance(publisher)
	assert.Nil(err)

	statLines := []stats.PlayerStat{
		{
			PlayerID: "p1", Name: "Bench Player", Position: "TE",
			Numbers: map[string]float64{"receiving_yards": 10, "receptions": 1},
		},
		{
			PlayerID: "p2", Name: "Star Back", Position: "RB",
			Numbers: map[string]float64{"rushing_yards": 120, "rushing_touchdowns": 2},
		},
	}

	// Case 1: one score_update per group on the group's topic
	assert.Nil(uut.Recompute(context.Background(), "l1", statLines))
	assert.Len(publisher.published, 1)
	msg := publisher.published[0]
	assert.Equal(hub.MsgScoreUpdate, msg.Type)
	assert.Equal(hub.LeagueTopic("l1"), msg.Topic)

	// Case 2: scores are ordered highest first
	var scores GroupScores
	assert.Nil(json.Unmarshal(msg.Payload, &scores))
	assert.Equal("l1", scores.Group)
	assert.Len(scores.Scores, 2)
	assert.Equal("p2", scores.Scores[0].PlayerID)
	assert.InDelta(24.0, scores.Scores[0].Points, 0.0001)
	assert.Equal("p1", scores.Scores[1].PlayerID)
	assert.InDelta(2.0, scores.Scores[1].Points, 0.0001)
}

func TestStaticGroupLister(t *testing.T) {
	assert := assert.New(t)

	// Case 1: configured groups come back verbatim
	uut, err := GetStaticGroupListerInstance([]string{"l1", "l2"})
	assert.Nil(err)
	groups, err := uut.ActiveGroups(context.Background())
	assert.Nil(err)
	assert.Equal([]string{"l1", "l2"}, groups)

	// Case 2: an empty set is valid
	uut, err = GetStaticGroupListerInstance(nil)
	assert.Nil(err)
	groups, err = uut.ActiveGroups(context.Background())
	assert.Nil(err)
	assert.Empty(groups)
}
