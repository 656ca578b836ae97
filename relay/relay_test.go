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

package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/stretchr/testify/assert"
)

// fakePublisher records pushed messages
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

func defineTestRelay(t *testing.T) (*relayImpl, *fakePublisher) {
	publisher := &fakePublisher{}
	uut, err := GetRelayInstance(RelayParams{
		SubjectPrefix: "livescore.push",
		Publisher:     publisher,
		Workers:       2,
		TaskBuffer:    4,
	})
	assert.Nil(t, err)
	return uut.(*relayImpl), publisher
}

func TestRelayForwarding(t *testing.T) {
	assert := assert.New(t)
	uut, publisher := defineTestRelay(t)

	// Case 1: topic scoped push lands on its topic
	envelope, err := json.Marshal(&ScoreEnvelope{
		Type:    string(hub.MsgScoreUpdate),
		Topic:   "league:l1",
		Payload: json.RawMessage(`{"points": 12.5}`),
	})
	assert.Nil(err)
	assert.Nil(uut.forward("livescore.push.league.l1", envelope))
	assert.Len(publisher.published, 1)
	assert.Equal(hub.MsgScoreUpdate, publisher.published[0].Type)
	assert.Equal(hub.LeagueTopic("l1"), publisher.published[0].Topic)
	assert.Equal(json.RawMessage(`{"points": 12.5}`), publisher.published[0].Payload)

	// Case 2: game completion broadcasts, topic ignored
	envelope, err = json.Marshal(&ScoreEnvelope{
		Type:    string(hub.MsgGameCompleted),
		Payload: json.RawMessage(`{"game_id": "g1"}`),
	})
	assert.Nil(err)
	assert.Nil(uut.forward("livescore.push.games", envelope))
	assert.Len(publisher.broadcast, 1)
	assert.Equal(hub.MsgGameCompleted, publisher.broadcast[0].Type)

	// Case 3: roster scoped push
	envelope, err = json.Marshal(&ScoreEnvelope{
		Type:  string(hub.MsgPositionUpdate),
		Topic: "roster:r9",
	})
	assert.Nil(err)
	assert.Nil(uut.forward("livescore.push.roster.r9", envelope))
	assert.Len(publisher.published, 2)
	assert.Equal(hub.RosterTopic("r9"), publisher.published[1].Topic)
}

func TestRelayRejectsBadEnvelopes(t *testing.T) {
	assert := assert.New(t)
	uut, publisher := defineTestRelay(t)

	// Case 1: malformed JSON
	assert.NotNil(uut.forward("livescore.push.x", []byte("not json")))

	// Case 2: unsupported push type
	envelope, err := json.Marshal(&ScoreEnvelope{Type: "subscribe_league", Topic: "league:l1"})
	assert.Nil(err)
	assert.NotNil(uut.forward("livescore.push.x", envelope))

	// Case 3: topic scoped push with a bad topic
	envelope, err = json.Marshal(&ScoreEnvelope{
		Type: string(hub.MsgScoreUpdate), Topic: "not-a-topic",
	})
	assert.Nil(err)
	assert.NotNil(uut.forward("livescore.push.x", envelope))

	// Case 4: nothing was forwarded
	assert.Empty(publisher.published)
	assert.Empty(publisher.broadcast)

	// Case 5: the worker loop swallows bad envelopes instead of dying
	assert.Nil(uut.processTask(relayTask{subject: "livescore.push.x", data: []byte("not json")}))
}
