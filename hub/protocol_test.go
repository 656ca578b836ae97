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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTopic(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		raw      string
		expected Topic
		valid    bool
	}{
		{raw: "all", expected: TopicAll, valid: true},
		{raw: "league:l1", expected: LeagueTopic("l1"), valid: true},
		{raw: "roster:r9", expected: RosterTopic("r9"), valid: true},
		{raw: "league:", valid: false},
		{raw: "roster:", valid: false},
		{raw: "", valid: false},
		{raw: "not-a-topic", valid: false},
		{raw: "league", valid: false},
	}
	for _, oneTest := range tests {
		topic, err := ParseTopic(oneTest.raw)
		if oneTest.valid {
			assert.Nilf(err, "topic %q", oneTest.raw)
			assert.Equal(oneTest.expected, topic)
		} else {
			assert.NotNilf(err, "topic %q", oneTest.raw)
		}
	}
}

func TestParseClientAction(t *testing.T) {
	assert := assert.New(t)

	// Case 0: well formed actions decode with their fields
	{
		action, err := ParseClientAction([]byte(`{"action":"subscribe_league","league_id":"l1"}`))
		assert.Nil(err)
		assert.Equal(ActionSubscribeLeague, action.Action)
		assert.Equal(LeagueTopic("l1"), action.SubscriptionTopic())
	}
	{
		action, err := ParseClientAction([]byte(`{"action":"unsubscribe_roster","roster_id":"r9"}`))
		assert.Nil(err)
		assert.Equal(RosterTopic("r9"), action.SubscriptionTopic())
	}
	{
		action, err := ParseClientAction([]byte(`{"action":"get_snapshot","topic":"league:l1"}`))
		assert.Nil(err)
		assert.Equal(ActionGetSnapshot, action.Action)
	}
	{
		action, err := ParseClientAction([]byte(`{"action":"ping"}`))
		assert.Nil(err)
		assert.Equal(ActionPing, action.Action)
	}

	// Case 1: malformed JSON is rejected
	{
		_, err := ParseClientAction([]byte(`{not json`))
		assert.NotNil(err)
	}

	// Case 2: missing action tag is rejected
	{
		_, err := ParseClientAction([]byte(`{"league_id":"l1"}`))
		assert.NotNil(err)
	}

	// Case 3: unknown action tag is rejected
	{
		_, err := ParseClientAction([]byte(`{"action":"subscribe_everything"}`))
		assert.NotNil(err)
	}

	// Case 4: league actions require league_id, roster actions roster_id
	{
		_, err := ParseClientAction([]byte(`{"action":"subscribe_league"}`))
		assert.NotNil(err)
	}
	{
		_, err := ParseClientAction([]byte(`{"action":"unsubscribe_league","roster_id":"r9"}`))
		assert.NotNil(err)
	}
	{
		_, err := ParseClientAction([]byte(`{"action":"subscribe_roster"}`))
		assert.NotNil(err)
	}

	// Case 5: get_snapshot requires a valid topic
	{
		_, err := ParseClientAction([]byte(`{"action":"get_snapshot"}`))
		assert.NotNil(err)
	}
	{
		_, err := ParseClientAction([]byte(`{"action":"get_snapshot","topic":"bogus"}`))
		assert.NotNil(err)
	}

	// Case 6: only subscribe style actions resolve a subscription topic
	{
		action, err := ParseClientAction([]byte(`{"action":"ping"}`))
		assert.Nil(err)
		assert.Equal(Topic(""), action.SubscriptionTopic())
	}
}
