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
	"strings"
	"time"
)

// ========================================================================================
// Topics

// Topic a named broadcast channel subscribers attach to
type Topic string

// TopicAll the global broadcast channel
const TopicAll Topic = "all"

// LeagueTopic the broadcast channel for one league
func LeagueTopic(leagueID string) Topic {
	return Topic(fmt.Sprintf("league:%s", leagueID))
}

// RosterTopic the broadcast channel for one roster
func RosterTopic(rosterID string) Topic {
	return Topic(fmt.Sprintf("roster:%s", rosterID))
}

// ParseTopic validate a topic string received from the outside
func ParseTopic(raw string) (Topic, error) {
	if raw == string(TopicAll) {
		return TopicAll, nil
	}
	for _, prefix := range []string{"league:", "roster:"} {
		if strings.HasPrefix(raw, prefix) && len(raw) > len(prefix) {
			return Topic(raw), nil
		}
	}
	return "", fmt.Errorf("invalid topic %q", raw)
}

// ========================================================================================
// Client actions

// ClientActionKind subscriber protocol action tag
type ClientActionKind string

// Subscriber protocol actions
const (
	ActionSubscribeLeague   ClientActionKind = "subscribe_league"
	ActionUnsubscribeLeague ClientActionKind = "unsubscribe_league"
	ActionSubscribeRoster   ClientActionKind = "subscribe_roster"
	ActionUnsubscribeRoster ClientActionKind = "unsubscribe_roster"
	ActionGetSnapshot       ClientActionKind = "get_snapshot"
	ActionPing              ClientActionKind = "ping"
)

// ClientAction one decoded subscriber protocol message. Required fields vary
// by action kind; decoding enforces them once at the connection boundary so
// downstream code never sees a partially formed action.
type ClientAction struct {
	// Action the action tag
	Action ClientActionKind `json:"action"`
	// LeagueID set for league subscribe / unsubscribe
	LeagueID string `json:"league_id,omitempty"`
	// RosterID set for roster subscribe / unsubscribe
	RosterID string `json:"roster_id,omitempty"`
	// Topic set for get_snapshot
	Topic string `json:"topic,omitempty"`
}

// ParseClientAction decode and validate a raw subscriber protocol message
func ParseClientAction(raw []byte) (ClientAction, error) {
	var action ClientAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return ClientAction{}, fmt.Errorf("malformed message: %w", err)
	}
	switch action.Action {
	case ActionSubscribeLeague, ActionUnsubscribeLeague:
		if action.LeagueID == "" {
			return ClientAction{}, fmt.Errorf("action %s requires league_id", action.Action)
		}
	case ActionSubscribeRoster, ActionUnsubscribeRoster:
		if action.RosterID == "" {
			return ClientAction{}, fmt.Errorf("action %s requires roster_id", action.Action)
		}
	case ActionGetSnapshot:
		if _, err := ParseTopic(action.Topic); err != nil {
			return ClientAction{}, fmt.Errorf("action %s requires a valid topic: %w", action.Action, err)
		}
	case ActionPing:
		// no fields
	case "":
		return ClientAction{}, fmt.Errorf("message missing action field")
	default:
		return ClientAction{}, fmt.Errorf("unknown action %q", action.Action)
	}
	return action, nil
}

// SubscriptionTopic the topic a subscribe / unsubscribe action refers to
func (a ClientAction) SubscriptionTopic() Topic {
	switch a.Action {
	case ActionSubscribeLeague, ActionUnsubscribeLeague:
		return LeagueTopic(a.LeagueID)
	case ActionSubscribeRoster, ActionUnsubscribeRoster:
		return RosterTopic(a.RosterID)
	default:
		return ""
	}
}

// ========================================================================================
// Server messages

// ServerMessageKind server-to-subscriber message tag
type ServerMessageKind string

// Direct replies to client actions
const (
	MsgConnected    ServerMessageKind = "connected"
	MsgSubscribed   ServerMessageKind = "subscribed"
	MsgUnsubscribed ServerMessageKind = "unsubscribed"
	MsgPong         ServerMessageKind = "pong"
	MsgSnapshot     ServerMessageKind = "snapshot"
	MsgError        ServerMessageKind = "error"
)

// Asynchronous pushes
const (
	MsgScoreUpdate       ServerMessageKind = "score_update"
	MsgPositionUpdate    ServerMessageKind = "position_update"
	MsgRankChange        ServerMessageKind = "rank_change"
	MsgGameCompleted     ServerMessageKind = "game_completed"
	MsgLeaderboardUpdate ServerMessageKind = "leaderboard_update"
	MsgDataDelayWarning  ServerMessageKind = "data_delay_warning"
)

// ServerMessage one server-to-subscriber message
type ServerMessage struct {
	// Type the message tag
	Type ServerMessageKind `json:"type"`
	// Topic the topic a push or reply refers to, when applicable
	Topic Topic `json:"topic,omitempty"`
	// SessionID set on the connected greeting
	SessionID string `json:"session_id,omitempty"`
	// Error human readable problem description on error replies
	Error string `json:"error,omitempty"`
	// Payload opaque message body supplied by the publisher
	Payload json.RawMessage `json:"payload,omitempty"`
	// SentAt server timestamp
	SentAt time.Time `json:"sent_at"`
}
