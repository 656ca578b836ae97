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

// Package relay ingests score pushes from external scoring services over
// NATS and fans them out through the broadcast hub. This is the path for
// deployments where score computation runs outside this process.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/core"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/nats-io/nats.go"
)

// ScoreEnvelope wire format external scoring services publish on NATS
type ScoreEnvelope struct {
	// Type the push kind, one of the subscriber push message types
	Type string `json:"type" validate:"required"`
	// Topic destination topic; ignored for global push kinds
	Topic string `json:"topic,omitempty"`
	// Payload opaque push body forwarded to subscribers
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay NATS to broadcast hub ingest bridge
type Relay interface {
	// Start subscribe and begin forwarding
	Start(wg *sync.WaitGroup) error
	// Stop drop the subscription and halt the workers
	Stop(ctxt context.Context) error
}

// RelayParams dependencies and tunables for the relay
type RelayParams struct {
	// Client shared NATS transport client
	Client core.NatsClient
	// SubjectPrefix subscription root; the relay listens on "<prefix>.>"
	SubjectPrefix string `validate:"required"`
	// Publisher broadcast publish port
	Publisher hub.PublishPort `validate:"required"`
	// Workers parallel decode workers
	Workers int `validate:"required,gte=1"`
	// TaskBuffer per-worker task buffer size
	TaskBuffer int `validate:"required,gte=1"`
}

// relayTask one inbound NATS message awaiting decode
type relayTask struct {
	subject string
	data    []byte
}

// relayImpl implements Relay
type relayImpl struct {
	common.Component
	params RelayParams
	tp     common.TaskProcessor
	sub    *nats.Subscription
}

// GetRelayInstance create new score relay
func GetRelayInstance(params RelayParams) (Relay, error) {
	logTags := log.Fields{
		"module": "relay", "component": "score-relay", "instance": params.SubjectPrefix,
	}
	tp, err := common.GetNewTaskDemuxProcessorInstance(
		"score-relay", params.TaskBuffer, params.Workers,
	)
	if err != nil {
		return nil, err
	}
	instance := &relayImpl{
		Component: common.Component{LogTags: logTags},
		params:    params,
		tp:        tp,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(relayTask{}), instance.processTask,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// Start subscribe and begin forwarding
func (r *relayImpl) Start(wg *sync.WaitGroup) error {
	if err := r.tp.StartEventLoop(wg); err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.>", r.params.SubjectPrefix)
	sub, err := r.params.Client.NATS().Subscribe(subject, func(msg *nats.Msg) {
		if err := r.tp.Submit(relayTask{subject: msg.Subject, data: msg.Data}); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Unable to queue message from %s", msg.Subject,
			)
		}
	})
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Subscribe on %s failed", subject)
		return err
	}
	r.sub = sub
	log.WithFields(r.LogTags).Infof("Forwarding score pushes from %s", subject)
	return nil
}

// Stop drop the subscription and halt the workers
func (r *relayImpl) Stop(ctxt context.Context) error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(r.LogTags).Error("Unsubscribe failed")
		}
	}
	return r.tp.StopEventLoop()
}

// processTask decode and forward one queued message
func (r *relayImpl) processTask(taskParam interface{}) error {
	task, ok := taskParam.(relayTask)
	if !ok {
		return fmt.Errorf("received unexpected task type %s", reflect.TypeOf(taskParam))
	}
	if err := r.forward(task.subject, task.data); err != nil {
		// malformed pushes are logged and dropped, never fatal to the loop
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Dropping message from %s", task.subject,
		)
	}
	return nil
}

// forward validate one envelope and push it through the hub
func (r *relayImpl) forward(subject string, data []byte) error {
	var envelope ScoreEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}
	msgType, global, err := classifyPush(envelope.Type)
	if err != nil {
		return err
	}
	if global {
		r.params.Publisher.PublishAll(hub.ServerMessage{Type: msgType, Payload: envelope.Payload})
		return nil
	}
	topic, err := hub.ParseTopic(envelope.Topic)
	if err != nil {
		return fmt.Errorf("envelope for %s: %w", envelope.Type, err)
	}
	r.params.Publisher.Publish(topic, hub.ServerMessage{Type: msgType, Payload: envelope.Payload})
	return nil
}

// classifyPush map an envelope type onto a subscriber push kind. Game
// completions go to every connection; everything else is topic scoped.
func classifyPush(raw string) (hub.ServerMessageKind, bool, error) {
	switch kind := hub.ServerMessageKind(raw); kind {
	case hub.MsgGameCompleted:
		return kind, true, nil
	case hub.MsgScoreUpdate, hub.MsgPositionUpdate, hub.MsgRankChange,
		hub.MsgLeaderboardUpdate, hub.MsgDataDelayWarning:
		return kind, false, nil
	default:
		return "", false, fmt.Errorf("unsupported push type %q", raw)
	}
}
