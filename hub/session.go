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
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// writeWait max duration for one outbound frame write
	writeWait = 10 * time.Second
	// pongWait read deadline; refreshed on any pong or inbound frame
	pongWait = 60 * time.Second
	// pingPeriod keep-alive ping cadence, must stay under pongWait
	pingPeriod = 54 * time.Second
)

// WSSessionParams dependencies and tunables for one websocket session
type WSSessionParams struct {
	// Conn the upgraded websocket connection
	Conn *websocket.Conn `validate:"required"`
	// Hub the broadcast hub owning this session
	Hub Hub `validate:"required"`
	// SendBuffer outbound message buffer size
	SendBuffer int `validate:"required,gte=1"`
	// MaxMessageSize inbound message size limit in bytes
	MaxMessageSize int64 `validate:"required,gte=64"`
	// InboundPerSecond sustained inbound message rate
	InboundPerSecond float64 `validate:"required,gt=0"`
	// InboundBurst inbound message burst size
	InboundBurst int `validate:"required,gte=1"`
}

// WSSession websocket backed subscriber session
type WSSession struct {
	common.Component
	id      string
	conn    *websocket.Conn
	hub     Hub
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	closed  atomic.Bool
	once    sync.Once
}

// GetWebsocketSessionInstance create new websocket session around an
// upgraded connection. The session is inert until Start is called.
func GetWebsocketSessionInstance(params WSSessionParams) (*WSSession, error) {
	id := uuid.New().String()
	logTags := log.Fields{
		"module": "hub", "component": "ws-session", "instance": id,
	}
	params.Conn.SetReadLimit(params.MaxMessageSize)
	return &WSSession{
		Component: common.Component{LogTags: logTags},
		id:        id,
		conn:      params.Conn,
		hub:       params.Hub,
		send:      make(chan []byte, params.SendBuffer),
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(rate.Limit(params.InboundPerSecond), params.InboundBurst),
	}, nil
}

// ID unique session identifier
func (s *WSSession) ID() string {
	return s.id
}

// Pending outbound messages currently buffered
func (s *WSSession) Pending() int {
	return len(s.send)
}

// Send enqueue a payload for delivery without blocking
func (s *WSSession) Send(payload []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session %s is closed", s.id)
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

// Close send a close notice and tear the connection down
func (s *WSSession) Close(reason string) {
	s.teardown(websocket.CloseNormalClosure, reason)
}

// CloseOverloaded reject the connection with an overload notice. Used when
// hub admission fails; the session was never registered.
func (s *WSSession) CloseOverloaded() {
	s.teardown(websocket.CloseTryAgainLater, "server overloaded")
}

// teardown close the transport exactly once
func (s *WSSession) teardown(closeCode int, reason string) {
	s.once.Do(func() {
		s.closed.Store(true)
		if reason != "" {
			deadline := time.Now().Add(writeWait)
			if err := s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, reason),
				deadline,
			); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Close notice failed")
			}
		}
		close(s.done)
		if err := s.conn.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Transport close failed")
		}
	})
}

// Start launch the read and write pumps
func (s *WSSession) Start(wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readPump()
	}()
	go func() {
		defer wg.Done()
		s.writePump()
	}()
}

// reply enqueue a direct reply to this session
func (s *WSSession) reply(msg ServerMessage) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Failed to marshal reply")
		return
	}
	if err := s.Send(payload); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Failed to enqueue reply")
	}
}

// Greet send the connected greeting
func (s *WSSession) Greet() {
	s.reply(ServerMessage{Type: MsgConnected, SessionID: s.id})
}

// ----------------------------------------------------------------------------------------
// Read side

// readPump drain inbound messages until the connection dies
func (s *WSSession) readPump() {
	defer func() {
		s.hub.Disconnect(s.id)
		s.teardown(websocket.CloseNormalClosure, "")
	}()
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.hub.Touch(s.id)
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(s.LogTags).Debug("Read pump terminating")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.hub.Touch(s.id)
		if !s.limiter.Allow() {
			// shed, do not disconnect; the sender may slow down
			s.reply(ServerMessage{Type: MsgError, Error: "message rate limit exceeded"})
			continue
		}
		s.handleInbound(raw)
	}
}

// handleInbound dispatch one decoded client action
func (s *WSSession) handleInbound(raw []byte) {
	action, err := ParseClientAction(raw)
	if err != nil {
		// malformed input is answered, never fatal
		s.reply(ServerMessage{Type: MsgError, Error: err.Error()})
		return
	}
	switch action.Action {
	case ActionSubscribeLeague, ActionSubscribeRoster:
		topic := action.SubscriptionTopic()
		s.hub.Subscribe(s.id, topic)
		s.reply(ServerMessage{Type: MsgSubscribed, Topic: topic})
	case ActionUnsubscribeLeague, ActionUnsubscribeRoster:
		topic := action.SubscriptionTopic()
		s.hub.Unsubscribe(s.id, topic)
		s.reply(ServerMessage{Type: MsgUnsubscribed, Topic: topic})
	case ActionGetSnapshot:
		topic, _ := ParseTopic(action.Topic)
		if latest, ok := s.hub.LatestSnapshot(topic); ok {
			s.reply(ServerMessage{Type: MsgSnapshot, Topic: topic, Payload: latest})
		} else {
			s.reply(ServerMessage{Type: MsgSnapshot, Topic: topic})
		}
	case ActionPing:
		s.reply(ServerMessage{Type: MsgPong})
	}
}

// ----------------------------------------------------------------------------------------
// Write side

// writePump push buffered payloads and keep-alive pings to the peer
func (s *WSSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.teardown(websocket.CloseNormalClosure, "")
	}()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Write pump terminating")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).WithFields(s.LogTags).Debug("Keep-alive failed")
				return
			}
		}
	}
}
