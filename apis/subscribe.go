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

package apis

import (
	"net/http"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/gorilla/websocket"
)

// APIRestSubscribeHandler handler for the subscriber websocket endpoint
type APIRestSubscribeHandler struct {
	goutils.RestAPIHandler
	hub       hub.Hub
	hubConfig common.HubConfig
	upgrader  websocket.Upgrader
	wg        *sync.WaitGroup
}

// GetAPIRestSubscribeHandler define APIRestSubscribeHandler
func GetAPIRestSubscribeHandler(
	broadcastHub hub.Hub,
	hubConfig common.HubConfig,
	httpConfig *common.APIServerConfig,
	wg *sync.WaitGroup,
) (APIRestSubscribeHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "livescore-subscribe",
	}
	return APIRestSubscribeHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		hub:       broadcastHub,
		hubConfig: hubConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		wg: wg,
	}, nil
}

// Subscribe godoc
// @Summary Subscriber websocket endpoint
// @Description Upgrade to a websocket session for live score pushes. The
// session speaks the subscriber protocol: subscribe_league, subscribe_roster,
// unsubscribe_league, unsubscribe_roster, get_snapshot and ping actions.
// @tags Live
// @Success 101 {string} string "protocol switch"
// @Failure 400 {string} string "error"
// @Failure 503 {string} string "server overloaded"
// @Router /v1/live [get]
func (h APIRestSubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	session, err := hub.GetWebsocketSessionInstance(hub.WSSessionParams{
		Conn:             conn,
		Hub:              h.hub,
		SendBuffer:       h.hubConfig.SendBuffer,
		MaxMessageSize:   h.hubConfig.MaxMessageSize,
		InboundPerSecond: h.hubConfig.InboundRate.PerSecond,
		InboundBurst:     h.hubConfig.InboundRate.Burst,
	})
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define session")
		_ = conn.Close()
		return
	}

	if err := h.hub.Register(session); err != nil {
		log.WithError(err).WithFields(localLogTags).Warnf(
			"Turning away session %s", session.ID(),
		)
		session.CloseOverloaded()
		return
	}

	log.WithFields(localLogTags).Infof("Opened session %s", session.ID())
	session.Greet()
	session.Start(h.wg)
}

// SubscribeHandler Wrapper around Subscribe
func (h APIRestSubscribeHandler) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Subscribe(w, r)
	}
}

// Write logging support
func (h APIRestSubscribeHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}
