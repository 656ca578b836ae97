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

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/metrics"
	"github.com/egdcrypto/ffl-livescore/poller"
)

// APIRestLiveScoreHandler REST handler for the live scoring ops API
type APIRestLiveScoreHandler struct {
	goutils.RestAPIHandler
	orchestrator poller.Orchestrator
	collector    *metrics.Collector
}

// GetAPIRestLiveScoreHandler define APIRestLiveScoreHandler
func GetAPIRestLiveScoreHandler(
	orchestrator poller.Orchestrator,
	collector *metrics.Collector,
	httpConfig *common.APIServerConfig,
) (APIRestLiveScoreHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "livescore-ops",
	}
	return APIRestLiveScoreHandler{
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
		}, orchestrator: orchestrator, collector: collector,
	}, nil
}

// =======================================================================
// Poll control

// -----------------------------------------------------------------------

// TriggerPoll godoc
// @Summary Trigger a poll cycle
// @Description Run one poll cycle now, outside the periodic cadence
// @tags Ops
// @Produce json
// @Param Livescore-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 409 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,409,500 {string} Livescore-Request-ID "Request ID to match against logs"
// @Router /v1/admin/poll [post]
func (h APIRestLiveScoreHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.orchestrator.TriggerPoll(r.Context()); err != nil {
		if err == poller.ErrPollInProgress {
			msg := "A poll cycle is already running"
			log.WithFields(localLogTags).Info(msg)
			respCode = http.StatusConflict
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusConflict, msg, err.Error())
			return
		}
		msg := "Failed to run poll cycle"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// TriggerPollHandler Wrapper around TriggerPoll
func (h APIRestLiveScoreHandler) TriggerPollHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.TriggerPoll(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespPollStatus response for the poll status query
type APIRestRespPollStatus struct {
	goutils.RestAPIBaseResponse
	// Status the current poll loop status
	Status poller.Status `json:"status"`
}

// GetPollStatus godoc
// @Summary Query the poll loop status
// @Description Query the current state of the periodic poll loop
// @tags Ops
// @Produce json
// @Param Livescore-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespPollStatus "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,500 {string} Livescore-Request-ID "Request ID to match against logs"
// @Router /v1/admin/poll/status [get]
func (h APIRestLiveScoreHandler) GetPollStatus(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespPollStatus{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Status: h.orchestrator.Status(),
	}

	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetPollStatusHandler Wrapper around GetPollStatus
func (h APIRestLiveScoreHandler) GetPollStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetPollStatus(w, r)
	}
}

// =======================================================================
// Metrics

// APIRestRespMetrics response for the metrics query
type APIRestRespMetrics struct {
	goutils.RestAPIBaseResponse
	// Metrics the current pipeline metrics snapshot
	Metrics metrics.Snapshot `json:"metrics"`
}

// GetMetrics godoc
// @Summary Query pipeline metrics
// @Description Read a snapshot of the live scoring pipeline metrics
// @tags Ops
// @Produce json
// @Param Livescore-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespMetrics "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,500 {string} Livescore-Request-ID "Request ID to match against logs"
// @Router /v1/admin/metrics [get]
func (h APIRestLiveScoreHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespMetrics{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Metrics: h.collector.ReadSnapshot(),
	}

	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetMetricsHandler Wrapper around GetMetrics
func (h APIRestLiveScoreHandler) GetMetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetMetrics(w, r)
	}
}

// =======================================================================
// Health checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary Liveness check
// @Description Will return success to indicate the REST API module is live
// @tags Ops
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestLiveScoreHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestLiveScoreHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary Readiness check
// @Description Will return success if the live scoring pipeline is ready for use
// @tags Ops
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestLiveScoreHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.orchestrator.Status().SourceAvailable {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, "stats provider unreachable",
		)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestLiveScoreHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// =======================================================================

// Write logging support
func (h APIRestLiveScoreHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}
