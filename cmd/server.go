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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/apis"
	"github.com/egdcrypto/ffl-livescore/common"
	"github.com/egdcrypto/ffl-livescore/core"
	"github.com/egdcrypto/ffl-livescore/fetcher"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/egdcrypto/ffl-livescore/metrics"
	"github.com/egdcrypto/ffl-livescore/poller"
	"github.com/egdcrypto/ffl-livescore/ratelimit"
	"github.com/egdcrypto/ffl-livescore/relay"
	"github.com/egdcrypto/ffl-livescore/scoring"
	"github.com/egdcrypto/ffl-livescore/stats"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunServer run the live scoring server
func RunServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	relayClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid server config")
		return err
	}

	collector := metrics.NewCollector()

	// -------------------------------------------------------------------
	// Outbound pipeline: bucket, backoff, fetcher

	tier := config.Polling.SelectedTier()
	bucket, err := ratelimit.GetTokenBucketInstance(
		instance,
		tier.BucketCapacity,
		tier.RefillTokens,
		time.Second*time.Duration(tier.RefillPeriod),
		nil,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define token bucket")
		return err
	}

	policy, err := ratelimit.GetBackoffPolicyInstance(
		instance, ratelimit.BackoffParams{
			Initial:                     time.Millisecond * time.Duration(config.Polling.Backoff.InitialMS),
			Max:                         time.Millisecond * time.Duration(config.Polling.Backoff.MaxMS),
			Multiplier:                  config.Polling.Backoff.Multiplier,
			PermanentReductionThreshold: config.Polling.Backoff.PermanentReductionThreshold,
			PermanentReductionPercent:   config.Polling.Backoff.PermanentReductionPercent,
			CapacityRestoreAfter:        time.Second * time.Duration(config.Polling.Backoff.CapacityRestoreAfter),
		}, bucket, nil,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define backoff policy")
		return err
	}

	source, err := stats.GetHTTPSourceInstance(stats.HTTPSourceParams{
		BaseURI: config.Polling.Source.BaseURI,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define stats source")
		return err
	}

	statsFetcher, err := fetcher.GetRateLimitedFetcherInstance(fetcher.FetcherParams{
		Source:                source,
		Bucket:                bucket,
		Policy:                policy,
		Metrics:               collector,
		FetchTimeout:          time.Second * time.Duration(config.Polling.FetchTimeout),
		FreshTTL:              time.Second * time.Duration(config.Polling.Cache.FreshTTL),
		StaleTTL:              time.Second * time.Duration(config.Polling.Cache.StaleTTL),
		AlertThresholdPercent: config.Polling.RateLimit.AlertThresholdPercent,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define fetcher")
		return err
	}

	// -------------------------------------------------------------------
	// Broadcast hub and idle sweep

	broadcastHub, err := hub.GetHubInstance(hub.HubParams{
		MaxConnections:   config.Hub.MaxConnections,
		WarningThreshold: config.Hub.WarningThreshold,
		ThrottleWindow:   time.Millisecond * time.Duration(config.Hub.ThrottleWindowMS),
		IdleTimeout:      time.Second * time.Duration(config.Hub.IdleTimeout),
		Metrics:          collector,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast hub")
		return err
	}

	sweepTimer, err := common.GetIntervalTimerInstance("idle-sweep", runtimeContext, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define idle sweep timer")
		return err
	}
	if err := sweepTimer.Start(
		time.Second*time.Duration(config.Hub.SweepInterval), broadcastHub.RunIdleSweep,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start idle sweep")
		return err
	}

	// -------------------------------------------------------------------
	// Poll orchestrator

	groups, err := scoring.GetStaticGroupListerInstance(config.Polling.Groups)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define group lister")
		return err
	}
	computer, err := scoring.GetStandardComputerInstance(broadcastHub)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define score computer")
		return err
	}

	orchestrator, err := poller.GetOrchestratorInstance(poller.OrchestratorParams{
		Fetcher:               statsFetcher,
		Groups:                groups,
		Computer:              computer,
		Publisher:             broadcastHub,
		Policy:                policy,
		Enabled:               config.Polling.Enabled,
		Interval:              time.Second * time.Duration(config.Polling.Interval),
		BackpressureThreshold: time.Millisecond * time.Duration(config.Polling.BackpressureThresholdMS),
		Season:                config.Polling.Season,
		WeekOf:                poller.WeekFromSchedule(config.Polling.Season),
		RootContext:           runtimeContext,
		WG:                    wg,
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define orchestrator")
		return err
	}
	if err := orchestrator.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start poll loop")
		return err
	}
	defer func() {
		if err := orchestrator.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Poll loop did not stop cleanly")
		}
	}()

	// -------------------------------------------------------------------
	// Optional NATS score relay

	if config.Relay != nil && relayClient != nil {
		scoreRelay, err := relay.GetRelayInstance(relay.RelayParams{
			Client:        *relayClient,
			SubjectPrefix: config.Relay.SubjectPrefix,
			Publisher:     broadcastHub,
			Workers:       config.Relay.Workers,
			TaskBuffer:    config.Relay.TaskBuffer,
		})
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define score relay")
			return err
		}
		if err := scoreRelay.Start(wg); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start score relay")
			return err
		}
		defer func() {
			if err := scoreRelay.Stop(runtimeContext); err != nil {
				log.WithError(err).WithFields(logTags).Error("Score relay did not stop cleanly")
			}
		}()
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	opsHandler, err := apis.GetAPIRestLiveScoreHandler(orchestrator, collector, &config.API)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define ops HTTP handler")
		return err
	}
	subscribeHandler, err := apis.GetAPIRestSubscribeHandler(
		broadcastHub, config.Hub, &config.API, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscribe HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.PathPrefix, nil)

	// Poll control routes
	pollAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/admin/poll", map[string]http.HandlerFunc{
			"post": opsHandler.LoggingMiddleware(opsHandler.TriggerPollHandler()),
		},
	)
	_ = apis.RegisterPathPrefix(pollAPIRouter, "/status", map[string]http.HandlerFunc{
		"get": opsHandler.LoggingMiddleware(opsHandler.GetPollStatusHandler()),
	})

	// Metrics route
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/admin/metrics", map[string]http.HandlerFunc{
		"get": opsHandler.LoggingMiddleware(opsHandler.GetMetricsHandler()),
	})

	// Subscriber websocket route. Not wrapped by the logging middleware as
	// the connection is hijacked on upgrade.
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/live", map[string]http.HandlerFunc{
		"get": subscribeHandler.SubscribeHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": opsHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": opsHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(opsHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.Server.ListenOn, config.API.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.API.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.API.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.API.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
