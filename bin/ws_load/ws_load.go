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

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/egdcrypto/ffl-livescore/hub"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
)

type cmdArgs struct {
	TargetURL string `json:"target_url" validate:"required,uri"`
	Sessions  int    `json:"sessions" validate:"required,gte=1"`
	LeagueID  string `json:"league_id" validate:"required"`
	Duration  time.Duration
	JSONLog   bool
	LogLevel  string `validate:"required,oneof=debug info warn error"`
}

var args cmdArgs

// loadCounters aggregate counters shared by all soak sessions
type loadCounters struct {
	connected  atomic.Int64
	rejected   atomic.Int64
	scoreMsgs  atomic.Int64
	otherMsgs  atomic.Int64
	readErrors atomic.Int64
}

func main() {
	app := &cli.App{
		Usage:       "websocket subscriber soak client",
		Description: "Opens concurrent subscriber sessions against a live scoring server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "target-url",
				Usage:       "Subscriber websocket endpoint",
				Aliases:     []string{"t"},
				EnvVars:     []string{"TARGET_URL"},
				Value:       "ws://localhost:3000/v1/live",
				DefaultText: "ws://localhost:3000/v1/live",
				Destination: &args.TargetURL,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "sessions",
				Usage:       "Number of concurrent subscriber sessions",
				Aliases:     []string{"n"},
				EnvVars:     []string{"SESSIONS"},
				Value:       100,
				DefaultText: "100",
				Destination: &args.Sessions,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "league-id",
				Usage:       "League each session subscribes to",
				Aliases:     []string{"g"},
				EnvVars:     []string{"LEAGUE_ID"},
				Value:       "league-01",
				DefaultText: "league-01",
				Destination: &args.LeagueID,
				Required:    false,
			},
			&cli.DurationFlag{
				Name:        "duration",
				Usage:       "How long to hold the sessions open",
				Aliases:     []string{"d"},
				EnvVars:     []string{"DURATION"},
				Value:       time.Minute,
				DefaultText: "1m",
				Destination: &args.Duration,
				Required:    false,
			},
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &args.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &args.LogLevel,
				Required:    false,
			},
		},
		Action: runLoad,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Fatal("Program shutdown")
	}
}

func runLoad(c *cli.Context) error {
	// Double check the input
	{
		validate := validator.New()
		if err := validate.Struct(&args); err != nil {
			return err
		}
	}

	// Prepare the logging
	if args.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch args.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}

	{
		tmp, _ := json.Marshal(&args)
		log.Debugf("Starting params %s", tmp)
	}

	runContext, cancel := context.WithTimeout(context.Background(), args.Duration)
	defer cancel()

	cc := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(cc, os.Interrupt)
	go func() {
		select {
		case <-cc:
			cancel()
		case <-runContext.Done():
		}
	}()

	counters := &loadCounters{}
	wg := sync.WaitGroup{}
	for i := 0; i < args.Sessions; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			runSession(runContext, idx, counters)
		}(i)
		// Stagger the dials so the server admission path is not hammered
		// by one synchronized burst.
		time.Sleep(time.Millisecond * 5)
	}
	wg.Wait()

	log.Warnf(
		"Soak complete: connected %d, rejected %d, score messages %d, other messages %d, read errors %d",
		counters.connected.Load(),
		counters.rejected.Load(),
		counters.scoreMsgs.Load(),
		counters.otherMsgs.Load(),
		counters.readErrors.Load(),
	)
	return nil
}

// runSession dial one subscriber session, subscribe to the league, and count
// what arrives until the run context ends
func runSession(ctxt context.Context, idx int, counters *loadCounters) {
	logTags := log.Fields{
		"module": "ws_load", "component": "session", "session": idx,
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctxt, args.TargetURL, nil)
	if err != nil {
		counters.rejected.Add(1)
		log.WithError(err).WithFields(logTags).Debug("Dial failed")
		return
	}
	defer func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}()
	counters.connected.Add(1)

	subscribe := hub.ClientAction{
		Action: hub.ActionSubscribeLeague, LeagueID: args.LeagueID,
	}
	msg, err := json.Marshal(&subscribe)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal subscribe")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		counters.readErrors.Add(1)
		log.WithError(err).WithFields(logTags).Debug("Subscribe write failed")
		return
	}

	go func() {
		<-ctxt.Done()
		// Unblocks the read loop
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctxt.Err() == nil {
				counters.readErrors.Add(1)
				log.WithError(err).WithFields(logTags).Debug("Read failed")
			}
			return
		}
		var serverMsg hub.ServerMessage
		if err := json.Unmarshal(raw, &serverMsg); err != nil {
			counters.readErrors.Add(1)
			continue
		}
		switch serverMsg.Type {
		case hub.MsgScoreUpdate:
			counters.scoreMsgs.Add(1)
		default:
			counters.otherMsgs.Add(1)
		}
	}
}
