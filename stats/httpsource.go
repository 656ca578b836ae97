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

package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/egdcrypto/ffl-livescore/common"
)

// rate limit headers surfaced for observability
var rateLimitHeaders = []string{
	"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
}

// HTTPSourceParams parameters for an HTTP backed stats provider client
type HTTPSourceParams struct {
	// BaseURI provider API root
	BaseURI string `validate:"required,uri"`
	// Client HTTP client, defaults to http.DefaultClient
	Client *http.Client
}

// httpSourceImpl implements Source over the provider's JSON REST API
type httpSourceImpl struct {
	common.Component
	baseURI string
	client  *http.Client
}

// GetHTTPSourceInstance create new HTTP backed stats provider client
func GetHTTPSourceInstance(params HTTPSourceParams) (Source, error) {
	logTags := log.Fields{
		"module": "stats", "component": "http-source", "instance": params.BaseURI,
	}
	if params.Client == nil {
		params.Client = http.DefaultClient
	}
	return &httpSourceImpl{
		Component: common.Component{LogTags: logTags},
		baseURI:   strings.TrimRight(params.BaseURI, "/"),
		client:    params.Client,
	}, nil
}

// FetchWeekStats fetch all player stat lines for a week of a season
func (s *httpSourceImpl) FetchWeekStats(
	ctxt context.Context, week int, season int,
) ([]PlayerStat, error) {
	target := fmt.Sprintf(
		"%s/v1/stats?%s", s.baseURI, url.Values{
			"week":   []string{strconv.Itoa(week)},
			"season": []string{strconv.Itoa(season)},
		}.Encode(),
	)
	var result []PlayerStat
	if err := s.getJSON(ctxt, target, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// FetchGameStatus fetch the status of a single game
func (s *httpSourceImpl) FetchGameStatus(
	ctxt context.Context, gameID string,
) (GameStatus, error) {
	target := fmt.Sprintf("%s/v1/games/%s", s.baseURI, url.PathEscape(gameID))
	var result GameStatus
	if err := s.getJSON(ctxt, target, &result); err != nil {
		return GameStatus{}, err
	}
	return result, nil
}

// getJSON perform one GET, translating provider throttling into RateLimitError
func (s *httpSourceImpl) getJSON(ctxt context.Context, target string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Response close failed")
		}
	}()
	if resp.StatusCode == http.StatusTooManyRequests {
		return readRateLimitSignal(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// readRateLimitSignal build a RateLimitError from a 429 response
func readRateLimitSignal(resp *http.Response) error {
	headers := make(map[string]string)
	for _, name := range rateLimitHeaders {
		if value := resp.Header.Get(name); value != "" {
			headers[name] = value
		}
	}
	retryAfter := time.Duration(0)
	if hint := resp.Header.Get("Retry-After"); hint != "" {
		if seconds, err := strconv.Atoi(hint); err == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	return &RateLimitError{RetryAfter: retryAfter, Headers: headers}
}
