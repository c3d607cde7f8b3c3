// Copyright 2025 Apify Technologies s.r.o.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// StartRun starts an Actor run with the given input. The input is sent as
// the JSON body; run options travel as query parameters.
func (c *Client) StartRun(ctx context.Context, actorID string, input any, opts StartRunOptions) (*Run, error) {
	query := url.Values{}
	if opts.Build != "" {
		query.Set("build", opts.Build)
	}
	if opts.MemoryMbytes > 0 {
		query.Set("memory", strconv.Itoa(opts.MemoryMbytes))
	}
	if opts.TimeoutSecs > 0 {
		query.Set("timeout", strconv.Itoa(opts.TimeoutSecs))
	}
	if opts.WaitForFinishSecs > 0 {
		wait := opts.WaitForFinishSecs
		if wait > maxWaitForFinishSecs {
			wait = maxWaitForFinishSecs
		}
		query.Set("waitForFinish", strconv.Itoa(wait))
	}
	if opts.MaxTotalChargeUSD > 0 {
		query.Set("maxTotalChargeUsd", strconv.FormatFloat(opts.MaxTotalChargeUSD, 'f', -1, 64))
	}

	var run Run
	err := c.post(ctx, "/v2/acts/"+actorPath(actorID)+"/runs", query, input, &run)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, &errors.NotFoundError{Resource: "actor", ID: actorID}
		}
		return nil, errors.Wrapf(err, "starting run of %s", actorID)
	}
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := c.get(ctx, "/v2/actor-runs/"+url.PathEscape(runID), nil, &run)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, &errors.NotFoundError{Resource: "run", ID: runID}
		}
		return nil, err
	}
	return &run, nil
}

// WaitForFinish long-polls a run. The API holds the response until the run
// reaches a terminal state or the window (capped at 60s) elapses; callers
// loop until Run.Status.IsTerminal().
func (c *Client) WaitForFinish(ctx context.Context, runID string, waitSecs int) (*Run, error) {
	if waitSecs <= 0 || waitSecs > maxWaitForFinishSecs {
		waitSecs = maxWaitForFinishSecs
	}

	query := url.Values{}
	query.Set("waitForFinish", strconv.Itoa(waitSecs))

	var run Run
	err := c.do(ctx, c.pollc, http.MethodGet, "/v2/actor-runs/"+url.PathEscape(runID), query, nil, &run)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// AbortRun aborts a run. With gracefully=false the run is killed
// immediately; with true the Actor gets 30 seconds to shut down.
func (c *Client) AbortRun(ctx context.Context, runID string, gracefully bool) (*Run, error) {
	query := url.Values{}
	query.Set("gracefully", strconv.FormatBool(gracefully))

	var run Run
	err := c.post(ctx, "/v2/actor-runs/"+url.PathEscape(runID)+"/abort", query, nil, &run)
	if err != nil {
		return nil, errors.Wrapf(err, "aborting run %s", runID)
	}
	return &run, nil
}

// GetRunLog fetches the tail of a run's log, capped at maxBytes (0 means
// the platform default). Logs are plain text.
func (c *Client) GetRunLog(ctx context.Context, runID string, maxBytes int64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqURL := c.baseURL + "/v2/actor-runs/" + url.PathEscape(runID) + "/log?stream=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &errors.APIError{
			Message: fmt.Sprintf("fetching log of run %s failed: %v", runID, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.decodeError(resp)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Wrap(err, "reading run log")
	}

	return string(data), nil
}
