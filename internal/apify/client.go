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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
	"github.com/apify/actors-mcp-server-go/pkg/httpclient"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.apify.com"

// maxWaitForFinishSecs is the longest wait window the API honors on a
// single request.
const maxWaitForFinishSecs = 60

// Client is a typed Apify platform API client. It is safe for concurrent
// use. WithToken returns a per-token view sharing the same transports and
// rate limiter, so the HTTP transport can serve many users off one Client.
type Client struct {
	baseURL string
	token   string
	logger  *slog.Logger

	// httpc serves ordinary requests; pollc serves long-poll requests
	// (waitForFinish), which hold response headers past normal timeouts.
	httpc *http.Client
	pollc *http.Client

	limiter *rate.Limiter
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Used by tests and by
// self-hosted platform deployments.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the standard request client. The long-poll
// client is left alone.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// NewClient creates a platform client authenticated with the given token.
// An empty token is allowed; unauthenticated requests reach only public
// endpoints (store search, public Actor metadata).
func NewClient(token string, opts ...Option) (*Client, error) {
	stdCfg := httpclient.DefaultConfig()
	httpc, err := httpclient.New(stdCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating api http client")
	}

	pollCfg := httpclient.DefaultConfig()
	pollCfg.Timeout = 2*maxWaitForFinishSecs*time.Second + 30*time.Second
	pollCfg.RetryAttempts = 0
	pollc, err := httpclient.New(pollCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating long-poll http client")
	}

	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		logger:  slog.Default(),
		httpc:   httpc,
		pollc:   pollc,
		// 10 req/s with burst of 20 keeps one server instance well under
		// the platform's per-token limits.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithToken returns a client that authenticates with the given token but
// shares this client's transports, limiter, and configuration.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// Token returns the token this client authenticates with.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the configured API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get performs a GET request and decodes the {"data": ...} envelope into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, c.httpc, http.MethodGet, path, query, nil, out)
}

// post performs a POST request with a JSON body and decodes the response
// envelope into out.
func (c *Client) post(ctx context.Context, path string, query url.Values, body any, out any) error {
	return c.do(ctx, c.httpc, http.MethodPost, path, query, body, out)
}

// getFull performs a GET request and decodes the whole response body into
// out, without unwrapping the data envelope. List endpoints keep paging
// metadata next to the items, so callers decode the full shape.
func (c *Client) getFull(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &errors.APIError{
			Message: fmt.Sprintf("request to %s failed: %v", path, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s response", path)
	}

	return nil
}

// do performs one API request. out may be nil to discard the body, a
// *json.RawMessage to capture the raw data envelope, or any JSON target.
func (c *Client) do(ctx context.Context, httpc *http.Client, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return &errors.APIError{
			Message: fmt.Sprintf("request to %s failed: %v", path, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}

	var envelope dataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == nil {
		// Some endpoints reply without the data wrapper.
		envelope.Data = raw
	}

	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = envelope.Data
		return nil
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrapf(err, "decoding %s response", path)
	}

	return nil
}

// decodeError turns a non-2xx response into an APIError carrying the
// platform's error type and message when present.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &errors.APIError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var envelope errorEnvelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Type
			apiErr.Message = envelope.Error.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.Suggestion = "Check that APIFY_TOKEN is set to a valid personal API token."
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Suggestion = "The platform rate limit was hit; retry after a short delay."
	}

	c.logger.Debug("api error response",
		"status", resp.StatusCode,
		"type", apiErr.Code,
		"message", apiErr.Message,
	)

	return apiErr
}
