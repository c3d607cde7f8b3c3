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

// Package docs searches and fetches the Apify documentation.
//
// Search goes through the Algolia DocSearch application that powers
// docs.apify.com; the API key there is the public search-only key every
// site visitor receives. Fetch pulls a documentation page and strips it
// down to readable text.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
	"github.com/apify/actors-mcp-server-go/pkg/httpclient"
)

// Defaults point at the public DocSearch application of docs.apify.com.
const (
	DefaultAppID  = "N8EOCSBQGH"
	DefaultAPIKey = "e97714a64e2b4b8b8fe0b01cd8592870"
	DefaultIndex  = "test_test_apify_sdk"
)

const (
	// DefaultLimit is the number of results returned when the caller does
	// not ask for a specific count.
	DefaultLimit = 5

	// MaxLimit caps a single search. Algolia pages are cheap but the tool
	// output is model context.
	MaxLimit = 20

	// searchCacheSize bounds the per-searcher query cache.
	searchCacheSize = 500
)

// Result is one documentation search hit.
type Result struct {
	// URL is the documentation page (with fragment when the hit is a
	// section anchor).
	URL string `json:"url"`

	// Breadcrumb is the page hierarchy, outermost first.
	Breadcrumb string `json:"breadcrumb,omitempty"`

	// Content is the matched fragment text, when the index carries one.
	Content string `json:"content,omitempty"`
}

// SearcherConfig configures a documentation searcher. Zero values fall
// back to the public docs.apify.com application.
type SearcherConfig struct {
	AppID  string
	APIKey string
	Index  string

	// BaseURL overrides the Algolia endpoint. Tests point it at a local
	// server; empty means the appId-derived DSN host.
	BaseURL string

	Logger *slog.Logger
}

// Searcher runs documentation queries with a bounded response cache.
// Safe for concurrent use.
type Searcher struct {
	client *searchClient
	index  string
	cache  *lru.Cache[string, []Result]
	logger *slog.Logger
}

// NewSearcher creates a searcher for the configured application. Clients
// are pooled by appId, so many searchers share one transport.
func NewSearcher(cfg SearcherConfig) (*Searcher, error) {
	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
		if cfg.APIKey == "" {
			cfg.APIKey = DefaultAPIKey
		}
		if cfg.Index == "" {
			cfg.Index = DefaultIndex
		}
	}
	if cfg.Index == "" {
		return nil, errors.New("docs searcher requires an index name")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := pooledClient(cfg.AppID, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, []Result](searchCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating docs search cache")
	}

	return &Searcher{
		client: client,
		index:  cfg.Index,
		cache:  cache,
		logger: cfg.Logger,
	}, nil
}

// Search runs a full-text query and returns up to limit results, deduped
// by page URL. limit <= 0 means DefaultLimit.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &errors.ValidationError{Field: "query", Message: "query must not be empty"}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	cacheKey := s.index + "\x00" + query + "\x00" + strconv.Itoa(limit)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	// Request more hits than needed; DocSearch indexes several records
	// per page and dedupe by URL thins them out.
	hits, err := s.client.query(ctx, s.index, query, limit*3)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range hits {
		if hit.URL == "" {
			continue
		}
		if _, dup := seen[hit.URL]; dup {
			continue
		}
		seen[hit.URL] = struct{}{}
		results = append(results, Result{
			URL:        hit.URL,
			Breadcrumb: hit.breadcrumb(),
			Content:    hit.fragment(),
		})
		if len(results) == limit {
			break
		}
	}

	s.cache.Add(cacheKey, results)
	s.logger.Debug("docs search", "query", query, "hits", len(hits), "results", len(results))
	return results, nil
}

// Client pool, keyed by appId (and endpoint override, so tests do not
// collide with the production entry).
var (
	poolMu sync.Mutex
	pool   = make(map[string]*searchClient)
)

func pooledClient(appID, apiKey, baseURL string) (*searchClient, error) {
	poolMu.Lock()
	defer poolMu.Unlock()

	key := appID + "\x00" + baseURL
	if c, ok := pool[key]; ok {
		return c, nil
	}

	httpc, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "creating docs search http client")
	}

	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-dsn.algolia.net", strings.ToLower(appID))
	}

	c := &searchClient{
		appID:   appID,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
	pool[key] = c
	return c, nil
}

// searchClient speaks the Algolia single-index query REST endpoint.
type searchClient struct {
	appID   string
	apiKey  string
	baseURL string
	httpc   *http.Client
}

// algoliaHit is the slice of a DocSearch record the server cares about.
type algoliaHit struct {
	URL       string             `json:"url"`
	Hierarchy map[string]*string `json:"hierarchy"`
	Content   *string            `json:"content"`

	SnippetResult *struct {
		Content *struct {
			Value string `json:"value"`
		} `json:"content"`
	} `json:"_snippetResult"`
}

// breadcrumb joins the hierarchy levels, outermost first.
func (h *algoliaHit) breadcrumb() string {
	parts := make([]string, 0, 7)
	for lvl := 0; lvl <= 6; lvl++ {
		v := h.Hierarchy["lvl"+strconv.Itoa(lvl)]
		if v == nil || *v == "" {
			continue
		}
		parts = append(parts, *v)
	}
	return strings.Join(parts, " > ")
}

// fragment returns the matched text: full record content when present,
// otherwise the highlight snippet with Algolia's <mark> tags removed.
func (h *algoliaHit) fragment() string {
	if h.Content != nil && *h.Content != "" {
		return *h.Content
	}
	if h.SnippetResult != nil && h.SnippetResult.Content != nil {
		value := h.SnippetResult.Content.Value
		value = strings.ReplaceAll(value, "<mark>", "")
		value = strings.ReplaceAll(value, "</mark>", "")
		return value
	}
	return ""
}

func (c *searchClient) query(ctx context.Context, index, query string, hitsPerPage int) ([]algoliaHit, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("hitsPerPage", strconv.Itoa(hitsPerPage))
	params.Set("attributesToRetrieve", "url,hierarchy,content")
	params.Set("attributesToSnippet", "content:30")

	body, err := json.Marshal(map[string]string{"params": params.Encode()})
	if err != nil {
		return nil, errors.Wrap(err, "encoding algolia query")
	}

	endpoint := fmt.Sprintf("%s/1/indexes/%s/query", c.baseURL, url.PathEscape(index))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "creating algolia request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Algolia-Application-Id", c.appID)
	req.Header.Set("X-Algolia-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &errors.APIError{
			Message: fmt.Sprintf("documentation search request failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &errors.APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("documentation search failed: %s", strings.TrimSpace(string(msg))),
		}
	}

	var payload struct {
		Hits []algoliaHit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decoding algolia response")
	}
	return payload.Hits, nil
}
