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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-token", WithBaseURL(server.URL))
	require.NoError(t, err)
	return client, server
}

func TestGetActor(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/acts/apify~rag-web-browser", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":       "abc123",
				"name":     "rag-web-browser",
				"username": "apify",
				"isPublic": true,
			},
		})
	}))

	actor, err := client.GetActor(context.Background(), "apify/rag-web-browser")
	require.NoError(t, err)
	require.Equal(t, "abc123", actor.ID)
	require.Equal(t, "apify/rag-web-browser", actor.FullName())
}

func TestGetActor_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "record-not-found",
				"message": "Actor was not found",
			},
		})
	}))

	_, err := client.GetActor(context.Background(), "nobody/nothing")
	require.Error(t, err)

	var notFound *errors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "actor", notFound.Resource)
}

func TestStartRun_QueryParams(t *testing.T) {
	var gotQuery string
	var gotBody map[string]any

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotQuery = r.URL.RawQuery
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":               "run-1",
				"status":           "RUNNING",
				"defaultDatasetId": "ds-1",
			},
		})
	}))

	run, err := client.StartRun(context.Background(), "apify/rag-web-browser",
		map[string]any{"query": "golang"},
		StartRunOptions{MemoryMbytes: 1024, TimeoutSecs: 300, WaitForFinishSecs: 120},
	)
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, RunStatusRunning, run.Status)

	require.Contains(t, gotQuery, "memory=1024")
	require.Contains(t, gotQuery, "timeout=300")
	// waitForFinish is capped at the API maximum
	require.Contains(t, gotQuery, "waitForFinish=60")
	require.Equal(t, "golang", gotBody["query"])
}

func TestAbortRun(t *testing.T) {
	var gotPath, gotQuery string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "run-1", "status": "ABORTING"},
		})
	}))

	run, err := client.AbortRun(context.Background(), "run-1", false)
	require.NoError(t, err)
	require.Equal(t, RunStatusAborting, run.Status)
	require.Equal(t, "/v2/actor-runs/run-1/abort", gotPath)
	require.Contains(t, gotQuery, "gracefully=false")
}

func TestGetDatasetItems_Pagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.RawQuery, "limit=2")
		w.Header().Set("X-Apify-Pagination-Total", "5")
		w.Header().Set("X-Apify-Pagination-Offset", "0")
		json.NewEncoder(w).Encode([]map[string]any{
			{"url": "https://a.example"},
			{"url": "https://b.example"},
		})
	}))

	page, err := client.GetDatasetItems(context.Background(), "ds-1", GetDatasetItemsOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, int64(5), page.Total)
	require.Equal(t, int64(2), page.Count)
}

func TestSearchStore(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/store", r.URL.Path)
		require.Contains(t, r.URL.RawQuery, "search=scraper")

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"total": 1,
				"items": []map[string]any{
					{"id": "a1", "name": "web-scraper", "username": "apify"},
				},
			},
		})
	}))

	actors, total, err := client.SearchStore(context.Background(), SearchStoreOptions{Search: "scraper", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, actors, 1)
	require.Equal(t, "apify/web-scraper", actors[0].FullName())
}

func TestGetActorDefinition_Caches(t *testing.T) {
	var hits int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":     "build-1",
				"status": "SUCCEEDED",
				"actorDefinition": map[string]any{
					"name":  "cache-probe",
					"input": map[string]any{"type": "object"},
				},
			},
		})
	}))

	// Unique key per test run; the cache is process-wide.
	key := t.Name() + "/cache-probe"

	def1, err := client.GetActorDefinition(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, def1)

	def2, err := client.GetActorDefinition(context.Background(), key)
	require.NoError(t, err)
	require.Same(t, def1, def2)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDecodeError_Envelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-9")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"type":    "invalid-input",
				"message": "Field startUrls is required",
			},
		})
	}))

	_, err := client.GetRun(context.Background(), "run-x")
	require.Error(t, err)

	var apiErr *errors.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "invalid-input", apiErr.Code)
	require.Equal(t, "Field startUrls is required", apiErr.Message)
	require.Equal(t, "req-9", apiErr.RequestID)
	require.True(t, apiErr.IsClientError())
}

func TestRunStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusReady, false},
		{RunStatusRunning, false},
		{RunStatusAborting, false},
		{RunStatusTimingOut, false},
		{RunStatusSucceeded, true},
		{RunStatusFailed, true},
		{RunStatusAborted, true},
		{RunStatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestWithToken_SharesTransport(t *testing.T) {
	client, err := NewClient("token-a")
	require.NoError(t, err)

	clone := client.WithToken("token-b")
	require.Equal(t, "token-b", clone.Token())
	require.Equal(t, "token-a", client.Token())
	require.Same(t, client.httpc, clone.httpc)
	require.Same(t, client.limiter, clone.limiter)
}
