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

package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

func TestStoreSearch(t *testing.T) {
	var gotQuery url.Values

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/store", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		writeData(w, map[string]any{
			"total": 2,
			"items": []map[string]any{
				{
					"id":          "a1",
					"name":        "web-scraper",
					"username":    "apify",
					"title":       "Web Scraper",
					"description": "Crawls arbitrary websites",
					"categories":  []string{"SCRAPERS"},
					"stats":       map[string]any{"totalRuns": 12000},
				},
				{"id": "a2", "name": "cheerio-scraper", "username": "apify"},
			},
		})
	})

	entry, err := Entry(catalog.StoreSearch, catalog.ModeDefault, newDeps(t, mux))
	require.NoError(t, err)

	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"search": "scraper",
		"limit":  float64(250),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Equal(t, "scraper", gotQuery.Get("search"))
	// Requested limit is clamped to the store maximum.
	require.Equal(t, "100", gotQuery.Get("limit"))

	var payload storeSearchPayload
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	require.Equal(t, int64(2), payload.Total)
	require.Equal(t, 2, payload.Count)
	require.Equal(t, "apify/web-scraper", payload.Actors[0].FullName)
	require.Equal(t, "Web Scraper", payload.Actors[0].Title)
	require.Equal(t, 12000, payload.Actors[0].Stats.TotalRuns)
	require.NotNil(t, result.Structured)
}

func TestStoreSearch_NoMatches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/store", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"total": 0, "items": []map[string]any{}})
	})

	entry, err := Entry(catalog.StoreSearch, catalog.ModeDefault, newDeps(t, mux))
	require.NoError(t, err)

	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"search": "definitely nothing sells this",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "No Actors matched")
}

func TestFetchActorDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/acts/apify~rag-web-browser", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, apify.Actor{
			ID:             "a-rag",
			Name:           "rag-web-browser",
			Username:       "apify",
			Title:          "RAG Web Browser",
			Description:    "Browses the web for LLM pipelines",
			DefaultRunOpts: &apify.ActorRunOption{MemoryMbytes: 4096, TimeoutSecs: 300},
		})
	})
	mux.HandleFunc("GET /v2/acts/apify~rag-web-browser/builds/default", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, apify.Build{
			ID:     "b1",
			Status: "SUCCEEDED",
			ActorDefinition: &apify.ActorDefinition{
				Input: json.RawMessage(`{
					"type": "object",
					"properties": {
						"query": {"type": "string", "description": "Search term"},
						"maxResults": {"type": "integer"},
						"proxyConfiguration": {"type": "object", "description": "Operator tuning"}
					},
					"required": ["query"]
				}`),
			},
		})
	})

	entry, err := Entry(catalog.FetchActorDetails, catalog.ModeDefault, newDeps(t, mux))
	require.NoError(t, err)

	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"actor": "apify/rag-web-browser",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload actorDetailsPayload
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	require.Equal(t, "apify/rag-web-browser", payload.Actor.FullName)
	require.Equal(t, "RAG Web Browser", payload.Actor.Title)
	require.Equal(t, 4096, payload.DefaultRunOptions.MemoryMbytes)
	require.Empty(t, payload.Note)

	schemaText := string(payload.InputSchema)
	require.Contains(t, schemaText, "**REQUIRED**")
	require.Contains(t, schemaText, "maxResults")
	// Whitelisted Actors expose only the properties models need.
	require.NotContains(t, schemaText, "proxyConfiguration")
}

func TestFetchActorDetails_DefinitionUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/acts/test~details-nodef", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, apify.Actor{ID: "a2", Name: "details-nodef", Username: "test"})
	})
	mux.HandleFunc("GET /v2/acts/test~details-nodef/builds/default", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusInternalServerError, "internal-error", "builds are on fire")
	})

	entry, err := Entry(catalog.FetchActorDetails, catalog.ModeDefault, newDeps(t, mux))
	require.NoError(t, err)

	// The Actor itself still renders; the schema is replaced by a note.
	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"actor": "test/details-nodef",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload actorDetailsPayload
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	require.Equal(t, "test/details-nodef", payload.Actor.FullName)
	require.NotEmpty(t, payload.Note)
	require.Empty(t, payload.InputSchema)
}

func TestFetchActorDetails_ActorNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/acts/nobody~nothing", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "record-not-found", "Actor was not found")
	})

	entry, err := Entry(catalog.FetchActorDetails, catalog.ModeDefault, newDeps(t, mux))
	require.NoError(t, err)

	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"actor": "nobody/nothing",
	}))
	require.Nil(t, result)

	var notFound *errors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "actor", notFound.Resource)
}
