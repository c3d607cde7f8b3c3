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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

const sessionIDHeader = "Mcp-Session-Id"

// HTTPHandler serves the remote transports: streamable HTTP on /mcp
// (with the tasks extension), legacy SSE on /sse and /message (without
// it), plus /healthz and, when telemetry is on, /metrics.
func (s *Server) HTTPHandler() http.Handler {
	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return s.httpRequestContext(ctx, r, "http")
		}),
	)
	sse := server.NewSSEServer(s.mcp,
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return s.httpRequestContext(ctx, r, "sse")
		}),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.requireAuth(s.shimStreamable(streamable)))
	mux.Handle("/sse", s.requireAuth(sse))
	mux.Handle("/message", s.requireAuth(sse))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.cfg.Telemetry != nil {
		mux.Handle("/metrics", s.cfg.Telemetry.MetricsHandler())
	}
	return mux
}

// shimStreamable intercepts the frames the shim owns before they reach
// mcp-go. Anything it does not handle is replayed to the wrapped
// handler with the body restored.
func (s *Server) shimStreamable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		// Frames before the session exists (initialize) always belong
		// to mcp-go.
		sessionID := r.Header.Get(sessionIDHeader)
		state, ok := s.state(sessionID)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := s.httpRequestContext(r.Context(), r, "http")
		ctx = s.mcp.WithContext(ctx, state.session)
		response, handled := s.interceptMessage(ctx, state, body)
		if !handled {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(sessionIDHeader, sessionID)
		if response == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(response)
	})
}

// requireAuth rejects protocol requests that carry no Apify token when
// the server has none of its own, unless unauthenticated mode is on.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowUnauthenticated || s.cfg.APIToken != "" || requestToken(r) != "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "Authentication required. Pass an Apify API token in the Authorization header (Bearer <token>) or the token query parameter.",
		})
	})
}

// httpRequestContext carries the request's tool selection and token
// into the handler chain. A present-but-empty query parameter selects
// nothing, which is different from an absent one that keeps the server
// defaults.
func (s *Server) httpRequestContext(ctx context.Context, r *http.Request, transport string) context.Context {
	query := r.URL.Query()

	opts := loadOptions{Transport: transport}
	if query.Has("tools") {
		opts.Tools = splitList(query["tools"])
	}
	if query.Has("actors") {
		opts.Actors = splitList(query["actors"])
	}
	for _, key := range []string{"enable-adding-actors", "enableAddingActors"} {
		if query.Has(key) {
			enabled := flagValue(query.Get(key))
			opts.EnableAddingActors = &enabled
			break
		}
	}
	token := requestToken(r)
	opts.Token = token

	ctx = withLoadOptions(ctx, opts)
	return withRequestToken(ctx, token)
}

// requestToken extracts the Apify token of one request: Authorization
// header first, token query parameter second.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return strings.TrimSpace(auth)
	}
	return r.URL.Query().Get("token")
}

// splitList flattens repeated and comma-separated parameter values into
// one list. The result is never nil so emptiness survives as a signal.
func splitList(values []string) []string {
	out := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// flagValue reads a boolean query value; a bare parameter counts as
// true.
func flagValue(v string) bool {
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
