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

// Package server binds the tool registry, dispatcher, and task store to
// the MCP wire protocol. It wraps mark3labs/mcp-go for framing and
// session management and adds what mcp-go does not carry: the tasks
// extension (task-augmented tools/call and the tasks/* requests), the
// registry projection for tools/list, per-session tool loading on
// initialize, and a logging proxy filtered by the session's log level.
//
// Three transports are served: stdio for local embedding, streamable
// HTTP for remote clients, and legacy SSE for compatibility. The tasks
// extension is available on stdio and streamable HTTP; SSE sessions get
// plain synchronous calls only.
package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/docs"
	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/taskstore"
	"github.com/apify/actors-mcp-server-go/internal/telemetry"
	"github.com/apify/actors-mcp-server-go/internal/tools/actorproxy"
	"github.com/apify/actors-mcp-server-go/internal/tools/builtin"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/internal/widgets"
)

// DefaultName is the server name announced during initialize.
const DefaultName = "actors-mcp-server"

const instructions = "This server exposes the Apify platform: search the Actor Store " +
	"with store-search, inspect an Actor's input schema with fetch-actor-details, run " +
	"it with call-actor or its dedicated tool, and read results with get-actor-output. " +
	"Long runs accept task augmentation; poll tasks/get and fetch the result with " +
	"tasks/get-payload."

// Config assembles a Server.
type Config struct {
	// Name and Version identify the server to clients. Empty values
	// fall back to DefaultName and "dev".
	Name    string
	Version string

	// APIToken is the server-level Apify token. HTTP sessions may carry
	// their own token per request, which wins over this one.
	APIToken string

	// APIBaseURL overrides the platform endpoint. Tests point it at a
	// local server; empty means the public API.
	APIBaseURL string

	// Mode selects the tool variants. Empty means default mode.
	Mode catalog.Mode

	// Tools and Actors are the startup selectors. Nil keeps the
	// defaults; empty non-nil selects nothing.
	Tools  []string
	Actors []string

	// EnableAddingActors exposes add-actor and remove-actor and lets
	// sessions mutate their tool set.
	EnableAddingActors bool

	// SkyfireMode requires payment tokens on Actor-running tools and
	// disables Actorized MCP servers.
	SkyfireMode bool

	// AllowUnauthenticated admits HTTP sessions without any token. The
	// documentation tools work; platform tools fail per call with
	// guidance.
	AllowUnauthenticated bool

	// Store backs the tasks extension. Nil disables tasks entirely; the
	// capability is then not advertised.
	Store taskstore.Store

	// Telemetry may be nil; nothing is emitted then.
	Telemetry *telemetry.Provider

	// WidgetsDir optionally overrides the embedded widget templates.
	WidgetsDir string

	// SyncTimeout bounds synchronous tool calls. Zero keeps the
	// dispatcher default.
	SyncTimeout time.Duration

	Logger *slog.Logger
}

// Server is one configured MCP server serving any number of concurrent
// sessions across its transports.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mcp     *server.MCPServer
	deps    *builtin.Deps
	client  *apify.Client
	proxy   *actorproxy.Loader
	store   taskstore.Store
	widgets *widgets.Library

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// New builds the server and its backends. The returned server owns no
// goroutines yet; transports are started by ServeStdio or HTTPHandler
// and the widget watcher by WatchWidgets.
func New(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Mode == "" {
		cfg.Mode = catalog.ModeDefault
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var clientOpts []apify.Option
	if cfg.APIBaseURL != "" {
		clientOpts = append(clientOpts, apify.WithBaseURL(cfg.APIBaseURL))
	}
	client, err := apify.NewClient(cfg.APIToken, clientOpts...)
	if err != nil {
		return nil, err
	}
	searcher, err := docs.NewSearcher(docs.SearcherConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	fetcher, err := docs.NewFetcher(docs.FetcherConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	library, err := widgets.New(cfg.WidgetsDir, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		client: client,
		store:  cfg.Store,
		deps: &builtin.Deps{
			Client: client,
			Engine: execute.NewEngine(cfg.Telemetry, cfg.Logger),
			Search: searcher,
			Pages:  fetcher,
			Logger: cfg.Logger,
		},
		proxy: &actorproxy.Loader{
			ClientName:    cfg.Name,
			ClientVersion: cfg.Version,
			Logger:        cfg.Logger,
		},
		widgets:  library,
		sessions: make(map[string]*sessionState),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegisterSession)
	hooks.AddOnUnregisterSession(s.onUnregisterSession)
	hooks.AddAfterInitialize(s.afterInitialize)
	hooks.AddAfterListTools(s.afterListTools)

	s.mcp = server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(false),
		server.WithLogging(),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
	)

	if cfg.Mode == catalog.ModeOpenAI {
		s.registerWidgetResources()
	}
	return s, nil
}

// Close tears down every live session. Transports and the task store
// are owned by the caller.
func (s *Server) Close() {
	s.mu.Lock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, state := range s.sessions {
		states = append(states, state)
	}
	s.sessions = make(map[string]*sessionState)
	s.mu.Unlock()

	for _, state := range states {
		state.close()
	}
}

// onRegisterSession builds the per-session state. The context carries
// the session's load options when the transport provided any.
func (s *Server) onRegisterSession(ctx context.Context, session server.ClientSession) {
	state := s.newSessionState(ctx, session)

	s.mu.Lock()
	s.sessions[session.SessionID()] = state
	s.mu.Unlock()
}

func (s *Server) onUnregisterSession(_ context.Context, session server.ClientSession) {
	s.mu.Lock()
	state, ok := s.sessions[session.SessionID()]
	delete(s.sessions, session.SessionID())
	s.mu.Unlock()

	if ok {
		state.close()
	}
}

// state returns the session state for id, if the session is live.
func (s *Server) state(id string) (*sessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	return state, ok
}

// stateFromContext resolves the session state for the request context.
func (s *Server) stateFromContext(ctx context.Context) (*sessionState, bool) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return nil, false
	}
	return s.state(session.SessionID())
}

// afterInitialize finishes session setup: it records the client identity
// for telemetry, advertises the tasks extension, and loads the session's
// tools so they are callable before the client's first tools/list.
func (s *Server) afterInitialize(ctx context.Context, _ any, message *mcp.InitializeRequest, result *mcp.InitializeResult) {
	if s.store != nil {
		if result.Capabilities.Experimental == nil {
			result.Capabilities.Experimental = make(map[string]any)
		}
		result.Capabilities.Experimental["tasks"] = map[string]any{
			"list":     map[string]any{},
			"cancel":   map[string]any{},
			"requests": map[string]any{"tools": map[string]any{"call": map[string]any{}}},
		}
	}

	state, ok := s.stateFromContext(ctx)
	if !ok {
		return
	}
	state.setClientInfo(message.Params.ProtocolVersion, message.Params.ClientInfo)

	if err := s.loadSessionTools(ctx, state); err != nil {
		s.logger.Error("loading session tools failed",
			"session_id", state.id(), "error", err)
	}
}

// afterListTools fixes up native mcp-go listings, which serve the legacy
// SSE transport: map iteration order is replaced with the workflow
// order. Shimmed transports never reach this hook for tools/list.
func (s *Server) afterListTools(_ context.Context, _ any, _ *mcp.ListToolsRequest, result *mcp.ListToolsResult) {
	if result == nil || len(result.Tools) < 2 {
		return
	}
	names := make([]string, len(result.Tools))
	byName := make(map[string]mcp.Tool, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
		byName[tool.Name] = tool
	}
	sorted := catalog.SortNamesForListing(names)
	for i, name := range sorted {
		result.Tools[i] = byName[name]
	}
}

// registerWidgetResources exposes the widget templates as MCP
// resources. Contents are read from the library at request time, so a
// directory override picked up by the watcher serves fresh bytes
// without re-registration.
func (s *Server) registerWidgetResources() {
	for _, res := range s.widgets.List() {
		uri := res.URI
		s.mcp.AddResource(mcp.Resource{
			URI:         uri,
			Name:        res.Name,
			Description: res.Title,
			MIMEType:    res.MimeType,
		}, func(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			current, ok := s.widgets.Get(uri)
			if !ok {
				return nil, &resourceNotFoundError{uri: uri}
			}
			return []mcp.ResourceContents{mcp.TextResourceContents{
				URI:      uri,
				MIMEType: current.MimeType,
				Text:     string(current.HTML),
			}}, nil
		})
	}
}

type resourceNotFoundError struct{ uri string }

func (e *resourceNotFoundError) Error() string { return "resource not found: " + e.uri }

// WatchWidgets watches the widgets directory for template changes and
// nudges clients to re-read. It blocks until ctx is done and is a no-op
// when no directory override is configured.
func (s *Server) WatchWidgets(ctx context.Context) error {
	if s.cfg.WidgetsDir == "" {
		<-ctx.Done()
		return nil
	}
	return s.widgets.Watch(ctx, func() {
		s.mu.RLock()
		ids := make([]string, 0, len(s.sessions))
		for id := range s.sessions {
			ids = append(ids, id)
		}
		s.mu.RUnlock()

		sort.Strings(ids)
		for _, id := range ids {
			if err := s.mcp.SendNotificationToSpecificClient(id, "notifications/resources/list_changed", nil); err != nil {
				s.logger.Debug("resource change notification not delivered",
					"session_id", id, "error", err)
			}
		}
	})
}

// logLevelRank orders MCP log levels for the logging proxy.
var logLevelRank = map[mcp.LoggingLevel]int{
	mcp.LoggingLevelDebug:     0,
	mcp.LoggingLevelInfo:      1,
	mcp.LoggingLevelNotice:    2,
	mcp.LoggingLevelWarning:   3,
	mcp.LoggingLevelError:     4,
	mcp.LoggingLevelCritical:  5,
	mcp.LoggingLevelAlert:     6,
	mcp.LoggingLevelEmergency: 7,
}

// Log sends a logging message to the session behind ctx, filtered by
// the level the client set via logging/setLevel (default info).
// Delivery failures are dropped; client logging is best effort.
func (s *Server) Log(ctx context.Context, level mcp.LoggingLevel, loggerName string, data any) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return
	}

	threshold := mcp.LoggingLevelInfo
	if sl, ok := session.(server.SessionWithLogging); ok {
		if current := sl.GetLogLevel(); current != "" {
			threshold = current
		}
	}
	if logLevelRank[level] < logLevelRank[threshold] {
		return
	}

	params := map[string]any{"level": string(level), "data": data}
	if loggerName != "" {
		params["logger"] = loggerName
	}
	if err := s.mcp.SendNotificationToClient(ctx, "notifications/message", params); err != nil {
		s.logger.Debug("log message not delivered",
			"session_id", session.SessionID(), "error", err)
	}
}
