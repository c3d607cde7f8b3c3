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
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/apify/actors-mcp-server-go/internal/dispatch"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

type ctxKey int

const (
	loadOptionsKey ctxKey = iota
	requestTokenKey
)

// loadOptions are the per-session settings a transport resolves before
// the session registers: the token, the tool selection, and the
// transport name for telemetry. Nil slices mean "not specified"; the
// server configuration fills the gaps.
type loadOptions struct {
	Transport string
	Token     string

	Tools  []string
	Actors []string

	// EnableAddingActors overrides the server setting when non-nil.
	EnableAddingActors *bool
}

func withLoadOptions(ctx context.Context, opts loadOptions) context.Context {
	return context.WithValue(ctx, loadOptionsKey, opts)
}

func loadOptionsFromContext(ctx context.Context) (loadOptions, bool) {
	opts, ok := ctx.Value(loadOptionsKey).(loadOptions)
	return opts, ok
}

// withRequestToken records the Authorization token of one HTTP request.
// Calls prefer it over the session-level token, so a client rotating
// its token mid-session takes effect immediately.
func withRequestToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, requestTokenKey, token)
}

func requestTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(requestTokenKey).(string)
	return token
}

// sessionState is everything the server keeps per live session: its own
// registry and dispatcher, the resolved load options, and the client
// identity captured at initialize.
type sessionState struct {
	session server.ClientSession

	opts         loadOptions
	mode         catalog.Mode
	enableAdding bool

	registry   *tools.Registry
	dispatcher *dispatch.Dispatcher
	mutator    tools.ToolMutator

	mu              sync.Mutex
	protocolVersion string
	clientName      string
	clientVersion   string
}

// newSessionState wires the per-session registry and dispatcher. The
// context carries load options when the transport resolved any; a bare
// context falls back to the server configuration.
func (s *Server) newSessionState(ctx context.Context, session server.ClientSession) *sessionState {
	opts, ok := loadOptionsFromContext(ctx)
	if !ok {
		opts = loadOptions{Transport: "http"}
	}
	if opts.Token == "" {
		opts.Token = s.cfg.APIToken
	}
	if opts.Tools == nil {
		opts.Tools = s.cfg.Tools
	}
	if opts.Actors == nil {
		opts.Actors = s.cfg.Actors
	}

	enableAdding := s.cfg.EnableAddingActors
	if opts.EnableAddingActors != nil {
		enableAdding = *opts.EnableAddingActors
	}

	registry := tools.NewRegistry()
	state := &sessionState{
		session:      session,
		opts:         opts,
		mode:         s.cfg.Mode,
		enableAdding: enableAdding,
		registry:     registry,
		dispatcher: dispatch.New(dispatch.Config{
			Registry:    registry,
			Store:       s.store,
			Telemetry:   s.cfg.Telemetry,
			Logger:      s.logger,
			SyncTimeout: s.cfg.SyncTimeout,
			SkyfireMode: s.cfg.SkyfireMode,
		}),
	}
	if enableAdding {
		state.mutator = &sessionMutator{server: s, state: state}
	}

	// The handler mirrors every registry mutation into the session's
	// mcp-go tool set, which also emits tools/list_changed.
	if err := registry.RegisterChangeHandler(func(change tools.Change) {
		s.mirrorChange(state, change)
	}); err != nil {
		s.logger.Error("registry change handler not registered",
			"session_id", session.SessionID(), "error", err)
	}

	return state
}

func (st *sessionState) id() string { return st.session.SessionID() }

func (st *sessionState) setClientInfo(protocolVersion string, info mcp.Implementation) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.protocolVersion = protocolVersion
	st.clientName = info.Name
	st.clientVersion = info.Version
}

func (st *sessionState) callMeta() dispatch.CallMeta {
	st.mu.Lock()
	defer st.mu.Unlock()
	return dispatch.CallMeta{
		Transport:       st.opts.Transport,
		ProtocolVersion: st.protocolVersion,
		ClientName:      st.clientName,
		ClientVersion:   st.clientVersion,
	}
}

func (st *sessionState) close() {
	st.registry.UnregisterChangeHandler()
	st.registry.Close()
}

// callToken resolves the Apify token for one call: the request's own
// token when present, the session token otherwise.
func (s *Server) callToken(ctx context.Context, state *sessionState) string {
	if token := requestTokenFromContext(ctx); token != "" {
		return token
	}
	return state.opts.Token
}

// mirrorChange applies one registry mutation to the session's mcp-go
// tool set.
func (s *Server) mirrorChange(state *sessionState, change tools.Change) {
	if len(change.Added) > 0 {
		serverTools := make([]server.ServerTool, 0, len(change.Added))
		for _, entry := range change.Added {
			serverTools = append(serverTools, s.serverTool(state, entry))
		}
		if err := s.mcp.AddSessionTools(state.id(), serverTools...); err != nil {
			s.logger.Warn("session tools not mirrored",
				"session_id", state.id(), "error", err)
		}
	}
	if len(change.Removed) > 0 {
		if err := s.mcp.DeleteSessionTools(state.id(), change.Removed...); err != nil {
			s.logger.Warn("session tools not unmirrored",
				"session_id", state.id(), "error", err)
		}
	}
}

// serverTool converts a registry entry into the mcp-go tool that serves
// plain synchronous calls.
func (s *Server) serverTool(state *sessionState, entry *tools.Entry) server.ServerTool {
	tool := mcp.Tool{
		Name:           entry.Name,
		Description:    entry.Description,
		RawInputSchema: entry.InputSchema,
	}
	if tool.RawInputSchema == nil {
		tool.RawInputSchema = json.RawMessage(`{"type":"object"}`)
	}
	if entry.Annotations != nil {
		tool.Annotations = *entry.Annotations
	}
	if meta := filteredMeta(entry.Meta, state.mode); len(meta) > 0 {
		tool.Meta = &mcp.Meta{AdditionalFields: meta}
	}
	return server.ServerTool{Tool: tool, Handler: s.entryHandler(state, entry.Name)}
}

// filteredMeta applies the mode filter to tool _meta: outside openai
// mode every openai/-prefixed key is dropped, and an emptied map becomes
// absent.
func filteredMeta(meta map[string]any, mode catalog.Mode) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if mode != catalog.ModeOpenAI && strings.HasPrefix(k, "openai/") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// entryHandler adapts the dispatcher to mcp-go's tool handler contract
// for one registered tool name.
func (s *Server) entryHandler(state *sessionState, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token := progressTokenOf(request)
		call := &tools.Call{
			ToolName:      name,
			Arguments:     request.GetArguments(),
			SessionID:     state.id(),
			ProgressToken: token,
			APIToken:      s.callToken(ctx, state),
			Progress:      &progressReporter{server: s, token: token},
			Mutator:       state.mutator,
		}

		result, status, err := state.dispatcher.Dispatch(ctx, call, state.callMeta())
		if err != nil {
			return nil, err
		}
		if status == dispatch.StatusAborted {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Cancelled by the client; whatever we return is never
				// written.
				return nil, ctxErr
			}
			// The dispatcher's own timeout fired while the client still
			// waits; it gets an answer, not silence.
			return mcp.NewToolResultError("The tool call did not finish within the timeout and was aborted."), nil
		}
		return toCallToolResult(result), nil
	}
}

func progressTokenOf(request mcp.CallToolRequest) any {
	if request.Params.Meta == nil {
		return nil
	}
	return request.Params.Meta.ProgressToken
}

// toCallToolResult converts a dispatcher result to the wire shape.
func toCallToolResult(result *tools.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		out.Content = append(out.Content, mcp.TextContent{Type: "text", Text: content.Text})
	}
	if result.Structured != nil {
		out.StructuredContent = result.Structured
	}
	if len(result.Meta) > 0 {
		out.Meta = &mcp.Meta{AdditionalFields: result.Meta}
	}
	return out
}

// progressReporter forwards handler progress to the session as
// notifications/progress frames. Without a client token nothing is
// sent; a task id additionally links every frame to its task via _meta.
type progressReporter struct {
	server *Server
	token  any
	taskID string
}

func (p *progressReporter) ReportProgress(ctx context.Context, progress, total float64, message string) error {
	if p.token == nil {
		return nil
	}
	params := map[string]any{
		"progressToken": p.token,
		"progress":      progress,
	}
	if total > 0 {
		params["total"] = total
	}
	if message != "" {
		params["message"] = message
	}
	if p.taskID != "" {
		params["_meta"] = map[string]any{
			tools.RelatedTaskMetaKey: map[string]any{"taskId": p.taskID},
		}
	}
	return p.server.mcp.SendNotificationToClient(ctx, "notifications/progress", params)
}

// sessionMutator is the ToolMutator behind add-actor and remove-actor.
type sessionMutator struct {
	server *Server
	state  *sessionState
}

func (m *sessionMutator) AddActorTools(ctx context.Context, actorFullName string) ([]string, error) {
	if strings.TrimSpace(actorFullName) == "" {
		return nil, &errors.ValidationError{
			Field:      "actor",
			Message:    "an Actor full name is required",
			Suggestion: "Pass the Actor as owner/name, e.g. 'apify/rag-web-browser'.",
		}
	}

	entries, err := m.server.loadActor(ctx, m.state, actorFullName)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &errors.APIError{
			StatusCode: 401,
			Message:    "loading this Actor's tools requires an Apify API token",
			Suggestion: "Set the APIFY_TOKEN environment variable or send an Authorization: Bearer header.",
		}
	}

	if err := m.state.registry.Upsert(entries, true); err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names, nil
}

func (m *sessionMutator) RemoveTool(_ context.Context, name string) error {
	entry, ok := m.state.registry.Get(name)
	if !ok {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}
	if entry.Kind == tools.KindInternal {
		return &errors.ValidationError{
			Field:      "tool",
			Message:    "internal tools cannot be removed",
			Suggestion: "Only Actor tools added for this session can be removed.",
		}
	}
	m.state.registry.Remove([]string{name}, true)
	return nil
}
