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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// stdioSession is the one session a stdio process serves. Its id is a
// UUID minted at connect, which scopes tasks and telemetry exactly like
// a transport-assigned HTTP session id.
type stdioSession struct {
	id            string
	notifications chan mcp.JSONRPCNotification

	initialized atomic.Bool
	logLevel    atomic.Value

	mu    sync.RWMutex
	tools map[string]server.ServerTool
}

var (
	_ server.ClientSession      = (*stdioSession)(nil)
	_ server.SessionWithTools   = (*stdioSession)(nil)
	_ server.SessionWithLogging = (*stdioSession)(nil)
)

func newStdioSession() *stdioSession {
	return &stdioSession{
		id:            uuid.NewString(),
		notifications: make(chan mcp.JSONRPCNotification, 64),
	}
}

func (s *stdioSession) SessionID() string { return s.id }

func (s *stdioSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

func (s *stdioSession) Initialize()       { s.initialized.Store(true) }
func (s *stdioSession) Initialized() bool { return s.initialized.Load() }

func (s *stdioSession) SetLogLevel(level mcp.LoggingLevel) { s.logLevel.Store(level) }

func (s *stdioSession) GetLogLevel() mcp.LoggingLevel {
	level, _ := s.logLevel.Load().(mcp.LoggingLevel)
	return level
}

func (s *stdioSession) GetSessionTools() map[string]server.ServerTool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]server.ServerTool, len(s.tools))
	for name, tool := range s.tools {
		out[name] = tool
	}
	return out
}

func (s *stdioSession) SetSessionTools(tools map[string]server.ServerTool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// lineWriter serializes newline-delimited frames onto the output
// stream. Responses and notifications race for it from different
// goroutines.
type lineWriter struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

func (w *lineWriter) write(message []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(message, '\n')); err != nil {
		w.logger.Debug("stdio write failed", "error", err)
	}
}

// inflightTable tracks cancel functions of requests being handled, so a
// notifications/cancelled frame can stop them mid-flight.
type inflightTable struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newInflightTable() *inflightTable {
	return &inflightTable{cancels: make(map[string]context.CancelFunc)}
}

// add registers a request. The returned func removes the registration
// and releases the context.
func (t *inflightTable) add(id string, cancel context.CancelFunc) func() {
	t.mu.Lock()
	t.cancels[id] = cancel
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.cancels, id)
		t.mu.Unlock()
		cancel()
	}
}

func (t *inflightTable) cancel(id string) {
	t.mu.Lock()
	cancel := t.cancels[id]
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ServeStdio serves one session over newline-delimited JSON-RPC until
// ctx is done or the input stream closes. Logging must already be bound
// to stderr; stdout carries only protocol frames.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	session := newStdioSession()

	ctx = withLoadOptions(ctx, loadOptions{
		Transport: "stdio",
		Token:     s.cfg.APIToken,
		Tools:     s.cfg.Tools,
		Actors:    s.cfg.Actors,
	})

	if err := s.mcp.RegisterSession(ctx, session); err != nil {
		return fmt.Errorf("register stdio session: %w", err)
	}
	defer s.mcp.UnregisterSession(ctx, session.SessionID())

	state, ok := s.state(session.SessionID())
	if !ok {
		return fmt.Errorf("stdio session %s has no state", session.SessionID())
	}

	writer := &lineWriter{out: out, logger: s.logger}
	inflight := newInflightTable()

	// Server-initiated notifications drain onto stdout from their own
	// goroutine.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case notification := <-session.notifications:
				frame, err := json.Marshal(notification)
				if err != nil {
					s.logger.Error("notification does not marshal", "error", err)
					continue
				}
				writer.write(frame)
			}
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(in)
		for {
			line, err := reader.ReadBytes('\n')
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				copied := make([]byte, len(trimmed))
				copy(copied, trimmed)
				select {
				case lines <- copied:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read stdio: %w", err)
		case raw := <-lines:
			s.handleStdioFrame(ctx, state, writer, inflight, raw)
		}
	}
}

// handleStdioFrame processes one inbound frame. Cancellations apply
// inline so they can reach a request already being handled; everything
// else runs in its own goroutine, like the HTTP transports behave.
func (s *Server) handleStdioFrame(ctx context.Context, state *sessionState, writer *lineWriter, inflight *inflightTable, raw []byte) {
	var req rpcRequest
	hasID := false
	if err := json.Unmarshal(raw, &req); err == nil {
		hasID = len(req.ID) > 0 && string(req.ID) != "null"
		if req.Method == "notifications/cancelled" {
			var p struct {
				RequestID json.RawMessage `json:"requestId"`
			}
			if err := json.Unmarshal(req.Params, &p); err == nil && len(p.RequestID) > 0 {
				inflight.cancel(string(p.RequestID))
			}
			return
		}
	}

	go func() {
		reqCtx := s.mcp.WithContext(ctx, state.session)
		if hasID {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithCancel(reqCtx)
			defer inflight.add(string(req.ID), cancel)()
		}

		response := s.handleFrame(reqCtx, state, raw)
		if response == nil {
			return
		}
		if reqCtx.Err() != nil {
			// Cancelled requests get no response.
			return
		}
		writer.write(response)
	}()
}

// handleFrame runs one frame through the shim first and mcp-go second.
func (s *Server) handleFrame(ctx context.Context, state *sessionState, raw []byte) []byte {
	if response, handled := s.interceptMessage(ctx, state, raw); handled {
		return response
	}
	result := s.mcp.HandleMessage(ctx, raw)
	if result == nil {
		return nil
	}
	response, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("message result does not marshal", "error", err)
		return nil
	}
	return response
}
