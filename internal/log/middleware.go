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

package log

import (
	"log/slog"
	"time"
)

// CallRequest represents a tool call for logging purposes.
type CallRequest struct {
	// Tool is the public name of the tool being invoked.
	Tool string

	// SessionID identifies the MCP session the call belongs to.
	SessionID string

	// TaskID is set when the call runs as a deferred task.
	TaskID string

	// Transport is the serving transport (stdio, http, sse).
	Transport string

	// Metadata contains additional request metadata.
	Metadata map[string]interface{}
}

// CallResponse represents the outcome of a tool call for logging purposes.
type CallResponse struct {
	// Status is the unified outcome (succeeded, soft_fail, failed, aborted).
	Status string

	// Error is the error message if the call did not succeed.
	Error string

	// DurationMs is the duration of the call in milliseconds.
	DurationMs int64

	// Metadata contains additional response metadata.
	Metadata map[string]interface{}
}

// LogCallStart logs an incoming tool call.
func LogCallStart(logger *slog.Logger, req *CallRequest) {
	attrs := []any{
		EventKey, "tool_call",
		ToolKey, req.Tool,
		TransportKey, req.Transport,
	}

	if req.SessionID != "" {
		attrs = append(attrs, SessionIDKey, req.SessionID)
	}

	if req.TaskID != "" {
		attrs = append(attrs, TaskIDKey, req.TaskID)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("tool call received", attrs...)
}

// LogCallEnd logs the outcome of a tool call.
func LogCallEnd(logger *slog.Logger, req *CallRequest, resp *CallResponse) {
	attrs := []any{
		EventKey, "tool_result",
		ToolKey, req.Tool,
		"status", resp.Status,
		DurationKey, resp.DurationMs,
		TransportKey, req.Transport,
	}

	if req.SessionID != "" {
		attrs = append(attrs, SessionIDKey, req.SessionID)
	}

	if req.TaskID != "" {
		attrs = append(attrs, TaskIDKey, req.TaskID)
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	for k, v := range resp.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "tool call completed"

	if resp.Status == "failed" {
		level = slog.LevelError
		message = "tool call failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// CallMiddleware wraps a tool call handler with logging.
// It logs the call when it arrives and the outcome when it completes.
type CallMiddleware struct {
	logger *slog.Logger
}

// NewCallMiddleware creates a new tool-call logging middleware.
func NewCallMiddleware(logger *slog.Logger) *CallMiddleware {
	return &CallMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that executes a tool call.
// It logs the call and its outcome automatically; the handler reports
// the unified status string it resolved to.
func (m *CallMiddleware) Handler(req *CallRequest, handler func() (string, error)) error {
	start := time.Now()

	LogCallStart(m.logger, req)

	status, err := handler()

	duration := time.Since(start).Milliseconds()

	resp := &CallResponse{
		Status:     status,
		DurationMs: duration,
	}

	if err != nil {
		resp.Error = err.Error()
	}

	LogCallEnd(m.logger, req, resp)

	return err
}
