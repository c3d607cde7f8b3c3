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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is the fully resolved input a handler receives for one tool
// invocation. The dispatcher builds it from the wire request, the
// session, and server configuration.
type Call struct {
	// ToolName is the registry name the client invoked, which for mode
	// variants differs from the handler's canonical tool.
	ToolName string
	// Arguments are the decoded call arguments after dot-property
	// decoding and validation.
	Arguments map[string]any

	// SessionID identifies the client session. Empty only in tests.
	SessionID string
	// TaskID is set when the call is task-augmented.
	TaskID string
	// ProgressToken echoes the client's progressToken, if any.
	ProgressToken any

	// APIToken is the Apify token resolved for this call.
	APIToken string
	// SkyfirePayID is the verified payment token id, when the server
	// runs in Skyfire mode and the caller supplied one.
	SkyfirePayID string

	// Progress is never nil; handlers report coarse progress through it
	// and the server decides whether anything reaches the client.
	Progress ProgressReporter
	// Mutator is non-nil only when dynamic Actor tooling is enabled.
	Mutator ToolMutator
}

// String returns a string argument, with ok reporting presence and
// type match.
func (c *Call) String(key string) (string, bool) {
	v, ok := c.Arguments[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns a string argument or def when absent or mistyped.
func (c *Call) StringOr(key, def string) string {
	if s, ok := c.String(key); ok {
		return s
	}
	return def
}

// Int returns an integer argument. JSON numbers decode as float64, so
// both float64 and json.Number inputs are accepted.
func (c *Call) Int(key string) (int, bool) {
	switch v := c.Arguments[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// IntOr returns an integer argument or def when absent or mistyped.
func (c *Call) IntOr(key string, def int) int {
	if n, ok := c.Int(key); ok {
		return n
	}
	return def
}

// Float returns a numeric argument as float64.
func (c *Call) Float(key string) (float64, bool) {
	switch v := c.Arguments[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOr returns a numeric argument or def when absent or mistyped.
func (c *Call) FloatOr(key string, def float64) float64 {
	if f, ok := c.Float(key); ok {
		return f
	}
	return def
}

// Bool returns a boolean argument.
func (c *Call) Bool(key string) (bool, bool) {
	v, ok := c.Arguments[key].(bool)
	return v, ok
}

// BoolOr returns a boolean argument or def when absent or mistyped.
func (c *Call) BoolOr(key string, def bool) bool {
	if b, ok := c.Arguments[key].(bool); ok {
		return b
	}
	return def
}

// ContentTypeText is the only content block type the server produces.
const ContentTypeText = "text"

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Result is a handler's successful outcome. IsError marks tool-level
// failures that should surface to the model as content rather than as
// protocol errors.
type Result struct {
	Content    []Content      `json:"content"`
	Structured any            `json:"structuredContent,omitempty"`
	Meta       map[string]any `json:"_meta,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

// NewTextResult wraps a single text block.
func NewTextResult(text string) *Result {
	return &Result{Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// NewJSONResult marshals v into a single text block, falling back to a
// fmt rendering when v does not marshal.
func NewJSONResult(v any) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return NewTextResult(fmt.Sprintf("%v", v))
	}
	return NewTextResult(string(b))
}

// NewErrorResult wraps a tool-level failure message.
func NewErrorResult(format string, args ...any) *Result {
	return &Result{
		Content: []Content{{Type: ContentTypeText, Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// AddText appends another text block.
func (r *Result) AddText(text string) *Result {
	r.Content = append(r.Content, Content{Type: ContentTypeText, Text: text})
	return r
}

// WithStructured sets structuredContent.
func (r *Result) WithStructured(v any) *Result {
	r.Structured = v
	return r
}

// WithMeta sets one result _meta key.
func (r *Result) WithMeta(key string, v any) *Result {
	if r.Meta == nil {
		r.Meta = make(map[string]any, 1)
	}
	r.Meta[key] = v
	return r
}

// ProgressReporter delivers progress updates for one running call.
// Implementations decide whether the session asked for progress at all;
// handlers call it unconditionally.
type ProgressReporter interface {
	// ReportProgress sends one update. total may be zero when unknown.
	ReportProgress(ctx context.Context, progress, total float64, message string) error
}

// NopProgress discards all updates.
type NopProgress struct{}

// ReportProgress implements ProgressReporter.
func (NopProgress) ReportProgress(context.Context, float64, float64, string) error { return nil }

// ToolMutator lets the add-actor and remove-actor tools change the live
// registry. Wired only when dynamic Actor tooling is enabled.
type ToolMutator interface {
	// AddActorTools resolves an Actor by full name and registers its
	// tool (or, for Actorized MCP servers, all their tools). It returns
	// the registered tool names.
	AddActorTools(ctx context.Context, actorFullName string) ([]string, error)
	// RemoveTool unregisters a dynamically added tool by name. Internal
	// tools cannot be removed.
	RemoveTool(ctx context.Context, name string) error
}
