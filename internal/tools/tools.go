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

// Package tools defines the tool model shared by the whole server: the
// registry entry for a single callable tool, the call and result shapes
// handlers work with, and the mutable registry that backs tools/list.
//
// Three kinds of tools live in one namespace. Internal tools are built
// into the server (store search, docs, run control, storage reads).
// Actor tools wrap a single Apify Actor whose input schema becomes the
// tool's input schema. Actor MCP tools proxy a tool exposed by an Actor
// that is itself an MCP server running in standby mode.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind discriminates the three tool variants held in the registry.
type Kind string

const (
	// KindInternal is a tool implemented by this server.
	KindInternal Kind = "internal"
	// KindActor is a dynamically added tool that starts an Actor run.
	KindActor Kind = "actor"
	// KindActorMCP is a tool proxied from an Actorized MCP server.
	KindActorMCP Kind = "actor-mcp"
)

// TaskSupport declares whether a tool's calls may, must, or must not be
// task-augmented.
type TaskSupport string

const (
	// TaskSupportNone rejects task-augmented calls. Zero value.
	TaskSupportNone TaskSupport = "none"
	// TaskSupportOptional accepts both plain and task-augmented calls.
	TaskSupportOptional TaskSupport = "optional"
	// TaskSupportRequired rejects plain synchronous calls.
	TaskSupportRequired TaskSupport = "required"
)

// Category groups internal tools for selector resolution. Actor tools
// carry no category.
type Category string

const (
	CategoryActors       Category = "actors"
	CategoryDocs         Category = "docs"
	CategoryRuns         Category = "runs"
	CategoryStorage      Category = "storage"
	CategoryDev          Category = "dev"
	CategoryUI           Category = "ui"
	CategoryExperimental Category = "experimental"
)

// RelatedTaskMetaKey is the _meta key that links notifications and
// results to the task a task-augmented call created.
const RelatedTaskMetaKey = "io.modelcontextprotocol/related-task"

// Handler executes one tool call. Implementations must honor ctx
// cancellation and return either a Result or an error; errors are
// classified by the dispatcher, so handlers should not pre-format
// protocol errors.
type Handler func(ctx context.Context, call *Call) (*Result, error)

// Entry is one registered tool. Exactly one Kind's field group is
// populated beyond the common fields.
type Entry struct {
	Kind        Kind
	Name        string
	Description string

	// InputSchema is the JSON Schema served to clients. For Actor tools
	// it is the normalized Actor input schema.
	InputSchema json.RawMessage
	// OutputSchema is optional and served verbatim when present.
	OutputSchema json.RawMessage
	// Validator is the compiled InputSchema. Nil when compilation was
	// skipped because the schema did not compile; such tools accept any
	// arguments.
	Validator *jsonschema.Schema

	// Meta carries tool _meta served on tools/list. Keys prefixed with
	// "openai/" are stripped outside openai mode.
	Meta        map[string]any
	Annotations *mcp.ToolAnnotation

	TaskSupport TaskSupport
	Category    Category

	Handler Handler

	// Actor tools.
	ActorFullName   string
	MaxMemoryMBytes int

	// Actor MCP tools.
	OriginToolName string
	ServerID       string
	ServerURL      string
}

// Clone returns a deep enough copy for building mode variants: the Meta
// map and schema bytes are copied, the Handler and Validator are shared.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Meta != nil {
		c.Meta = make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			c.Meta[k] = v
		}
	}
	if e.InputSchema != nil {
		c.InputSchema = append(json.RawMessage(nil), e.InputSchema...)
	}
	if e.OutputSchema != nil {
		c.OutputSchema = append(json.RawMessage(nil), e.OutputSchema...)
	}
	if e.Annotations != nil {
		a := *e.Annotations
		c.Annotations = &a
	}
	return &c
}

// AllowsTask reports whether a task-augmented call may target this tool.
func (e *Entry) AllowsTask() bool {
	return e.TaskSupport == TaskSupportOptional || e.TaskSupport == TaskSupportRequired
}

// RequiresTask reports whether plain synchronous calls must be rejected.
func (e *Entry) RequiresTask() bool {
	return e.TaskSupport == TaskSupportRequired
}

func (e *Entry) validate() error {
	if !ValidToolName(e.Name) {
		return fmt.Errorf("invalid tool name %q: must match %s", e.Name, toolNamePattern)
	}
	if e.Handler == nil {
		return fmt.Errorf("tool %q has no handler", e.Name)
	}
	switch e.Kind {
	case KindInternal:
	case KindActor:
		if e.ActorFullName == "" {
			return fmt.Errorf("actor tool %q is missing the Actor full name", e.Name)
		}
	case KindActorMCP:
		if e.ServerURL == "" || e.OriginToolName == "" {
			return fmt.Errorf("actor MCP tool %q is missing its origin server or tool", e.Name)
		}
	default:
		return fmt.Errorf("tool %q has unknown kind %q", e.Name, e.Kind)
	}
	return nil
}

const toolNamePattern = `^[a-zA-Z0-9_-]{1,64}$`

var toolNameRe = regexp.MustCompile(toolNamePattern)

// ValidToolName reports whether name satisfies the MCP tool name rules
// this server enforces: 1-64 characters from [a-zA-Z0-9_-].
func ValidToolName(name string) bool {
	return toolNameRe.MatchString(name)
}

// ActorToolName derives a valid tool name from an Actor full name such
// as "apify/rag-web-browser". Slashes and dots are spelled out so the
// mapping stays readable, any other disallowed runes are dropped, and
// the result is capped at 64 characters. The original full name is kept
// on the Entry, so the mapping does not need to be reversible.
func ActorToolName(actorFullName string) string {
	s := strings.ReplaceAll(actorFullName, "/", "-slash-")
	s = strings.ReplaceAll(s, ".", "-dot-")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
