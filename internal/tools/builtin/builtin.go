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

// Package builtin implements the server's internal tools: Apify Store
// discovery, Actor execution, run monitoring, storage reads, docs
// search, and the dynamic add/remove meta-tools. The catalog decides
// which of these a session sees; this package builds the registry
// entries and their handlers.
package builtin

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/docs"
	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/schema"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/internal/widgets"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Deps carries the backends tool handlers run against. One Deps value
// serves every session; per-call state travels in the Call.
type Deps struct {
	// Client is the platform client template. Calls carrying their own
	// token are served by a per-call derivation. Nil when the server
	// could not construct a client at all.
	Client *apify.Client

	// Engine executes Actor runs for call-actor.
	Engine *execute.Engine

	// Search and Pages back the documentation tools.
	Search *docs.Searcher
	Pages  *docs.Fetcher

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// client resolves the platform client for one call. Calls with their
// own token get a rebound client; without any token the platform
// rejects the request, so fail early with guidance.
func (d *Deps) client(call *tools.Call) (*apify.Client, error) {
	if d.Client == nil {
		return nil, errAuthRequired()
	}
	if call.APIToken != "" && call.APIToken != d.Client.Token() {
		return d.Client.WithToken(call.APIToken), nil
	}
	if d.Client.Token() == "" && call.APIToken == "" {
		return nil, errAuthRequired()
	}
	return d.Client, nil
}

func errAuthRequired() error {
	return &errors.APIError{
		StatusCode: 401,
		Message:    "this tool requires an Apify API token",
		Suggestion: "Set the APIFY_TOKEN environment variable or send an Authorization: Bearer header. Tokens are at https://console.apify.com/settings/integrations.",
	}
}

// builders constructs the default-mode entry of every internal tool.
var builders = map[string]func(*Deps) (*tools.Entry, error){
	catalog.StoreSearch:             storeSearchEntry,
	catalog.FetchActorDetails:       fetchActorDetailsEntry,
	catalog.CallActor:               callActorEntry,
	catalog.DocsSearch:              docsSearchEntry,
	catalog.DocsFetch:               docsFetchEntry,
	catalog.GetActorRun:             getActorRunEntry,
	catalog.GetActorLog:             getActorLogEntry,
	catalog.AbortActorRun:           abortActorRunEntry,
	catalog.GetActorOutput:          getActorOutputEntry,
	catalog.GetDatasetItems:         getDatasetItemsEntry,
	catalog.GetKeyValueStoreRecord:  getKeyValueStoreRecordEntry,
	catalog.AddActor:                addActorEntry,
	catalog.RemoveActor:             removeActorEntry,
	catalog.StoreSearchWidget:       storeSearchWidgetEntry,
	catalog.FetchActorDetailsWidget: fetchActorDetailsWidgetEntry,
}

// Entry builds one internal tool for the given mode.
func Entry(name string, mode catalog.Mode, d *Deps) (*tools.Entry, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("no builtin tool named %q", name)
	}
	if _, _, available := catalog.ResolveToolName(name, mode); !available {
		return nil, fmt.Errorf("tool %q does not exist in %s mode", name, mode)
	}
	entry, err := build(d)
	if err != nil {
		return nil, err
	}
	if mode == catalog.ModeOpenAI {
		decorateOpenAI(entry)
	}
	return entry, nil
}

// Entries builds the named tools, skipping any that fail with a warning
// so one broken definition never takes the server down.
func Entries(names []string, mode catalog.Mode, d *Deps) []*tools.Entry {
	out := make([]*tools.Entry, 0, len(names))
	for _, name := range names {
		entry, err := Entry(name, mode, d)
		if err != nil {
			d.logger().Warn("skipping internal tool", "tool", name, "error", err)
			continue
		}
		out = append(out, entry)
	}
	return out
}

// decorateOpenAI applies the openai-mode variant in place: widget
// metadata, and for call-actor the forced task execution. Input schemas
// are never touched, so both variants validate identically.
func decorateOpenAI(e *tools.Entry) {
	switch e.Name {
	case catalog.CallActor:
		e.TaskSupport = tools.TaskSupportRequired
		e.Meta = widgetMeta(widgets.URIActorRun, "Starting the Actor", "Actor run finished")
	case catalog.GetActorRun:
		e.Meta = widgetMeta(widgets.URIActorRun, "Checking the run", "Run status loaded")
	case catalog.GetActorOutput:
		e.Meta = widgetMeta(widgets.URIActorRun, "Fetching run output", "Output loaded")
	case catalog.StoreSearch:
		e.Meta = widgetMeta(widgets.URIStoreSearch, "Searching Apify Store", "Found Actors")
	case catalog.FetchActorDetails:
		e.Meta = widgetMeta(widgets.URIActorDetails, "Loading Actor details", "Actor details loaded")
	}
}

func widgetMeta(uri, invoking, invoked string) map[string]any {
	return map[string]any{
		"openai/outputTemplate":          uri,
		"openai/toolInvocation/invoking": invoking,
		"openai/toolInvocation/invoked":  invoked,
		"openai/widgetAccessible":        true,
		"openai/resultCanProduceWidget":  true,
	}
}

// newEntry marshals and compiles the input schema and wraps it in an
// internal tool entry. Builders fill in the rest.
func newEntry(name, description string, inputSchema map[string]any) (*tools.Entry, error) {
	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s input schema", name)
	}
	validator, err := schema.Compile(name, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %s input schema", name)
	}
	return &tools.Entry{
		Kind:        tools.KindInternal,
		Name:        name,
		Description: description,
		InputSchema: raw,
		Validator:   validator,
	}, nil
}

// objectSchema assembles the usual top-level tool schema.
func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
