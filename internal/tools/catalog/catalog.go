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

// Package catalog is the authority on which internal tools exist: their
// categories, which UI modes they are available in, legacy name aliases,
// and how startup selectors resolve into the concrete tool surface of a
// session. The entries themselves (schemas and handlers) are built in
// the builtin package; the catalog deals in names so that resolution
// stays testable without wiring any backends.
package catalog

import (
	"fmt"
	"strings"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// Mode selects between the default and the openai tool variants. The
// openai variants carry widget metadata and, for call-actor, forced
// task execution.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeOpenAI  Mode = "openai"
)

// ParseMode parses a mode flag value. The empty string means default.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeDefault):
		return ModeDefault, nil
	case string(ModeOpenAI):
		return ModeOpenAI, nil
	default:
		return "", fmt.Errorf("unknown UI mode %q (want %q or %q)", s, ModeDefault, ModeOpenAI)
	}
}

// Canonical internal tool names. Every name the server can register for
// an internal tool appears here; builtin provides a definition for each.
const (
	StoreSearch             = "store-search"
	FetchActorDetails       = "fetch-actor-details"
	CallActor               = "call-actor"
	DocsSearch              = "docs-search"
	DocsFetch               = "docs-fetch"
	GetActorRun             = "get-actor-run"
	GetActorLog             = "get-actor-log"
	AbortActorRun           = "abort-actor-run"
	GetActorOutput          = "get-actor-output"
	GetDatasetItems         = "get-dataset-items"
	GetKeyValueStoreRecord  = "get-key-value-store-record"
	AddActor                = "add-actor"
	RemoveActor             = "remove-actor"
	StoreSearchWidget       = "store-search-internal"
	FetchActorDetailsWidget = "fetch-actor-details-internal"
)

// DefaultActor is the Actor loaded when the caller selects nothing and
// dynamic Actor tooling is off, so a bare session can still browse the
// web.
const DefaultActor = "apify/rag-web-browser"

// toolDef is one catalog row.
type toolDef struct {
	name     string
	category tools.Category

	// openAIOnly tools have no definition outside openai mode.
	openAIOnly bool
}

// internalTools lists every internal tool in category order; order
// within a category is the order selectors expand to.
var internalTools = []toolDef{
	{name: StoreSearch, category: tools.CategoryActors},
	{name: FetchActorDetails, category: tools.CategoryActors},
	{name: CallActor, category: tools.CategoryActors},

	{name: DocsSearch, category: tools.CategoryDocs},
	{name: DocsFetch, category: tools.CategoryDocs},

	{name: GetActorRun, category: tools.CategoryRuns},
	{name: GetActorLog, category: tools.CategoryRuns},
	{name: AbortActorRun, category: tools.CategoryRuns},

	{name: GetActorOutput, category: tools.CategoryStorage},
	{name: GetDatasetItems, category: tools.CategoryStorage},
	{name: GetKeyValueStoreRecord, category: tools.CategoryStorage},

	{name: AddActor, category: tools.CategoryDev},
	{name: RemoveActor, category: tools.CategoryDev},

	{name: StoreSearchWidget, category: tools.CategoryUI, openAIOnly: true},
	{name: FetchActorDetailsWidget, category: tools.CategoryUI, openAIOnly: true},
}

// categoryOrder fixes the order categories expand and list in.
var categoryOrder = []tools.Category{
	tools.CategoryActors,
	tools.CategoryDocs,
	tools.CategoryRuns,
	tools.CategoryStorage,
	tools.CategoryDev,
	tools.CategoryUI,
	tools.CategoryExperimental,
}

// aliases maps retired tool names to their current ones. Old client
// configurations keep working.
var aliases = map[string]string{
	"search-apify-docs": DocsSearch,
	"fetch-apify-docs":  DocsFetch,
}

var toolIndex = func() map[string]toolDef {
	m := make(map[string]toolDef, len(internalTools))
	for _, def := range internalTools {
		m[def.name] = def
	}
	return m
}()

// Categories returns all selector categories in their fixed order.
func Categories() []tools.Category {
	out := make([]tools.Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// IsCategory reports whether s names a selector category.
func IsCategory(s string) bool {
	for _, c := range categoryOrder {
		if string(c) == s {
			return true
		}
	}
	return false
}

// CategoryTools returns the names of the category's tools available in
// the given mode, in catalog order.
func CategoryTools(category tools.Category, mode Mode) []string {
	var out []string
	for _, def := range internalTools {
		if def.category != category {
			continue
		}
		if def.openAIOnly && mode != ModeOpenAI {
			continue
		}
		out = append(out, def.name)
	}
	return out
}

// InternalToolNames returns every internal tool name available in mode,
// in catalog order.
func InternalToolNames(mode Mode) []string {
	var out []string
	for _, def := range internalTools {
		if def.openAIOnly && mode != ModeOpenAI {
			continue
		}
		out = append(out, def.name)
	}
	return out
}

// ResolveToolName maps a selector to the canonical internal tool name,
// following aliases. ok is false when the name is unknown in every mode
// (the selector is then an Actor reference) — or known but not available
// in this mode, in which case the selector is dropped.
func ResolveToolName(selector string, mode Mode) (name string, known, available bool) {
	name = selector
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	def, ok := toolIndex[name]
	if !ok {
		return "", false, false
	}
	if def.openAIOnly && mode != ModeOpenAI {
		return name, true, false
	}
	return name, true, true
}

// CategoryOf returns the catalog category of an internal tool name.
func CategoryOf(name string) (tools.Category, bool) {
	def, ok := toolIndex[name]
	if !ok {
		return "", false
	}
	return def.category, true
}

// DecodeActorSelector turns a tool-name-shaped Actor reference back
// into the owner/name form: "apify-slash-rag-web-browser" becomes
// "apify/rag-web-browser". Plain owner/name strings pass through.
func DecodeActorSelector(s string) string {
	s = strings.ReplaceAll(s, "-slash-", "/")
	return strings.ReplaceAll(s, "-dot-", ".")
}
