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

package catalog

import (
	"strings"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// ResolveOptions carries the startup selection for one session. Nil
// slices mean "not configured" and trigger the defaults; empty non-nil
// slices mean "explicitly none". The config layer translates "" and []
// envelope values into empty non-nil slices.
type ResolveOptions struct {
	// Selectors is the tools list: category names, internal tool
	// names (current or legacy), or Actor references.
	Selectors []string
	// Actors is the explicit Actor list. When non-nil it overrides
	// any Actor references found among Selectors.
	Actors []string

	Mode Mode

	// EnableAddingActors exposes the add-actor and remove-actor tools
	// and suppresses the default Actor.
	EnableAddingActors bool
}

// Selection is a resolved tool surface: canonical internal tool names
// in their final order, and the full names of Actors to load as tools.
type Selection struct {
	Tools  []string
	Actors []string
}

// Resolve expands selectors into the session's tool surface.
//
// Selectors resolve in order: a category name expands to its tools for
// the current mode, a tool name (any mode, any alias) resolves to the
// current mode's variant or is dropped silently, and anything else is
// an Actor reference. An explicit Actors list wins over Actor
// references in Selectors; with neither configured and adding disabled
// the default Actor is loaded. In openai mode the ui category is always
// appended. Whenever the surface can start runs, get-actor-run and
// get-actor-output are injected right after call-actor so results stay
// reachable. Duplicates keep their first position.
func Resolve(opts ResolveOptions) Selection {
	selectors := normalize(opts.Selectors)
	if opts.Selectors == nil {
		selectors = defaultSelectors()
	}

	var toolNames []string
	var actorRefs []string
	for _, sel := range selectors {
		switch {
		case IsCategory(sel):
			toolNames = append(toolNames, CategoryTools(tools.Category(sel), opts.Mode)...)
		default:
			name, known, available := ResolveToolName(sel, opts.Mode)
			switch {
			case known && available:
				toolNames = append(toolNames, name)
			case known:
				// Exists in another mode only; drop.
			default:
				actorRefs = append(actorRefs, DecodeActorSelector(sel))
			}
		}
	}

	actors := resolveActors(opts, actorRefs)

	if opts.Mode == ModeOpenAI {
		toolNames = append(toolNames, CategoryTools(tools.CategoryUI, opts.Mode)...)
	}

	toolNames = injectRunTools(toolNames, len(actors) > 0)

	if opts.EnableAddingActors {
		toolNames = append(toolNames, CategoryTools(tools.CategoryDev, opts.Mode)...)
	}

	return Selection{
		Tools:  dedupe(toolNames),
		Actors: dedupe(actors),
	}
}

// defaultSelectors is the surface used when no tools were configured:
// Actor discovery and the documentation tools.
func defaultSelectors() []string {
	return []string{string(tools.CategoryActors), string(tools.CategoryDocs)}
}

func resolveActors(opts ResolveOptions, refs []string) []string {
	if opts.Actors != nil {
		actors := normalize(opts.Actors)
		for i, a := range actors {
			actors[i] = DecodeActorSelector(a)
		}
		return actors
	}
	if len(refs) > 0 {
		return refs
	}
	if opts.Selectors == nil && !opts.EnableAddingActors {
		return []string{DefaultActor}
	}
	return nil
}

// injectRunTools adds get-actor-run and get-actor-output to any surface
// that can start Actor runs, directly after call-actor when present so
// the follow-up tools sit next to the tool whose output they read.
func injectRunTools(names []string, haveActors bool) []string {
	callAt := -1
	for i, n := range names {
		if n == CallActor {
			callAt = i
			break
		}
	}
	if callAt < 0 && !haveActors {
		return names
	}

	followUps := []string{GetActorRun, GetActorOutput}
	if callAt < 0 {
		return append(names, followUps...)
	}
	out := make([]string, 0, len(names)+len(followUps))
	out = append(out, names[:callAt+1]...)
	out = append(out, followUps...)
	out = append(out, names[callAt+1:]...)
	return out
}

func normalize(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
