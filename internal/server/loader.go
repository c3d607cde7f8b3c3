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
	"sync"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/payments"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/actorproxy"
	"github.com/apify/actors-mcp-server-go/internal/tools/builtin"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

// loadSessionTools resolves the session's selectors into tool entries
// and registers them. Actors that fail to load are skipped with a
// warning; the session starts with whatever loaded.
func (s *Server) loadSessionTools(ctx context.Context, state *sessionState) error {
	selection := catalog.Resolve(catalog.ResolveOptions{
		Selectors:          state.opts.Tools,
		Actors:             state.opts.Actors,
		Mode:               state.mode,
		EnableAddingActors: state.enableAdding,
	})

	entries := builtin.Entries(selection.Tools, state.mode, s.deps)
	entries = append(entries, s.loadActors(ctx, state, selection.Actors)...)

	if s.cfg.SkyfireMode {
		entries = s.decorateForSkyfire(entries)
	}

	if len(entries) == 0 {
		return nil
	}
	if err := state.registry.Upsert(entries, false); err != nil {
		return err
	}
	// The initial load bypasses change notification; mirror it by hand.
	s.mirrorChange(state, tools.Change{Added: entries})

	s.logger.Info("session tools loaded",
		"session_id", state.id(),
		"transport", state.opts.Transport,
		"tools", len(entries),
		"actors", len(selection.Actors),
	)
	return nil
}

// loadActors fetches the named Actors concurrently. Order is preserved:
// entry groups land in the position of the Actor that produced them.
func (s *Server) loadActors(ctx context.Context, state *sessionState, fullNames []string) []*tools.Entry {
	if len(fullNames) == 0 {
		return nil
	}

	groups := make([][]*tools.Entry, len(fullNames))
	var wg sync.WaitGroup
	for i, fullName := range fullNames {
		wg.Add(1)
		go func(i int, fullName string) {
			defer wg.Done()
			entries, err := s.loadActor(ctx, state, fullName)
			if err != nil {
				s.logger.Warn("actor not loaded as tool",
					"session_id", state.id(), "actor", fullName, "error", err)
				return
			}
			groups[i] = entries
		}(i, fullName)
	}
	wg.Wait()

	var out []*tools.Entry
	for _, entries := range groups {
		out = append(out, entries...)
	}
	return out
}

// loadActor builds the tool entries for one Actor: the forwarded tools
// of its MCP server when the Actor is Actorized (and Skyfire mode is
// off), the plain run tool otherwise.
func (s *Server) loadActor(ctx context.Context, state *sessionState, fullName string) ([]*tools.Entry, error) {
	client := s.sessionClient(state)

	actor, err := client.GetActor(ctx, fullName)
	if err != nil {
		return nil, err
	}
	def, err := client.GetActorDefinition(ctx, fullName)
	if err != nil {
		return nil, err
	}

	if def.WebServerMcpPath != "" && !s.cfg.SkyfireMode {
		serverURL := actorproxy.ServerURL(actor.FullName(), def.WebServerMcpPath)
		return s.proxy.LoadTools(ctx, serverURL, state.opts.Token)
	}

	entry, err := builtin.ActorEntry(s.deps, actor, def)
	if err != nil {
		return nil, err
	}
	return []*tools.Entry{entry}, nil
}

// sessionClient rebinds the platform client to the session token when it
// differs from the server's own.
func (s *Server) sessionClient(state *sessionState) *apify.Client {
	if token := state.opts.Token; token != "" && token != s.client.Token() {
		return s.client.WithToken(token)
	}
	return s.client
}

// decorateForSkyfire applies the payment-token surface to every entry
// that starts Actor runs: call-actor and the per-Actor tools. Entries
// that fail to decorate are kept undecorated rather than dropped; the
// dispatcher then simply does not require a token for them.
func (s *Server) decorateForSkyfire(entries []*tools.Entry) []*tools.Entry {
	out := make([]*tools.Entry, len(entries))
	for i, entry := range entries {
		out[i] = entry
		if entry.Kind != tools.KindActor && entry.Name != catalog.CallActor {
			continue
		}
		decorated, err := payments.DecorateEntry(entry)
		if err != nil {
			s.logger.Warn("skyfire decoration failed", "tool", entry.Name, "error", err)
			continue
		}
		out[i] = decorated
	}
	return out
}
