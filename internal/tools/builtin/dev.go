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

package builtin

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

const addingDisabledMessage = "Dynamic Actor tooling is disabled. Start the server with --enable-adding-actors to change the tool set mid-session."

func addActorEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.AddActor,
		"Add an Actor from the Apify Store as a callable tool for this session. The "+
			"Actor's input schema becomes the tool's input schema. Find candidates with "+
			"store-search first.",
		objectSchema(map[string]any{
			"actor": map[string]any{
				"type":        "string",
				"title":       "Actor",
				"description": "Actor full name in owner/name form, e.g. 'apify/instagram-scraper'.",
			},
		}, "actor"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryDev
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(false),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = handleAddActor
	return entry, nil
}

func handleAddActor(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	if call.Mutator == nil {
		return tools.NewErrorResult("%s", addingDisabledMessage), nil
	}
	actor, _ := call.String("actor")

	names, err := call.Mutator.AddActorTools(ctx, actor)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"actor": actor, "tools": names}
	return tools.NewTextResult(
		"Added " + strings.Join(names, ", ") + ". The new tools are ready to call.",
	).WithStructured(payload), nil
}

func removeActorEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.RemoveActor,
		"Remove a dynamically added Actor tool from this session. Internal tools cannot "+
			"be removed.",
		objectSchema(map[string]any{
			"tool": map[string]any{
				"type":        "string",
				"title":       "Tool name",
				"description": "Name of the tool as listed, e.g. 'apify-slash-instagram-scraper'.",
			},
		}, "tool"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryDev
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:   mcp.ToBoolPtr(false),
		IdempotentHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = handleRemoveActor
	return entry, nil
}

func handleRemoveActor(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	if call.Mutator == nil {
		return tools.NewErrorResult("%s", addingDisabledMessage), nil
	}
	name, _ := call.String("tool")

	if err := call.Mutator.RemoveTool(ctx, name); err != nil {
		return nil, err
	}
	return tools.NewTextResult("Removed tool " + name + "."), nil
}
