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
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/schema"
	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// ActorEntry builds the tool entry for one Actor loaded into a session:
// the Actor's normalized input schema becomes the tool's input schema
// and calling the tool runs the Actor synchronously through the engine.
// A schema that does not normalize or compile fails the whole entry;
// unlike call-actor there is no generic input fallback, so the caller
// skips the Actor with a warning.
func ActorEntry(d *Deps, actor *apify.Actor, def *apify.ActorDefinition) (*tools.Entry, error) {
	fullName := actor.FullName()

	normalized, err := schema.Normalize(def.Input, schema.Options{
		PropertyWhitelist: whitelistFor(fullName),
	})
	if err != nil {
		return nil, fmt.Errorf("normalize input schema of %s: %w", fullName, err)
	}
	validator, err := schema.Compile(fullName, normalized)
	if err != nil {
		return nil, fmt.Errorf("compile input schema of %s: %w", fullName, err)
	}

	description := actor.Description
	if description == "" {
		description = fmt.Sprintf("Run the Apify Actor %s and return its output.", fullName)
	}

	entry := &tools.Entry{
		Kind:          tools.KindActor,
		Name:          tools.ActorToolName(fullName),
		Description:   description,
		InputSchema:   normalized,
		Validator:     validator,
		TaskSupport:   tools.TaskSupportOptional,
		ActorFullName: fullName,
		Annotations: &mcp.ToolAnnotation{
			ReadOnlyHint:  mcp.ToBoolPtr(false),
			OpenWorldHint: mcp.ToBoolPtr(true),
		},
		Handler: d.actorRunHandler(fullName),
	}
	if opts := actor.DefaultRunOpts; opts != nil {
		entry.MaxMemoryMBytes = opts.MemoryMbytes
	}
	return entry, nil
}

// actorRunHandler runs the named Actor with the call arguments as
// input. Arguments have already been validated against the entry's
// schema by the dispatcher, so the handler only decodes and runs.
func (d *Deps) actorRunHandler(actorFullName string) tools.Handler {
	return func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		client, err := d.client(call)
		if err != nil {
			return nil, err
		}

		req := execute.RunRequest{
			ActorFullName: actorFullName,
			Input:         schema.DecodeArguments(call.Arguments),
		}
		tracker := execute.NewTracker(call.Progress, d.logger())
		result, err := d.Engine.RunActor(ctx, client, req, tracker)
		if err != nil {
			return nil, err
		}
		return tools.NewJSONResult(result).WithStructured(result), nil
	}
}
