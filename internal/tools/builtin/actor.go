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
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/schema"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

const (
	defaultLogBytes = 50_000
	maxLogBytes     = 1 << 20
)

func callActorEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.CallActor,
		"Run an Apify Actor and wait for it to finish. The input must match the Actor's "+
			"input schema; use fetch-actor-details first to see it. Returns the runId, the "+
			"default datasetId, an inferred schema of the output items, and a size-bounded "+
			"preview. Use get-actor-output or get-dataset-items to read more of the results, "+
			"and get-actor-run to check on the run later.",
		objectSchema(map[string]any{
			"actor": map[string]any{
				"type":        "string",
				"title":       "Actor",
				"description": "Actor full name in owner/name form, e.g. 'apify/rag-web-browser'.",
			},
			"input": map[string]any{
				"type":        "object",
				"title":       "Actor input",
				"description": "Input for the run, matching the Actor's input schema from fetch-actor-details.",
			},
			"memoryMbytes": map[string]any{
				"type":        "integer",
				"title":       "Run memory (MB)",
				"description": "Memory for the run in megabytes. Omit to keep the Actor default; out-of-range values are clamped to the platform limits.",
			},
			"timeoutSecs": map[string]any{
				"type":        "integer",
				"title":       "Run timeout (seconds)",
				"description": "Abort the run after this many seconds. Omit to keep the Actor default.",
			},
			"maxItems": map[string]any{
				"type":        "integer",
				"title":       "Maximum items",
				"description": "Cap on dataset items collected into the response (at most 1000).",
			},
			"maxTotalChargeUsd": map[string]any{
				"type":        "number",
				"title":       "Spending cap (USD)",
				"description": "Maximum total charge for pay-per-event Actors.",
			},
		}, "actor"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryActors
	entry.TaskSupport = tools.TaskSupportOptional
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(false),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleCallActor
	return entry, nil
}

func (d *Deps) handleCallActor(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	actor, _ := call.String("actor")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	def, err := client.GetActorDefinition(ctx, actor)
	if err != nil {
		return nil, err
	}

	normalized, err := schema.Normalize(def.Input, schema.Options{
		PropertyWhitelist: whitelistFor(actor),
	})
	if err != nil {
		return nil, err
	}

	input, _ := call.Arguments["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	if validator, err := schema.Compile(actor, normalized); err != nil {
		d.logger().Warn("actor input schema does not compile, skipping validation",
			"actor", actor, "error", err)
	} else if err := validator.Validate(input); err != nil {
		return actorInputFailResult(actor, normalized, err), nil
	}

	req := execute.RunRequest{
		ActorFullName:     actor,
		Input:             schema.DecodeArguments(input),
		MemoryMBytes:      call.IntOr("memoryMbytes", 0),
		TimeoutSecs:       call.IntOr("timeoutSecs", 0),
		MaxItems:          int64(call.IntOr("maxItems", 0)),
		MaxTotalChargeUSD: call.FloatOr("maxTotalChargeUsd", 0),
	}

	tracker := execute.NewTracker(call.Progress, d.logger())
	result, err := d.Engine.RunActor(ctx, client, req, tracker)
	if err != nil {
		return nil, err
	}
	return tools.NewJSONResult(result).WithStructured(result), nil
}

// actorInputFailResult reports a target-Actor validation failure with
// the schema attached, so the next attempt can be corrected without
// another details fetch. No run has been started at this point.
func actorInputFailResult(actor string, inputSchema json.RawMessage, err error) *tools.Result {
	result := tools.NewErrorResult("Input for Actor %q failed validation: %v", actor, err)
	result.AddText("Expected input schema:\n" + string(inputSchema))
	result.WithStructured(map[string]any{
		"actor":       actor,
		"message":     err.Error(),
		"inputSchema": json.RawMessage(inputSchema),
	})
	return result
}

func getActorRunEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.GetActorRun,
		"Get the current state of an Actor run: status, status message, timings, and the "+
			"ids of its default dataset and key-value store. Use get-actor-log to see why a "+
			"run failed and get-actor-output to read its results.",
		objectSchema(map[string]any{
			"runId": map[string]any{
				"type":        "string",
				"title":       "Run id",
				"description": "Run id returned by call-actor.",
			},
		}, "runId"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryRuns
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleGetActorRun
	return entry, nil
}

func (d *Deps) handleGetActorRun(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	runID, _ := call.String("runId")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	run, err := client.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return tools.NewJSONResult(run).WithStructured(run), nil
}

func getActorLogEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.GetActorLog,
		"Fetch the tail of an Actor run's log. The log explains failures and shows the "+
			"run's own progress reporting.",
		objectSchema(map[string]any{
			"runId": map[string]any{
				"type":        "string",
				"title":       "Run id",
				"description": "Run id returned by call-actor.",
			},
			"maxBytes": map[string]any{
				"type":        "integer",
				"title":       "Maximum log bytes",
				"description": "How much of the log tail to return.",
				"default":     defaultLogBytes,
			},
		}, "runId"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryRuns
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleGetActorLog
	return entry, nil
}

func (d *Deps) handleGetActorLog(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	runID, _ := call.String("runId")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	maxBytes := int64(call.IntOr("maxBytes", defaultLogBytes))
	if maxBytes <= 0 {
		maxBytes = defaultLogBytes
	}
	if maxBytes > maxLogBytes {
		maxBytes = maxLogBytes
	}

	logText, err := client.GetRunLog(ctx, runID, maxBytes)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(logText) == "" {
		return tools.NewTextResult("The run has not produced any log output yet."), nil
	}
	return tools.NewTextResult(logText), nil
}

func abortActorRunEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.AbortActorRun,
		"Abort a running Actor run. Aborted runs keep the data they produced so far.",
		objectSchema(map[string]any{
			"runId": map[string]any{
				"type":        "string",
				"title":       "Run id",
				"description": "Run id returned by call-actor.",
			},
			"gracefully": map[string]any{
				"type":        "boolean",
				"title":       "Graceful abort",
				"description": "Give the run up to 30 seconds to finish its current work before stopping.",
				"default":     false,
			},
		}, "runId"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryRuns
	entry.Annotations = &mcp.ToolAnnotation{
		DestructiveHint: mcp.ToBoolPtr(true),
		IdempotentHint:  mcp.ToBoolPtr(true),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleAbortActorRun
	return entry, nil
}

func (d *Deps) handleAbortActorRun(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	runID, _ := call.String("runId")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	run, err := client.AbortRun(ctx, runID, call.BoolOr("gracefully", false))
	if err != nil {
		return nil, err
	}
	return tools.NewJSONResult(run).WithStructured(run), nil
}
