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

// Package execute runs Actors on the platform and turns their output
// into tool results: it starts runs, tracks their progress, honors
// cancellation by aborting the remote run, and reduces dataset output to
// a schema plus a bounded preview.
package execute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/telemetry"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

const (
	// MinRunMemoryMBytes is the platform's smallest run memory.
	MinRunMemoryMBytes = 128

	// MaxRunMemoryMBytes is the platform's largest run memory. Requested
	// memory never exceeds it.
	MaxRunMemoryMBytes = 32768

	// DefaultMaxItems caps how many dataset items a run result carries
	// back for inference and preview.
	DefaultMaxItems = 1000

	// itemsPageSize is the dataset page size used when collecting items.
	itemsPageSize = 500

	// abortTimeout bounds the best-effort abort call issued after the
	// caller cancelled.
	abortTimeout = 15 * time.Second
)

// ClampMemory bounds a requested run memory to what the platform
// accepts. Zero and negative values mean "use the Actor's default" and
// pass through.
func ClampMemory(requested int) int {
	if requested <= 0 {
		return 0
	}
	if requested < MinRunMemoryMBytes {
		return MinRunMemoryMBytes
	}
	if requested > MaxRunMemoryMBytes {
		return MaxRunMemoryMBytes
	}
	return requested
}

// RunRequest describes one Actor execution.
type RunRequest struct {
	// ActorFullName is the owner-qualified Actor ("username/name").
	ActorFullName string

	// Input is the Actor input, already validated and dot-decoded.
	Input any

	// MemoryMBytes overrides run memory; 0 keeps the Actor default.
	MemoryMBytes int

	// TimeoutSecs overrides the run timeout; 0 keeps the Actor default.
	TimeoutSecs int

	// MaxItems caps collected dataset items; 0 means DefaultMaxItems.
	MaxItems int64

	// MaxTotalChargeUSD caps spending on pay-per-event Actors.
	MaxTotalChargeUSD float64
}

// RunResult is what a finished run hands back to the tool layer.
type RunResult struct {
	RunID        string           `json:"runId"`
	DatasetID    string           `json:"datasetId"`
	ItemCount    int64            `json:"itemCount"`
	Schema       map[string]any   `json:"schema,omitempty"`
	PreviewItems []map[string]any `json:"previewItems"`
}

// Engine executes Actor runs. One engine serves all sessions; the
// per-call token travels in the client argument.
type Engine struct {
	telemetry *telemetry.Provider
	logger    *slog.Logger
}

// NewEngine creates an Engine. telemetry may be nil.
func NewEngine(tel *telemetry.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{telemetry: tel, logger: logger}
}

// RunActor starts the Actor, waits for it to finish, and builds the
// result. Cancelling ctx aborts the remote run (gracefully=false) and
// returns ctx's error; abort failures are logged, never returned. The
// tracker is stopped on every exit path.
func (e *Engine) RunActor(ctx context.Context, client *apify.Client, req RunRequest, tracker *Tracker) (*RunResult, error) {
	if tracker == nil {
		tracker = NewTracker(nil, e.logger)
	}
	defer tracker.Stop()

	opts := apify.StartRunOptions{
		MemoryMbytes:      ClampMemory(req.MemoryMBytes),
		TimeoutSecs:       req.TimeoutSecs,
		MaxTotalChargeUSD: req.MaxTotalChargeUSD,
	}

	run, err := client.StartRun(ctx, req.ActorFullName, req.Input, opts)
	if err != nil {
		return nil, err
	}
	e.telemetry.TrackActorRun(ctx, req.ActorFullName, string(run.Status))
	e.logger.Info("actor run started",
		"actor", req.ActorFullName,
		"run_id", run.ID,
		"memory_mbytes", opts.MemoryMbytes,
	)

	tracker.StartRunUpdates(ctx, client, run.ID, req.ActorFullName)

	run, err = e.waitForRun(ctx, client, run)
	if err != nil {
		if ctx.Err() != nil {
			e.abortRun(ctx, client, run.ID, req.ActorFullName)
			return nil, ctx.Err()
		}
		return nil, err
	}
	tracker.Stop()

	e.telemetry.TrackActorRun(ctx, req.ActorFullName, string(run.Status))
	if run.Status != apify.RunStatusSucceeded {
		return nil, &errors.APIError{
			Code:    "actor-run-" + strings.ToLower(string(run.Status)),
			Message: fmt.Sprintf("Actor %s run %s finished with status %s", req.ActorFullName, run.ID, run.Status),
			Suggestion: fmt.Sprintf(
				"Inspect the run with get-actor-run or its log with get-actor-log (runId %q).", run.ID),
		}
	}

	maxItems := req.MaxItems
	if maxItems <= 0 || maxItems > DefaultMaxItems {
		maxItems = DefaultMaxItems
	}
	items, total, err := e.collectItems(ctx, client, run.DefaultDatasetID, maxItems)
	if err != nil {
		return nil, err
	}

	var views map[string]apify.DatasetView
	if def, defErr := client.GetActorDefinition(ctx, req.ActorFullName); defErr == nil {
		if def.Storages != nil && def.Storages.Dataset != nil {
			views = def.Storages.Dataset.Views
		}
	} else {
		// Preview falls back to whole items; not worth failing the call.
		e.logger.Debug("actor definition unavailable for preview projection",
			"actor", req.ActorFullName, "error", defErr)
	}

	return &RunResult{
		RunID:        run.ID,
		DatasetID:    run.DefaultDatasetID,
		ItemCount:    total,
		Schema:       InferSchema(items),
		PreviewItems: BuildPreview(items, views),
	}, nil
}

// waitForRun long-polls until the run reaches a terminal status.
func (e *Engine) waitForRun(ctx context.Context, client *apify.Client, run *apify.Run) (*apify.Run, error) {
	current := run
	for !current.Status.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		next, err := client.WaitForFinish(ctx, current.ID, 0)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return current, ctxErr
			}
			return current, err
		}
		current = next
	}
	return current, nil
}

// abortRun kills the remote run after the local call was cancelled. The
// cancelled context cannot carry the request, so the abort gets its own
// deadline.
func (e *Engine) abortRun(parent context.Context, client *apify.Client, runID, actorFullName string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), abortTimeout)
	defer cancel()

	if _, err := client.AbortRun(ctx, runID, false); err != nil {
		e.logger.Warn("aborting run after cancellation failed", "run_id", runID, "error", err)
		return
	}
	e.telemetry.TrackActorRun(ctx, actorFullName, string(apify.RunStatusAborted))
	e.logger.Info("run aborted after cancellation", "actor", actorFullName, "run_id", runID)
}

// collectItems pages through the run's default dataset up to maxItems.
func (e *Engine) collectItems(ctx context.Context, client *apify.Client, datasetID string, maxItems int64) ([]map[string]any, int64, error) {
	if datasetID == "" {
		return nil, 0, nil
	}

	var items []map[string]any
	var total, offset int64
	for int64(len(items)) < maxItems {
		limit := int64(itemsPageSize)
		if remaining := maxItems - int64(len(items)); remaining < limit {
			limit = remaining
		}

		page, err := client.GetDatasetItems(ctx, datasetID, apify.GetDatasetItemsOptions{
			Offset: offset,
			Limit:  limit,
			Clean:  true,
		})
		if err != nil {
			return nil, 0, err
		}

		items = append(items, page.Items...)
		total = page.Total
		offset += page.Count
		if page.Count == 0 || offset >= page.Total {
			break
		}
	}
	return items, total, nil
}
