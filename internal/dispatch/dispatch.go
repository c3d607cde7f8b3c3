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

// Package dispatch routes tools/call requests to tool handlers.
//
// The dispatcher owns argument validation, the Skyfire payment-token
// flow, per-call timeouts, outcome classification, and the task
// execution path. Handler errors never reach the transport as protocol
// errors; they come back as error content, except for cancelled calls,
// which produce no response at all.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/apify/actors-mcp-server-go/internal/payments"
	"github.com/apify/actors-mcp-server-go/internal/taskstore"
	"github.com/apify/actors-mcp-server-go/internal/telemetry"
	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// DefaultSyncTimeout bounds a plain synchronous tool call. Task-augmented
// calls are unbounded; long work belongs in tasks.
const DefaultSyncTimeout = 60 * time.Second

// taskCancelPollInterval is how often a running task execution checks the
// store for a cancellation issued through tasks/cancel.
const taskCancelPollInterval = time.Second

// workingMessage is the status message set when task execution starts.
const workingMessage = "Tool execution in progress"

// recoveryHint points the model at the discovery tools after a miss.
const recoveryHint = "Use the store-search tool to discover Actors and fetch-actor-details to inspect the input an Actor expects."

// CallMeta carries transport-level facts attached to telemetry events.
type CallMeta struct {
	Transport       string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
}

// Config assembles a Dispatcher.
type Config struct {
	Registry *tools.Registry

	// Store enables the task path. Nil is valid for servers that did not
	// configure a task store.
	Store taskstore.Store

	// Telemetry may be nil; all emission is skipped then.
	Telemetry *telemetry.Provider

	Logger *slog.Logger

	// SyncTimeout overrides DefaultSyncTimeout when positive.
	SyncTimeout time.Duration

	// SkyfireMode requires and verifies payment tokens on tools whose
	// schema was decorated with the skyfire-pay-id property.
	SkyfireMode bool
}

// Dispatcher executes tool calls against a registry. Safe for concurrent
// use.
type Dispatcher struct {
	registry  *tools.Registry
	store     taskstore.Store
	telemetry *telemetry.Provider
	logger    *slog.Logger
	timeout   time.Duration
	skyfire   bool

	// pollInterval is taskCancelPollInterval outside of tests.
	pollInterval time.Duration
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	return &Dispatcher{
		registry:     cfg.Registry,
		store:        cfg.Store,
		telemetry:    cfg.Telemetry,
		logger:       cfg.Logger,
		timeout:      cfg.SyncTimeout,
		skyfire:      cfg.SkyfireMode,
		pollInterval: taskCancelPollInterval,
	}
}

// Prepare resolves and validates a call without executing it. It returns
// the registry entry on success, a soft-fail result when the caller must
// fix the call (unknown tool, bad arguments, missing payment token), or
// an error for the one invariant violation the dispatcher refuses to
// absorb: an entry with an unknown kind.
//
// Prepare strips the Skyfire token from call.Arguments and records it on
// the call, so the arguments handlers see match the undecorated schema.
func (d *Dispatcher) Prepare(call *tools.Call) (*tools.Entry, *tools.Result, error) {
	entry, ok := d.registry.Get(call.ToolName)
	if !ok {
		return nil, d.unknownToolResult(call.ToolName), nil
	}

	switch entry.Kind {
	case tools.KindInternal, tools.KindActor, tools.KindActorMCP:
	default:
		return nil, nil, fmt.Errorf("tool %q has unknown kind %q", entry.Name, entry.Kind)
	}
	if entry.Handler == nil {
		return nil, nil, fmt.Errorf("tool %q has no handler", entry.Name)
	}

	if d.skyfire && payments.RequiresPayID(entry) {
		payID, cleaned := payments.ExtractPayID(call.Arguments)
		if payID == "" {
			return entry, tools.NewErrorResult(
				"The %q argument is required to call %q. %s",
				payments.ArgumentName, entry.Name, payments.InstructionsPrefix,
			), nil
		}
		if err := payments.ValidatePayID(payID); err != nil {
			return entry, tools.NewErrorResult(
				"The %q argument for %q is not a usable payment token: %v",
				payments.ArgumentName, entry.Name, err,
			), nil
		}
		call.SkyfirePayID = payID
		call.Arguments = cleaned
	}

	if entry.Validator != nil {
		if err := entry.Validator.Validate(anyArguments(call.Arguments)); err != nil {
			return entry, validationFailResult(entry, err), nil
		}
	}

	return entry, nil, nil
}

// Dispatch runs one synchronous tools/call end to end. The returned
// result is nil exactly when status is StatusAborted; the caller must
// then suppress the response. A non-nil error is an invariant violation
// the caller should surface as an invalid-params protocol error.
func (d *Dispatcher) Dispatch(ctx context.Context, call *tools.Call, meta CallMeta) (*tools.Result, Status, error) {
	start := time.Now()

	entry, softFail, err := d.Prepare(call)
	if err != nil {
		return nil, StatusFailed, err
	}
	if softFail != nil {
		d.track(ctx, entry, call, meta, StatusSoftFail, time.Since(start), false)
		return softFail, StatusSoftFail, nil
	}

	if entry.RequiresTask() {
		result := tools.NewErrorResult(
			"Tool %q only runs as a task. Repeat the call with task augmentation to receive a task handle.",
			entry.Name,
		)
		d.track(ctx, entry, call, meta, StatusSoftFail, time.Since(start), false)
		return result, StatusSoftFail, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	spanCtx, span := d.telemetry.StartToolSpan(execCtx, call.ToolName)
	result, status := d.run(spanCtx, entry, call)
	span.End()

	d.track(ctx, entry, call, meta, status, time.Since(start), false)

	if status == StatusAborted {
		return nil, StatusAborted, nil
	}
	return result, status, nil
}

// ExecuteTask runs the deferred half of a task-augmented call. The task
// record must already exist in status submitted; the caller has already
// responded with the task handle. entry and call come from Prepare.
//
// Cancellations issued through tasks/cancel are observed before the
// working transition, during execution (by polling), and again before
// the result is stored.
func (d *Dispatcher) ExecuteTask(ctx context.Context, taskID string, entry *tools.Entry, call *tools.Call, meta CallMeta) {
	if d.store == nil {
		d.logger.Error("task execution without a task store", "task_id", taskID)
		return
	}
	start := time.Now()

	if cancelled, err := d.store.IsCancelled(ctx, taskID, call.SessionID); err != nil || cancelled {
		if err != nil {
			d.logger.Warn("task cancellation pre-check failed", "task_id", taskID, "error", err)
		}
		d.track(ctx, entry, call, meta, StatusAborted, time.Since(start), true)
		return
	}

	if err := d.store.UpdateTaskStatus(ctx, taskID, taskstore.StatusWorking, workingMessage, call.SessionID); err != nil {
		// A cancel that raced the pre-check lands here as ErrTerminalState.
		d.logger.Debug("task did not reach working", "task_id", taskID, "error", err)
		d.track(ctx, entry, call, meta, StatusAborted, time.Since(start), true)
		return
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.watchCancellation(execCtx, cancel, taskID, call.SessionID)

	spanCtx, span := d.telemetry.StartToolSpan(execCtx, call.ToolName)
	result, status := d.run(spanCtx, entry, call)
	span.End()

	d.track(ctx, entry, call, meta, status, time.Since(start), true)

	switch status {
	case StatusAborted:
		// tasks/cancel already moved the record; a server shutdown leaves
		// the task as-is for the store owner to reap.
		return
	case StatusSucceeded, StatusSoftFail:
		d.storeResult(ctx, taskID, call.SessionID, taskstore.StatusCompleted, result)
	case StatusFailed:
		d.storeResult(ctx, taskID, call.SessionID, taskstore.StatusFailed, result)
	}
}

// run invokes the handler and classifies the outcome. A nil result means
// aborted. Handler panics are absorbed as failed calls.
func (d *Dispatcher) run(ctx context.Context, entry *tools.Entry, call *tools.Call) (result *tools.Result, status Status) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", entry.Name, "panic", r)
			result = errorResult(entry, fmt.Errorf("internal error while running %q", entry.Name), StatusFailed)
			status = StatusFailed
		}
	}()

	result, err := entry.Handler(ctx, call)
	status = Classify(err)

	switch status {
	case StatusAborted:
		d.logger.Info("tool call aborted", "tool", entry.Name, "session_id", call.SessionID)
		return nil, StatusAborted
	case StatusSucceeded:
		if result == nil {
			result = tools.NewTextResult("")
		}
		if result.IsError {
			// Handlers shape user-facing failures as error content.
			status = StatusSoftFail
		}
		return result, status
	default:
		d.logger.Warn("tool call failed",
			"tool", entry.Name,
			"session_id", call.SessionID,
			"status", string(status),
			"error", err,
		)
		return errorResult(entry, err, status), status
	}
}

// storeResult writes a terminal task result, honoring a cancellation
// that slipped in between execution and persistence.
func (d *Dispatcher) storeResult(ctx context.Context, taskID, sessionID string, status taskstore.Status, result *tools.Result) {
	if cancelled, err := d.store.IsCancelled(ctx, taskID, sessionID); err != nil || cancelled {
		if err != nil {
			d.logger.Warn("task cancellation re-check failed", "task_id", taskID, "error", err)
		}
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("task result does not marshal", "task_id", taskID, "error", err)
		payload = []byte(`{"content":[{"type":"text","text":"result serialization failed"}],"isError":true}`)
		status = taskstore.StatusFailed
	}

	if err := d.store.StoreTaskResult(ctx, taskID, status, payload, sessionID); err != nil {
		d.logger.Debug("task result not stored", "task_id", taskID, "error", err)
		return
	}
	d.telemetry.TrackTask(ctx, string(status))
}

// watchCancellation cancels the execution context once the task flips to
// cancelled. It exits with ctx.
func (d *Dispatcher) watchCancellation(ctx context.Context, cancel context.CancelFunc, taskID, sessionID string) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := d.store.IsCancelled(ctx, taskID, sessionID)
			if err != nil {
				continue
			}
			if cancelled {
				cancel()
				return
			}
		}
	}
}

func (d *Dispatcher) track(ctx context.Context, entry *tools.Entry, call *tools.Call, meta CallMeta, status Status, duration time.Duration, task bool) {
	event := telemetry.ToolCallEvent{
		Tool:            call.ToolName,
		Status:          string(status),
		SessionID:       call.SessionID,
		Transport:       meta.Transport,
		ProtocolVersion: meta.ProtocolVersion,
		ClientName:      meta.ClientName,
		ClientVersion:   meta.ClientVersion,
		Task:            task,
		Duration:        duration,
	}
	if entry != nil {
		event.ToolKind = string(entry.Kind)
	}
	d.telemetry.TrackToolCall(ctx, event)
}

// unknownToolResult lists what the client could have called instead.
func (d *Dispatcher) unknownToolResult(name string) *tools.Result {
	names := d.registry.Names()
	sort.Strings(names)

	available := "none"
	if len(names) > 0 {
		available = strings.Join(names, ", ")
	}
	return tools.NewErrorResult(
		"Tool %q is not available. Available tools: %s. %s",
		name, available, recoveryHint,
	)
}

// validationFailResult carries the violation and the expected schema so
// the caller can fix the next attempt.
func validationFailResult(entry *tools.Entry, err error) *tools.Result {
	result := tools.NewErrorResult("Arguments for tool %q failed validation: %v", entry.Name, err)
	if len(entry.InputSchema) > 0 {
		result.AddText("Expected input schema:\n" + string(entry.InputSchema))
		result.WithStructured(map[string]any{
			"toolName":    entry.Name,
			"message":     err.Error(),
			"inputSchema": json.RawMessage(entry.InputSchema),
		})
	}
	return result
}

// errorResult renders a classified handler failure as error content.
func errorResult(entry *tools.Entry, err error, status Status) *tools.Result {
	result := tools.NewErrorResult("Tool %q failed: %v", entry.Name, err)
	if status == StatusSoftFail && entry.Kind == tools.KindActor {
		result.AddText(recoveryHint)
	}
	return result
}

// anyArguments widens the argument map for the validator, which expects
// the decoded-JSON shape.
func anyArguments(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
