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
	"encoding/json"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/dispatch"
	"github.com/apify/actors-mcp-server-go/internal/taskstore"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

// taskPollIntervalMS is the poll cadence hint served with every task
// handle.
const taskPollIntervalMS = 1000

// rpcRequest is the minimal frame the shim inspects. The id stays raw
// and is echoed verbatim.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// listedTool is the tools/list projection: public fields only, handlers
// and validators never leave the registry.
type listedTool struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	InputSchema  json.RawMessage     `json:"inputSchema"`
	OutputSchema json.RawMessage     `json:"outputSchema,omitempty"`
	Annotations  *mcp.ToolAnnotation `json:"annotations,omitempty"`
	Meta         map[string]any      `json:"_meta,omitempty"`
	Execution    *toolExecution      `json:"execution,omitempty"`
}

type toolExecution struct {
	TaskSupport string `json:"taskSupport"`
}

// wireTask is the task projection served by tools/call augmentation and
// the tasks/* requests.
type wireTask struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
	CreatedAt     string `json:"createdAt"`
	TTL           int64  `json:"ttl,omitempty"`
	PollInterval  int64  `json:"pollInterval"`
}

func taskToWire(task *taskstore.Task) wireTask {
	return wireTask{
		TaskID:        task.TaskID,
		Status:        string(task.Status),
		StatusMessage: task.StatusMessage,
		CreatedAt:     task.CreatedAt.UTC().Format(time.RFC3339),
		TTL:           task.TTL,
		PollInterval:  taskPollIntervalMS,
	}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments"`
	Meta      *callMetaParams `json:"_meta"`
	Task      *taskParams     `json:"task"`
}

type callMetaParams struct {
	ProgressToken any `json:"progressToken"`
}

type taskParams struct {
	TTL int64 `json:"ttl"`
}

func (p *callParams) progressToken() any {
	if p.Meta == nil {
		return nil
	}
	return p.Meta.ProgressToken
}

type taskRefParams struct {
	TaskID string `json:"taskId"`
}

type taskListParams struct {
	Cursor string `json:"cursor"`
}

// interceptMessage handles the requests mcp-go has no semantics for:
// the registry's tools/list projection, task-augmented and unknown-tool
// tools/call, and the tasks/* lifecycle. It returns the marshaled
// response and whether the message was consumed. A consumed message
// with a nil response means no response is sent at all.
func (s *Server) interceptMessage(ctx context.Context, state *sessionState, raw []byte) ([]byte, bool) {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, false
	}

	switch req.Method {
	case "tools/list", "tools/call", "tasks/list", "tasks/get", "tasks/get-payload", "tasks/cancel":
	default:
		return nil, false
	}
	if len(req.ID) == 0 || string(req.ID) == "null" {
		// A request without an id is a notification; consuming it
		// without a response beats mcp-go's protocol error.
		return nil, true
	}

	switch req.Method {
	case "tools/list":
		return s.respond(req.ID, s.listToolsResult(state)), true
	case "tools/call":
		return s.interceptCall(ctx, state, req)
	case "tasks/list":
		return s.handleTasksList(ctx, state, req), true
	case "tasks/get":
		return s.handleTasksGet(ctx, state, req), true
	case "tasks/get-payload":
		return s.handleTasksGetPayload(ctx, state, req), true
	case "tasks/cancel":
		return s.handleTasksCancel(ctx, state, req), true
	}
	return nil, false
}

func (s *Server) respond(id json.RawMessage, result any) []byte {
	out, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		s.logger.Error("response does not marshal", "error", err)
		return s.respondError(id, mcp.INTERNAL_ERROR, "response serialization failed")
	}
	return out
}

func (s *Server) respondError(id json.RawMessage, code int, message string) []byte {
	out, _ := json.Marshal(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
	return out
}

// listToolsResult projects the session registry in workflow order with
// mode-filtered metadata.
func (s *Server) listToolsResult(state *sessionState) map[string]any {
	entries := catalog.SortForListing(state.registry.List())
	listed := make([]listedTool, 0, len(entries))
	for _, entry := range entries {
		inputSchema := entry.InputSchema
		if inputSchema == nil {
			inputSchema = json.RawMessage(`{"type":"object"}`)
		}
		listed = append(listed, listedTool{
			Name:         entry.Name,
			Description:  entry.Description,
			InputSchema:  inputSchema,
			OutputSchema: entry.OutputSchema,
			Annotations:  entry.Annotations,
			Meta:         filteredMeta(entry.Meta, state.mode),
			Execution:    &toolExecution{TaskSupport: taskSupportOf(entry)},
		})
	}
	return map[string]any{"tools": listed}
}

func taskSupportOf(entry *tools.Entry) string {
	if entry.TaskSupport == "" {
		return string(tools.TaskSupportNone)
	}
	return string(entry.TaskSupport)
}

// interceptCall consumes the two tools/call shapes mcp-go must not see:
// task-augmented calls and calls to names missing from the registry,
// which produce soft-fail results rather than protocol errors. Plain
// calls to known tools pass through.
func (s *Server) interceptCall(ctx context.Context, state *sessionState, req rpcRequest) ([]byte, bool) {
	var p callParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return s.respondError(req.ID, mcp.INVALID_PARAMS, "invalid tools/call params"), true
	}
	if p.Task != nil {
		return s.handleTaskCall(ctx, state, req, p), true
	}
	if _, ok := state.registry.Get(p.Name); !ok {
		return s.dispatchDirect(ctx, state, req, p), true
	}
	return nil, false
}

// dispatchDirect runs a synchronous call through the dispatcher without
// mcp-go routing. Used for unknown tools, whose listing-aware soft-fail
// result only the dispatcher can produce.
func (s *Server) dispatchDirect(ctx context.Context, state *sessionState, req rpcRequest, p callParams) []byte {
	token := p.progressToken()
	call := &tools.Call{
		ToolName:      p.Name,
		Arguments:     p.Arguments,
		SessionID:     state.id(),
		ProgressToken: token,
		APIToken:      s.callToken(ctx, state),
		Progress:      &progressReporter{server: s, token: token},
		Mutator:       state.mutator,
	}

	result, status, err := state.dispatcher.Dispatch(ctx, call, state.callMeta())
	if err != nil {
		return s.respondError(req.ID, mcp.INVALID_PARAMS, err.Error())
	}
	if status == dispatch.StatusAborted {
		return nil
	}
	return s.respond(req.ID, result)
}

// handleTaskCall implements task-augmented tools/call: validate first,
// persist the task, respond with the handle, and only then start
// executing. The task id exists before any work does.
func (s *Server) handleTaskCall(ctx context.Context, state *sessionState, req rpcRequest, p callParams) []byte {
	if s.store == nil {
		return s.respondError(req.ID, mcp.INVALID_REQUEST, "task execution is not available on this server")
	}

	token := p.progressToken()
	call := &tools.Call{
		ToolName:      p.Name,
		Arguments:     p.Arguments,
		SessionID:     state.id(),
		ProgressToken: token,
		APIToken:      s.callToken(ctx, state),
		Mutator:       state.mutator,
	}

	entry, softFail, err := state.dispatcher.Prepare(call)
	if err != nil {
		return s.respondError(req.ID, mcp.INVALID_PARAMS, err.Error())
	}
	if softFail != nil {
		// The caller can fix the call; no task record is created for it.
		return s.respond(req.ID, softFail)
	}
	if !entry.AllowsTask() {
		return s.respond(req.ID, tools.NewErrorResult(
			"Tool %q does not support task execution. Call it without task augmentation.", entry.Name,
		))
	}

	task, err := s.store.CreateTask(ctx, taskstore.CreateTaskOptions{
		SessionID: state.id(),
		TTL:       p.Task.TTL,
	}, entry.Name, req.Params)
	if err != nil {
		return s.respondError(req.ID, mcp.INTERNAL_ERROR, "task not created: "+err.Error())
	}

	call.TaskID = task.TaskID
	call.Progress = &progressReporter{server: s, token: token, taskID: task.TaskID}

	// Execution outlives the request but keeps its session identity for
	// notifications and telemetry.
	execCtx := context.WithoutCancel(ctx)
	go state.dispatcher.ExecuteTask(execCtx, task.TaskID, entry, call, state.callMeta())

	return s.respond(req.ID, map[string]any{"task": taskToWire(task)})
}

func (s *Server) handleTasksList(ctx context.Context, state *sessionState, req rpcRequest) []byte {
	if s.store == nil {
		return s.respondError(req.ID, mcp.INVALID_REQUEST, "tasks are not available on this server")
	}
	var p taskListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return s.respondError(req.ID, mcp.INVALID_PARAMS, "invalid tasks/list params")
		}
	}

	tasks, nextCursor, err := s.store.ListTasks(ctx, p.Cursor, state.id())
	if err != nil {
		return s.taskError(req.ID, err)
	}

	listed := make([]wireTask, len(tasks))
	for i, task := range tasks {
		listed[i] = taskToWire(task)
	}
	result := map[string]any{"tasks": listed}
	if nextCursor != "" {
		result["nextCursor"] = nextCursor
	}
	return s.respond(req.ID, result)
}

func (s *Server) handleTasksGet(ctx context.Context, state *sessionState, req rpcRequest) []byte {
	taskID, errResp := s.taskRef(req)
	if errResp != nil {
		return errResp
	}
	task, err := s.store.GetTask(ctx, taskID, state.id())
	if err != nil {
		return s.taskError(req.ID, err)
	}
	return s.respond(req.ID, taskToWire(task))
}

func (s *Server) handleTasksGetPayload(ctx context.Context, state *sessionState, req rpcRequest) []byte {
	taskID, errResp := s.taskRef(req)
	if errResp != nil {
		return errResp
	}
	payload, err := s.store.GetTaskResult(ctx, taskID, state.id())
	if err != nil {
		return s.taskError(req.ID, err)
	}
	return s.respond(req.ID, json.RawMessage(payload))
}

func (s *Server) handleTasksCancel(ctx context.Context, state *sessionState, req rpcRequest) []byte {
	taskID, errResp := s.taskRef(req)
	if errResp != nil {
		return errResp
	}
	task, err := s.store.CancelTask(ctx, taskID, "Cancelled by client", state.id())
	if err != nil {
		return s.taskError(req.ID, err)
	}
	return s.respond(req.ID, taskToWire(task))
}

// taskRef validates the common {taskId} params shape.
func (s *Server) taskRef(req rpcRequest) (string, []byte) {
	if s.store == nil {
		return "", s.respondError(req.ID, mcp.INVALID_REQUEST, "tasks are not available on this server")
	}
	var p taskRefParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return "", s.respondError(req.ID, mcp.INVALID_PARAMS, "invalid task params")
		}
	}
	if p.TaskID == "" {
		return "", s.respondError(req.ID, mcp.INVALID_PARAMS, "taskId is required")
	}
	return p.TaskID, nil
}

// taskError maps store errors onto JSON-RPC errors. Not-found and
// state-machine violations are the caller's fault; everything else is
// ours.
func (s *Server) taskError(id json.RawMessage, err error) []byte {
	switch {
	case errors.Is(err, taskstore.ErrTaskNotFound),
		errors.Is(err, taskstore.ErrNotCompleted),
		errors.Is(err, taskstore.ErrTerminalState):
		return s.respondError(id, mcp.INVALID_PARAMS, err.Error())
	default:
		return s.respondError(id, mcp.INTERNAL_ERROR, err.Error())
	}
}
