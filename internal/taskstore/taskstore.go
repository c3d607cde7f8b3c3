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

// Package taskstore persists task-augmented tool calls. A task is
// created in status submitted before execution starts, moves to working
// once, and ends in exactly one terminal status. Terminal states are
// absorbing: no write may leave them, which is what lets cancellation
// win races against result delivery.
//
// Every operation is scoped by session id. A task created under one
// session does not exist for any other.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

// Task lifecycle states.
const (
	StatusSubmitted Status = "submitted"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// HasPayload reports whether the status carries a retrievable result.
// Only completed and failed tasks do; a cancelled task never stored
// one, so tasks/get-payload fails on it the same way as on a running
// task.
func (s Status) HasPayload() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Store errors. ErrNotCompleted's text is part of the wire contract for
// tasks/get-payload on a task without a payload.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTerminalState = errors.New("task is already in a terminal state")
	ErrNotCompleted  = errors.New("task is not completed yet")
)

// ListPageSize is the fixed page size for ListTasks.
const ListPageSize = 20

// Task is one stored task record.
type Task struct {
	TaskID        string
	SessionID     string
	ToolName      string
	Status        Status
	StatusMessage string
	CreatedAt     time.Time
	// TTL is the client-requested retention hint in milliseconds.
	// Zero means the client asked for none.
	TTL int64
	// Request is the original tools/call params, kept for diagnostics.
	Request json.RawMessage
	// Result is the stored call result, present only in completed or
	// failed states.
	Result json.RawMessage
}

// Clone returns an independent copy so stores never hand out aliased
// records.
func (t *Task) Clone() *Task {
	c := *t
	if t.Request != nil {
		c.Request = append(json.RawMessage(nil), t.Request...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}

// CreateTaskOptions carry per-task creation parameters.
type CreateTaskOptions struct {
	// SessionID scopes the task. Required.
	SessionID string
	// TTL is the client-requested retention hint in milliseconds.
	TTL int64
}

// Store is the task persistence contract. Implementations provide their
// own consistency; callers never need external locking.
//
// Cancellation protocol: execution code must call IsCancelled
// immediately before transitioning to working and again before storing
// a result, returning early without writing when true. The store does
// not preempt in-flight work.
type Store interface {
	// CreateTask persists a new task in status submitted.
	CreateTask(ctx context.Context, opts CreateTaskOptions, toolName string, request json.RawMessage) (*Task, error)

	// GetTask returns the task visible to sessionID.
	GetTask(ctx context.Context, taskID, sessionID string) (*Task, error)

	// UpdateTaskStatus moves a non-terminal task to status. Transitions
	// out of a terminal state fail with ErrTerminalState.
	UpdateTaskStatus(ctx context.Context, taskID string, status Status, message, sessionID string) error

	// StoreTaskResult writes the result and the terminal status, which
	// must be completed or failed. Repeating the identical write is a
	// no-op; any other write to a terminal task fails with
	// ErrTerminalState.
	StoreTaskResult(ctx context.Context, taskID string, status Status, result json.RawMessage, sessionID string) error

	// GetTaskResult returns the stored result of a completed or failed
	// task. A running or cancelled task fails with ErrNotCompleted.
	GetTaskResult(ctx context.Context, taskID, sessionID string) (json.RawMessage, error)

	// ListTasks pages through the session's tasks in creation order.
	// cursor is an opaque value from a previous call; empty starts from
	// the beginning. nextCursor is empty on the last page.
	ListTasks(ctx context.Context, cursor, sessionID string) (tasks []*Task, nextCursor string, err error)

	// CancelTask moves a non-terminal task to cancelled and returns the
	// updated record. Cancelling a terminal task fails with
	// ErrTerminalState.
	CancelTask(ctx context.Context, taskID, message, sessionID string) (*Task, error)

	// IsCancelled reports whether the task is in status cancelled.
	IsCancelled(ctx context.Context, taskID, sessionID string) (bool, error)

	// Close releases the store's resources.
	Close() error
}
