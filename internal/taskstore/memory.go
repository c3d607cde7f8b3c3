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

package taskstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps tasks in process memory. It backs the stdio
// transport, where the server and its single client share a lifetime.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// CreateTask implements Store.
func (s *MemoryStore) CreateTask(ctx context.Context, opts CreateTaskOptions, toolName string, request json.RawMessage) (*Task, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("create task: session id is required")
	}
	task := &Task{
		TaskID:    uuid.NewString(),
		SessionID: opts.SessionID,
		ToolName:  toolName,
		Status:    StatusSubmitted,
		CreatedAt: time.Now().UTC(),
		TTL:       opts.TTL,
		Request:   append(json.RawMessage(nil), request...),
	}

	s.mu.Lock()
	s.tasks[task.TaskID] = task
	s.order = append(s.order, task.TaskID)
	s.mu.Unlock()

	return task.Clone(), nil
}

// GetTask implements Store.
func (s *MemoryStore) GetTask(ctx context.Context, taskID, sessionID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// UpdateTaskStatus implements Store.
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, taskID string, status Status, message, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("update task %s to %s: %w", taskID, status, ErrTerminalState)
	}
	task.Status = status
	task.StatusMessage = message
	return nil
}

// StoreTaskResult implements Store.
func (s *MemoryStore) StoreTaskResult(ctx context.Context, taskID string, status Status, result json.RawMessage, sessionID string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("store task result: status %s is not a result-bearing terminal status", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		if task.Status == status && bytes.Equal(task.Result, result) {
			return nil // idempotent repeat
		}
		return fmt.Errorf("store result for task %s: %w", taskID, ErrTerminalState)
	}
	task.Status = status
	task.Result = append(json.RawMessage(nil), result...)
	return nil
}

// GetTaskResult implements Store.
func (s *MemoryStore) GetTaskResult(ctx context.Context, taskID, sessionID string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if !task.Status.HasPayload() {
		return nil, ErrNotCompleted
	}
	return append(json.RawMessage(nil), task.Result...), nil
}

// ListTasks implements Store.
func (s *MemoryStore) ListTasks(ctx context.Context, cursor, sessionID string) ([]*Task, string, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []*Task
	for _, id := range s.order {
		task := s.tasks[id]
		if task.SessionID == sessionID {
			mine = append(mine, task)
		}
	}
	if offset >= len(mine) {
		return nil, "", nil
	}

	end := offset + ListPageSize
	next := ""
	if end < len(mine) {
		next = encodeCursor(end)
	} else {
		end = len(mine)
	}

	page := make([]*Task, 0, end-offset)
	for _, task := range mine[offset:end] {
		page = append(page, task.Clone())
	}
	return page, next, nil
}

// CancelTask implements Store.
func (s *MemoryStore) CancelTask(ctx context.Context, taskID, message, sessionID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("cancel task %s: %w", taskID, ErrTerminalState)
	}
	task.Status = StatusCancelled
	task.StatusMessage = message
	return task.Clone(), nil
}

// IsCancelled implements Store.
func (s *MemoryStore) IsCancelled(ctx context.Context, taskID, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, err := s.getLocked(taskID, sessionID)
	if err != nil {
		return false, err
	}
	return task.Status == StatusCancelled, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*Task)
	s.order = nil
	return nil
}

// getLocked looks up a task under the caller's lock, enforcing session
// isolation. A task owned by another session is indistinguishable from
// a missing one.
func (s *MemoryStore) getLocked(taskID, sessionID string) (*Task, error) {
	task, ok := s.tasks[taskID]
	if !ok || task.SessionID != sessionID {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	return task, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("offset:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	rest, ok := strings.CutPrefix(string(raw), "offset:")
	if !ok {
		return 0, fmt.Errorf("invalid cursor")
	}
	offset, err := strconv.Atoi(rest)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return offset, nil
}
