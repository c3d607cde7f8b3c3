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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists tasks in a SQLite database. It backs the HTTP
// transport, where tasks must survive the request that created them.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteConfig contains SQLite connection configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// NewSQLiteStore opens (creating if needed) the task database at
// cfg.Path and runs migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *SQLiteStore) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT,
			created_at TEXT NOT NULL,
			ttl_ms INTEGER NOT NULL DEFAULT 0,
			request TEXT,
			result TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateTask implements Store.
func (s *SQLiteStore) CreateTask(ctx context.Context, opts CreateTaskOptions, toolName string, request json.RawMessage) (*Task, error) {
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

	query := `
		INSERT INTO tasks (task_id, session_id, tool_name, status, status_message, created_at, ttl_ms, request, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.TaskID, task.SessionID, task.ToolName, string(task.Status),
		nullString(task.StatusMessage), task.CreatedAt.Format(time.RFC3339Nano),
		task.TTL, nullString(string(task.Request)), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// GetTask implements Store.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID, sessionID string) (*Task, error) {
	return s.getTask(ctx, taskID, sessionID)
}

// nonTerminalGuard restricts updates to live tasks so that terminal
// transitions are atomic even across racing writers.
const nonTerminalGuard = `status NOT IN ('completed', 'failed', 'cancelled')`

// UpdateTaskStatus implements Store.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, status Status, message, sessionID string) error {
	query := `UPDATE tasks SET status = ?, status_message = ? WHERE task_id = ? AND session_id = ? AND ` + nonTerminalGuard
	res, err := s.db.ExecContext(ctx, query, string(status), nullString(message), taskID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getTask(ctx, taskID, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("update task %s to %s: %w", taskID, status, ErrTerminalState)
	}
	return nil
}

// StoreTaskResult implements Store.
func (s *SQLiteStore) StoreTaskResult(ctx context.Context, taskID string, status Status, result json.RawMessage, sessionID string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("store task result: status %s is not a result-bearing terminal status", status)
	}

	query := `UPDATE tasks SET status = ?, result = ? WHERE task_id = ? AND session_id = ? AND ` + nonTerminalGuard
	res, err := s.db.ExecContext(ctx, query, string(status), nullString(string(result)), taskID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to store task result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.getTask(ctx, taskID, sessionID)
		if err != nil {
			return err
		}
		if current.Status == status && bytes.Equal(current.Result, result) {
			return nil // idempotent repeat
		}
		return fmt.Errorf("store result for task %s: %w", taskID, ErrTerminalState)
	}
	return nil
}

// GetTaskResult implements Store.
func (s *SQLiteStore) GetTaskResult(ctx context.Context, taskID, sessionID string) (json.RawMessage, error) {
	task, err := s.getTask(ctx, taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if !task.Status.HasPayload() {
		return nil, ErrNotCompleted
	}
	return task.Result, nil
}

// ListTasks implements Store.
func (s *SQLiteStore) ListTasks(ctx context.Context, cursor, sessionID string) ([]*Task, string, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	// Fetch one row beyond the page to learn whether more pages exist.
	query := `
		SELECT task_id, session_id, tool_name, status, status_message, created_at, ttl_ms, request, result
		FROM tasks WHERE session_id = ?
		ORDER BY created_at, rowid
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, ListPageSize+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list tasks: %w", err)
	}

	next := ""
	if len(tasks) > ListPageSize {
		tasks = tasks[:ListPageSize]
		next = encodeCursor(offset + ListPageSize)
	}
	return tasks, next, nil
}

// CancelTask implements Store.
func (s *SQLiteStore) CancelTask(ctx context.Context, taskID, message, sessionID string) (*Task, error) {
	query := `UPDATE tasks SET status = ?, status_message = ? WHERE task_id = ? AND session_id = ? AND ` + nonTerminalGuard
	res, err := s.db.ExecContext(ctx, query, string(StatusCancelled), nullString(message), taskID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getTask(ctx, taskID, sessionID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cancel task %s: %w", taskID, ErrTerminalState)
	}
	return s.getTask(ctx, taskID, sessionID)
}

// IsCancelled implements Store.
func (s *SQLiteStore) IsCancelled(ctx context.Context, taskID, sessionID string) (bool, error) {
	task, err := s.getTask(ctx, taskID, sessionID)
	if err != nil {
		return false, err
	}
	return task.Status == StatusCancelled, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getTask(ctx context.Context, taskID, sessionID string) (*Task, error) {
	query := `
		SELECT task_id, session_id, tool_name, status, status_message, created_at, ttl_ms, request, result
		FROM tasks WHERE task_id = ? AND session_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, taskID, sessionID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status string
	var statusMessage, createdAt, request, result sql.NullString

	err := row.Scan(
		&task.TaskID, &task.SessionID, &task.ToolName, &status,
		&statusMessage, &createdAt, &task.TTL, &request, &result,
	)
	if err != nil {
		return nil, err
	}

	task.Status = Status(status)
	if statusMessage.Valid {
		task.StatusMessage = statusMessage.String
	}
	if createdAt.Valid {
		task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt.String)
	}
	if request.Valid && request.String != "" {
		task.Request = json.RawMessage(request.String)
	}
	if result.Valid && result.String != "" {
		task.Result = json.RawMessage(result.String)
	}
	return &task, nil
}

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
