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
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// withEachStore runs the conformance suite against both implementations.
func withEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		store := NewMemoryStore()
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLiteStore(SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "tasks.db"),
			WAL:  true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func createTestTask(t *testing.T, store Store, sessionID string) *Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), CreateTaskOptions{SessionID: sessionID},
		"call-actor", json.RawMessage(`{"name":"call-actor","arguments":{}}`))
	require.NoError(t, err)
	return task
}

func TestTaskLifecycle(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")
		require.NotEmpty(t, task.TaskID)
		require.Equal(t, StatusSubmitted, task.Status)
		require.False(t, task.CreatedAt.IsZero())

		require.NoError(t, store.UpdateTaskStatus(ctx, task.TaskID, StatusWorking, "Actor run started", "session-1"))
		got, err := store.GetTask(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.Equal(t, StatusWorking, got.Status)
		require.Equal(t, "Actor run started", got.StatusMessage)

		result := json.RawMessage(`{"content":[{"type":"text","text":"done"}]}`)
		require.NoError(t, store.StoreTaskResult(ctx, task.TaskID, StatusCompleted, result, "session-1"))

		got, err = store.GetTask(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, got.Status)

		payload, err := store.GetTaskResult(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.JSONEq(t, string(result), string(payload))
	})
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		_, err := store.CancelTask(ctx, task.TaskID, "client cancelled", "session-1")
		require.NoError(t, err)

		err = store.UpdateTaskStatus(ctx, task.TaskID, StatusWorking, "", "session-1")
		require.ErrorIs(t, err, ErrTerminalState)

		err = store.StoreTaskResult(ctx, task.TaskID, StatusCompleted, json.RawMessage(`{}`), "session-1")
		require.ErrorIs(t, err, ErrTerminalState)

		_, err = store.CancelTask(ctx, task.TaskID, "again", "session-1")
		require.ErrorIs(t, err, ErrTerminalState)

		got, err := store.GetTask(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.Equal(t, StatusCancelled, got.Status)
		require.Equal(t, "client cancelled", got.StatusMessage)
	})
}

func TestStoreTaskResultIdempotentRepeat(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")
		result := json.RawMessage(`{"content":[]}`)

		require.NoError(t, store.StoreTaskResult(ctx, task.TaskID, StatusFailed, result, "session-1"))
		// The identical write again is a no-op.
		require.NoError(t, store.StoreTaskResult(ctx, task.TaskID, StatusFailed, result, "session-1"))
		// A different write is rejected.
		err := store.StoreTaskResult(ctx, task.TaskID, StatusCompleted, result, "session-1")
		require.ErrorIs(t, err, ErrTerminalState)
	})
}

func TestStoreTaskResultRejectsNonTerminal(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		task := createTestTask(t, store, "session-1")
		err := store.StoreTaskResult(context.Background(), task.TaskID, StatusWorking, json.RawMessage(`{}`), "session-1")
		require.Error(t, err)
	})
}

func TestGetTaskResultBeforeTerminal(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		_, err := store.GetTaskResult(ctx, task.TaskID, "session-1")
		require.ErrorIs(t, err, ErrNotCompleted)
		require.EqualError(t, err, "task is not completed yet")

		require.NoError(t, store.UpdateTaskStatus(ctx, task.TaskID, StatusWorking, "", "session-1"))
		_, err = store.GetTaskResult(ctx, task.TaskID, "session-1")
		require.ErrorIs(t, err, ErrNotCompleted)
	})
}

func TestGetTaskResultAfterCancel(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		_, err := store.CancelTask(ctx, task.TaskID, "client cancelled", "session-1")
		require.NoError(t, err)

		// Cancelled is terminal but stored no result; the payload read
		// fails exactly like on a running task.
		_, err = store.GetTaskResult(ctx, task.TaskID, "session-1")
		require.ErrorIs(t, err, ErrNotCompleted)
		require.EqualError(t, err, "task is not completed yet")
	})
}

func TestSessionIsolation(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		// Another session cannot see, mutate, or cancel the task.
		_, err := store.GetTask(ctx, task.TaskID, "session-2")
		require.ErrorIs(t, err, ErrTaskNotFound)

		err = store.UpdateTaskStatus(ctx, task.TaskID, StatusWorking, "", "session-2")
		require.ErrorIs(t, err, ErrTaskNotFound)

		_, err = store.CancelTask(ctx, task.TaskID, "", "session-2")
		require.ErrorIs(t, err, ErrTaskNotFound)

		_, err = store.IsCancelled(ctx, task.TaskID, "session-2")
		require.ErrorIs(t, err, ErrTaskNotFound)

		tasks, _, err := store.ListTasks(ctx, "", "session-2")
		require.NoError(t, err)
		require.Empty(t, tasks)
	})
}

func TestListTasksPagination(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		const total = ListPageSize + 5
		for i := 0; i < total; i++ {
			createTestTask(t, store, "session-1")
		}
		createTestTask(t, store, "session-other")

		first, cursor, err := store.ListTasks(ctx, "", "session-1")
		require.NoError(t, err)
		require.Len(t, first, ListPageSize)
		require.NotEmpty(t, cursor)

		second, cursor, err := store.ListTasks(ctx, cursor, "session-1")
		require.NoError(t, err)
		require.Len(t, second, total-ListPageSize)
		require.Empty(t, cursor)

		seen := make(map[string]bool)
		for _, task := range append(first, second...) {
			require.False(t, seen[task.TaskID], "task %s appeared twice", task.TaskID)
			seen[task.TaskID] = true
		}

		_, _, err = store.ListTasks(ctx, "garbage-cursor", "session-1")
		require.Error(t, err)
	})
}

func TestIsCancelled(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		cancelled, err := store.IsCancelled(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.False(t, cancelled)

		_, err = store.CancelTask(ctx, task.TaskID, "stop", "session-1")
		require.NoError(t, err)

		cancelled, err = store.IsCancelled(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.True(t, cancelled)
	})
}

func TestConcurrentTerminalWrites(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		task := createTestTask(t, store, "session-1")

		// Cancellation racing result delivery: exactly one terminal
		// status must stick.
		var wg sync.WaitGroup
		results := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, results[0] = store.CancelTask(ctx, task.TaskID, "cancelled", "session-1")
		}()
		go func() {
			defer wg.Done()
			results[1] = store.StoreTaskResult(ctx, task.TaskID, StatusCompleted, json.RawMessage(`{"content":[]}`), "session-1")
		}()
		wg.Wait()

		got, err := store.GetTask(ctx, task.TaskID, "session-1")
		require.NoError(t, err)
		require.True(t, got.Status.IsTerminal())
		require.Contains(t, []Status{StatusCancelled, StatusCompleted}, got.Status)

		// At least one writer succeeded; if both did, the store is broken.
		if results[0] == nil && results[1] == nil {
			t.Fatalf("both terminal writes succeeded; terminal states must be absorbing")
		}
	})
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusSubmitted, false},
		{StatusWorking, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestCreateTaskRequiresSession(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		_, err := store.CreateTask(context.Background(), CreateTaskOptions{}, "call-actor", nil)
		require.Error(t, err)
	})
}

func TestTaskCloneIndependence(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	task := createTestTask(t, store, "session-1")
	task.Status = StatusFailed
	task.Request[0] = 'X'

	got, err := store.GetTask(ctx, task.TaskID, "session-1")
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, got.Status, "mutating a returned task must not touch the store")
	require.Equal(t, byte('{'), got.Request[0])
}

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 20, 12345} {
		t.Run(fmt.Sprint(offset), func(t *testing.T) {
			got, err := decodeCursor(encodeCursor(offset))
			require.NoError(t, err)
			require.Equal(t, offset, got)
		})
	}
	_, err := decodeCursor("not-base64!!!")
	require.Error(t, err)
}
