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

package execute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apify/actors-mcp-server-go/internal/apify"
)

// recordingReporter captures progress notifications; err, when set, is
// returned from every emit.
type recordingReporter struct {
	mu       sync.Mutex
	err      error
	progress []float64
	messages []string
}

func (r *recordingReporter) ReportProgress(_ context.Context, progress, _ float64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recordingReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// newRunPollClient serves GET /v2/actor-runs/{runID} from handler.
func newRunPollClient(t *testing.T, handler http.HandlerFunc) *apify.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := apify.NewClient("test-token", apify.WithBaseURL(server.URL))
	require.NoError(t, err)
	return client
}

func waitDone(t *testing.T, tracker *Tracker) {
	t.Helper()
	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run polling did not finish")
	}
}

func TestTrackerUpdate_CountsMonotonically(t *testing.T) {
	reporter := &recordingReporter{}
	tracker := NewTracker(reporter, nil)

	tracker.Update(context.Background(), "one")
	tracker.Update(context.Background(), "two")
	tracker.Update(context.Background(), "three")

	require.Equal(t, int64(3), tracker.Count())
	require.Equal(t, []float64{1, 2, 3}, reporter.progress)
	require.Equal(t, []string{"one", "two", "three"}, reporter.messages)
}

func TestTrackerUpdate_EmitErrorsSwallowed(t *testing.T) {
	reporter := &recordingReporter{err: context.Canceled}
	tracker := NewTracker(reporter, nil)

	tracker.Update(context.Background(), "dropped")

	// The counter advances even when the notification never lands.
	require.Equal(t, int64(1), tracker.Count())
}

func TestTrackerNilReporterDiscards(t *testing.T) {
	tracker := NewTracker(nil, nil)

	tracker.Update(context.Background(), "nowhere")

	require.Equal(t, int64(1), tracker.Count())
}

func TestTrackerStop_Idempotent(t *testing.T) {
	tracker := NewTracker(nil, nil)

	tracker.Stop()
	tracker.Stop()
}

func TestTrackerRunUpdates_EmitsOnChangeOnly(t *testing.T) {
	responses := []apify.Run{
		{ID: "run-1", Status: apify.RunStatusRunning, StatusMessage: "Starting"},
		{ID: "run-1", Status: apify.RunStatusRunning, StatusMessage: "Starting"},
		{ID: "run-1", Status: apify.RunStatusRunning, StatusMessage: "Crawling 5 pages"},
		{ID: "run-1", Status: apify.RunStatusSucceeded, StatusMessage: "Finished"},
	}

	var calls atomic.Int64
	client := newRunPollClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/actor-runs/run-1", r.URL.Path)
		idx := int(calls.Add(1)) - 1
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		json.NewEncoder(w).Encode(map[string]any{"data": responses[idx]})
	})

	reporter := &recordingReporter{}
	tracker := NewTracker(reporter, nil)
	tracker.pollInterval = 5 * time.Millisecond

	tracker.StartRunUpdates(context.Background(), client, "run-1", "apify/website-crawler")
	waitDone(t, tracker)

	// The duplicate poll result emits nothing; polling stops at the
	// terminal status.
	require.Equal(t, []string{
		"apify/website-crawler: RUNNING - Starting",
		"apify/website-crawler: RUNNING - Crawling 5 pages",
		"apify/website-crawler: SUCCEEDED - Finished",
	}, reporter.snapshot())
	require.Equal(t, int64(3), tracker.Count())
}

func TestTrackerRunUpdates_PollErrorsIgnored(t *testing.T) {
	var calls atomic.Int64
	client := newRunPollClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": apify.Run{ID: "run-1", Status: apify.RunStatusSucceeded},
		})
	})

	reporter := &recordingReporter{}
	tracker := NewTracker(reporter, nil)
	tracker.pollInterval = 5 * time.Millisecond

	tracker.StartRunUpdates(context.Background(), client, "run-1", "apify/website-crawler")
	waitDone(t, tracker)

	require.Equal(t, []string{"apify/website-crawler: SUCCEEDED"}, reporter.snapshot())
}

func TestTrackerRunUpdates_StopEndsPolling(t *testing.T) {
	client := newRunPollClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": apify.Run{ID: "run-1", Status: apify.RunStatusRunning},
		})
	})

	tracker := NewTracker(&recordingReporter{}, nil)
	tracker.pollInterval = 5 * time.Millisecond

	tracker.StartRunUpdates(context.Background(), client, "run-1", "job")

	require.Eventually(t, func() bool {
		return tracker.Count() >= 1
	}, 5*time.Second, time.Millisecond)

	tracker.Stop()
	waitDone(t, tracker)
}

func TestTrackerRunUpdates_ContextCancelEndsPolling(t *testing.T) {
	client := newRunPollClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": apify.Run{ID: "run-1", Status: apify.RunStatusRunning},
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	tracker := NewTracker(&recordingReporter{}, nil)
	tracker.pollInterval = 5 * time.Millisecond

	tracker.StartRunUpdates(ctx, client, "run-1", "job")
	cancel()
	waitDone(t, tracker)
}
