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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// runPollInterval is how often the tracker polls a remote run for status
// changes.
const runPollInterval = 2 * time.Second

// Tracker turns remote run status changes into progress notifications.
// The counter only grows; emit failures are swallowed because progress
// is best-effort. Safe for concurrent use; Stop is idempotent.
type Tracker struct {
	reporter tools.ProgressReporter
	logger   *slog.Logger

	pollInterval time.Duration

	counter  atomic.Int64
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewTracker creates a tracker that reports through reporter. A nil
// reporter discards all updates.
func NewTracker(reporter tools.ProgressReporter, logger *slog.Logger) *Tracker {
	if reporter == nil {
		reporter = tools.NopProgress{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		reporter:     reporter,
		logger:       logger,
		pollInterval: runPollInterval,
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Update increments the progress counter and emits one notification.
func (t *Tracker) Update(ctx context.Context, message string) {
	n := t.counter.Add(1)
	if err := t.reporter.ReportProgress(ctx, float64(n), 0, message); err != nil {
		t.logger.Debug("progress notification dropped", "error", err)
	}
}

// Count returns the number of updates emitted so far.
func (t *Tracker) Count() int64 {
	return t.counter.Load()
}

// StartRunUpdates polls the run every runPollInterval and emits an
// update whenever the (status, statusMessage) pair changes. Polling ends
// when the run reaches a terminal status, Stop is called, or ctx is
// cancelled. Call at most once per tracker.
func (t *Tracker) StartRunUpdates(ctx context.Context, client *apify.Client, runID, jobName string) {
	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()

		var lastStatus apify.RunStatus
		var lastMessage string

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopped:
				return
			case <-ticker.C:
			}

			run, err := client.GetRun(ctx, runID)
			if err != nil {
				// Transient poll failures are not worth surfacing.
				t.logger.Debug("run status poll failed", "run_id", runID, "error", err)
				continue
			}

			if run.Status != lastStatus || run.StatusMessage != lastMessage {
				lastStatus = run.Status
				lastMessage = run.StatusMessage
				t.Update(ctx, runUpdateMessage(jobName, run))
			}

			if run.Status.IsTerminal() {
				return
			}
		}
	}()
}

// Stop ends run polling. Safe to call any number of times and on
// trackers that never started polling.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
	})
}

// Done is closed when the polling goroutine has exited. It never closes
// for trackers that did not start polling.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func runUpdateMessage(jobName string, run *apify.Run) string {
	if run.StatusMessage == "" {
		return fmt.Sprintf("%s: %s", jobName, run.Status)
	}
	return fmt.Sprintf("%s: %s - %s", jobName, run.Status, run.StatusMessage)
}
