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

// Package apify provides a typed client for the Apify platform REST API.
//
// It covers the surface the server needs: Actor metadata and default
// builds, Actor runs (start, poll, abort, logs), dataset and key-value
// store reads, and store search.
package apify

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle status of an Actor run on the platform.
type RunStatus string

// Actor run statuses as reported by the platform.
const (
	RunStatusReady     RunStatus = "READY"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusAborting  RunStatus = "ABORTING"
	RunStatusAborted   RunStatus = "ABORTED"
	RunStatusTimingOut RunStatus = "TIMING-OUT"
	RunStatusTimedOut  RunStatus = "TIMED-OUT"
)

// IsTerminal reports whether the run has reached a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusAborted, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// Actor describes an Actor as returned by GET /v2/acts/{actorId}.
type Actor struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Username       string          `json:"username"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
	IsPublic       bool            `json:"isPublic"`
	IsDeprecated   bool            `json:"isDeprecated,omitempty"`
	Categories     []string        `json:"categories,omitempty"`
	DefaultRunOpts *ActorRunOption `json:"defaultRunOptions,omitempty"`
	Stats          *ActorStats     `json:"stats,omitempty"`
	PricingInfos   json.RawMessage `json:"pricingInfos,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	ModifiedAt     time.Time       `json:"modifiedAt,omitempty"`
}

// FullName returns the owner-qualified Actor name (username/name).
func (a *Actor) FullName() string {
	if a.Username == "" {
		return a.Name
	}
	return a.Username + "/" + a.Name
}

// ActorRunOption holds the default run options of an Actor.
type ActorRunOption struct {
	Build        string `json:"build,omitempty"`
	TimeoutSecs  int    `json:"timeoutSecs,omitempty"`
	MemoryMbytes int    `json:"memoryMbytes,omitempty"`
}

// ActorStats holds usage statistics of an Actor.
type ActorStats struct {
	TotalRuns  int        `json:"totalRuns,omitempty"`
	TotalUsers int        `json:"totalUsers,omitempty"`
	LastRunAt  *time.Time `json:"lastRunStartedAt,omitempty"`
}

// Build describes an Actor build as returned by
// GET /v2/acts/{actorId}/builds/default.
type Build struct {
	ID              string           `json:"id"`
	ActID           string           `json:"actId"`
	Status          string           `json:"status"`
	BuildNumber     string           `json:"buildNumber,omitempty"`
	ActorDefinition *ActorDefinition `json:"actorDefinition,omitempty"`
}

// ActorDefinition is the Actor's build-time definition. Input carries the
// raw input schema; Storages describes the default dataset views used to
// project run output. A non-empty WebServerMcpPath marks the Actor as an
// MCP server reachable over its standby web server.
type ActorDefinition struct {
	ActorSpecification int             `json:"actorSpecification,omitempty"`
	Name               string          `json:"name,omitempty"`
	Version            string          `json:"version,omitempty"`
	BuildTag           string          `json:"buildTag,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
	Storages           *StorageSpec    `json:"storages,omitempty"`
	WebServerMcpPath   string          `json:"webServerMcpPath,omitempty"`
}

// StorageSpec describes the storages section of an Actor definition.
type StorageSpec struct {
	Dataset *DatasetSpec `json:"dataset,omitempty"`
}

// DatasetSpec describes the default dataset schema, including display views.
type DatasetSpec struct {
	Views map[string]DatasetView `json:"views,omitempty"`
}

// DatasetView is a named projection over dataset items.
type DatasetView struct {
	Title          string              `json:"title,omitempty"`
	Transformation *ViewTransformation `json:"transformation,omitempty"`
	Display        *ViewDisplay        `json:"display,omitempty"`
}

// ViewTransformation selects and reshapes fields of dataset items.
type ViewTransformation struct {
	Fields []string `json:"fields,omitempty"`
}

// ViewDisplay describes how view fields are presented.
type ViewDisplay struct {
	Component  string                     `json:"component,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
}

// Run describes an Actor run as returned by GET /v2/actor-runs/{runId}.
type Run struct {
	ID                      string      `json:"id"`
	ActID                   string      `json:"actId"`
	Status                  RunStatus   `json:"status"`
	StatusMessage           string      `json:"statusMessage,omitempty"`
	IsStatusMessageTerminal bool        `json:"isStatusMessageTerminal,omitempty"`
	StartedAt               *time.Time  `json:"startedAt,omitempty"`
	FinishedAt              *time.Time  `json:"finishedAt,omitempty"`
	DefaultDatasetID        string      `json:"defaultDatasetId,omitempty"`
	DefaultKeyValueStoreID  string      `json:"defaultKeyValueStoreId,omitempty"`
	ExitCode                *int        `json:"exitCode,omitempty"`
	Options                 *RunOptions `json:"options,omitempty"`
}

// RunOptions are the resolved options a run was started with.
type RunOptions struct {
	Build        string `json:"build,omitempty"`
	TimeoutSecs  int    `json:"timeoutSecs,omitempty"`
	MemoryMbytes int    `json:"memoryMbytes,omitempty"`
}

// StartRunOptions control POST /v2/acts/{actorId}/runs.
type StartRunOptions struct {
	// Build selects a build tag or number (default: the Actor's default).
	Build string

	// MemoryMbytes overrides run memory. Clamped by the caller.
	MemoryMbytes int

	// TimeoutSecs overrides the run timeout. 0 keeps the Actor default.
	TimeoutSecs int

	// WaitForFinishSecs asks the API to hold the response until the run
	// finishes or the window elapses (max 60).
	WaitForFinishSecs int

	// MaxTotalChargeUSD caps spending on pay-per-event Actors.
	MaxTotalChargeUSD float64
}

// DatasetItemsPage is one page of dataset items plus paging metadata
// returned in headers by GET /v2/datasets/{datasetId}/items.
type DatasetItemsPage struct {
	Items  []map[string]any
	Total  int64
	Offset int64
	Count  int64
}

// GetDatasetItemsOptions control dataset item reads.
type GetDatasetItemsOptions struct {
	Offset int64
	Limit  int64
	Clean  bool
	Fields []string
}

// KeyValueRecord is a single record from a key-value store.
type KeyValueRecord struct {
	Key         string
	ContentType string
	Data        []byte
}

// StoreActor is one store search result from GET /v2/store.
type StoreActor struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Username     string          `json:"username"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	PricingInfos json.RawMessage `json:"currentPricingInfo,omitempty"`
	Stats        *ActorStats     `json:"stats,omitempty"`
}

// FullName returns the owner-qualified Actor name (username/name).
func (a *StoreActor) FullName() string {
	if a.Username == "" {
		return a.Name
	}
	return a.Username + "/" + a.Name
}

// SearchStoreOptions control store search.
type SearchStoreOptions struct {
	Search   string
	Category string
	Limit    int
	Offset   int
	SortBy   string
}

// User describes the authenticated user from GET /v2/users/me.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Plan     *Plan  `json:"plan,omitempty"`
}

// Plan is the subscription plan section of a user record.
type Plan struct {
	ID                         string `json:"id,omitempty"`
	MaxActorMemoryGbytes       int    `json:"maxActorMemoryGbytes,omitempty"`
	AvailableActorMemoryGbytes int    `json:"availableActorMemoryGbytes,omitempty"`
}

// dataEnvelope is the {"data": ...} wrapper most v2 endpoints use.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// errorEnvelope is the {"error": {"type", "message"}} failure wrapper.
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// listEnvelope is the paginated {"data": {"items": [...], "total": N}}
// wrapper used by list endpoints.
type listEnvelope[T any] struct {
	Data struct {
		Items  []T   `json:"items"`
		Total  int64 `json:"total"`
		Offset int64 `json:"offset"`
		Count  int64 `json:"count"`
	} `json:"data"`
}
