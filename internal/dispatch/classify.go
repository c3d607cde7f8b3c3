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

package dispatch

import (
	"context"
	"errors"

	apperrors "github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Status is the unified outcome of one tool call.
type Status string

const (
	// StatusSucceeded means the handler returned a non-error result.
	StatusSucceeded Status = "succeeded"

	// StatusSoftFail means the caller can fix the call: bad arguments,
	// unknown tool, missing resource, HTTP 4xx from the platform. Soft
	// failures are returned as content with isError set.
	StatusSoftFail Status = "soft_fail"

	// StatusFailed means the platform or the server misbehaved: HTTP 5xx,
	// connection failures, unexpected handler errors.
	StatusFailed Status = "failed"

	// StatusAborted means the call was cancelled or timed out. No
	// response is sent for an aborted call.
	StatusAborted Status = "aborted"
)

// Classify maps a handler error onto the status taxonomy.
func Classify(err error) Status {
	if err == nil {
		return StatusSucceeded
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusAborted
	}

	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		return StatusSoftFail
	}

	var nferr *apperrors.NotFoundError
	if errors.As(err, &nferr) {
		return StatusSoftFail
	}

	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsClientError() {
			return StatusSoftFail
		}
		return StatusFailed
	}

	return StatusFailed
}
