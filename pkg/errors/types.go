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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid tool arguments, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType returns the error category for classification.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable reports whether retrying could succeed. Validation failures
// need a changed request, not a retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource (tool, Actor, run, dataset, task)
// does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "tool", "actor", "task")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType returns the error category for classification.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable reports whether retrying could succeed.
func (e *NotFoundError) IsRetryable() bool { return false }

// APIError represents Apify platform API failures.
// Use this for errors originating from the platform REST API or from
// remote MCP servers.
type APIError struct {
	// Code is the platform error type string (e.g., "actor-not-found")
	Code string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with platform logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := "apify api error"

	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *APIError) ErrorType() string { return "api" }

// IsRetryable reports whether retrying could succeed. Client errors
// (4xx) describe a bad request; server errors and transport failures
// are worth retrying.
func (e *APIError) IsRetryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode == 429
	}
	return true
}

// IsClientError reports whether the failure was caused by the request
// itself (HTTP 4xx).
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ConfigError represents configuration problems.
// Use this for flag/env errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "APIFY_TOKEN", "transport")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable reports whether retrying could succeed.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "tool call", "actor run")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable reports whether retrying could succeed.
func (e *TimeoutError) IsRetryable() bool { return true }
