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

package errors_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	apierrors "github.com/apify/actors-mcp-server-go/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *apierrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &apierrors.ValidationError{
				Field:      "startUrls",
				Message:    "required field is missing",
				Suggestion: "Provide at least one start URL",
			},
			wantMsg: "validation failed on startUrls: required field is missing",
		},
		{
			name: "without field",
			err: &apierrors.ValidationError{
				Message:    "invalid format",
				Suggestion: "Check the input format",
			},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *apierrors.NotFoundError
		wantMsg string
	}{
		{
			name: "actor not found",
			err: &apierrors.NotFoundError{
				Resource: "actor",
				ID:       "apify/website-content-crawler",
			},
			wantMsg: "actor not found: apify/website-content-crawler",
		},
		{
			name: "tool not found",
			err: &apierrors.NotFoundError{
				Resource: "tool",
				ID:       "call-actor",
			},
			wantMsg: "tool not found: call-actor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *apierrors.APIError
		want    []string // strings that should appear in error message
		notWant []string // strings that should not appear
	}{
		{
			name: "full error with all fields",
			err: &apierrors.APIError{
				Code:       "rate-limit-exceeded",
				StatusCode: 429,
				Message:    "rate limit exceeded",
				RequestID:  "req_123",
			},
			want:    []string{"rate-limit-exceeded", "HTTP 429", "rate limit exceeded", "req_123"},
			notWant: []string{},
		},
		{
			name: "minimal error",
			err: &apierrors.APIError{
				Message: "connection failed",
			},
			want:    []string{"connection failed"},
			notWant: []string{"HTTP", "request-id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("APIError.Error() = %q, should contain %q", got, want)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(got, notWant) {
					t.Errorf("APIError.Error() = %q, should not contain %q", got, notWant)
				}
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("network unreachable")
	err := &apierrors.APIError{
		StatusCode: 502,
		Message:    "bad gateway",
		Cause:      cause,
	}

	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause through Unwrap")
	}
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		wantClient    bool
		wantRetryable bool
	}{
		{name: "bad request", statusCode: 400, wantClient: true, wantRetryable: false},
		{name: "not found", statusCode: 404, wantClient: true, wantRetryable: false},
		{name: "rate limited", statusCode: 429, wantClient: true, wantRetryable: true},
		{name: "server error", statusCode: 500, wantClient: false, wantRetryable: true},
		{name: "bad gateway", statusCode: 502, wantClient: false, wantRetryable: true},
		{name: "no status (transport failure)", statusCode: 0, wantClient: false, wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &apierrors.APIError{StatusCode: tt.statusCode, Message: "x"}
			if got := err.IsClientError(); got != tt.wantClient {
				t.Errorf("IsClientError() = %v, want %v", got, tt.wantClient)
			}
			if got := err.IsRetryable(); got != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	withKey := &apierrors.ConfigError{Key: "APIFY_TOKEN", Reason: "not set"}
	if got := withKey.Error(); got != "config error at APIFY_TOKEN: not set" {
		t.Errorf("ConfigError.Error() = %q", got)
	}

	withoutKey := &apierrors.ConfigError{Reason: "unreadable file"}
	if got := withoutKey.Error(); got != "config error: unreadable file" {
		t.Errorf("ConfigError.Error() = %q", got)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	err := &apierrors.TimeoutError{
		Operation: "tool call",
		Duration:  60 * time.Second,
	}

	got := err.Error()
	if !strings.Contains(got, "tool call") || !strings.Contains(got, "1m0s") {
		t.Errorf("TimeoutError.Error() = %q", got)
	}
}

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name string
		err  apierrors.ErrorClassifier
		want string
	}{
		{"validation", &apierrors.ValidationError{Message: "x"}, "validation"},
		{"not_found", &apierrors.NotFoundError{Resource: "task", ID: "t1"}, "not_found"},
		{"api", &apierrors.APIError{Message: "x"}, "api"},
		{"config", &apierrors.ConfigError{Reason: "x"}, "config"},
		{"timeout", &apierrors.TimeoutError{Operation: "x"}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.ErrorType(); got != tt.want {
				t.Errorf("ErrorType() = %q, want %q", got, tt.want)
			}
		})
	}
}
