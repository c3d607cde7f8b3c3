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

// Package payments implements the Skyfire pay-per-call flow. In Skyfire
// mode, eligible tools grow an extra string argument carrying a kya+pay
// JWT. The dispatcher extracts and pre-validates the token before
// argument validation and forwards it out-of-band to the platform,
// which verifies the signature and settles the payment.
package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// ArgumentName is the tool argument carrying the Skyfire payment token.
const ArgumentName = "skyfire-pay-id"

// InstructionsPrefix is prepended to the description of every eligible
// tool in Skyfire mode.
const InstructionsPrefix = "This tool is paid per call with Skyfire. Pass a valid kya+pay token " +
	"in the '" + ArgumentName + "' argument; without it the platform rejects the call. "

// payIDProperty is the schema fragment injected into eligible tools.
// The requirement is stated in prose only: the dispatcher strips the
// token before validation, so the schema must not list it as required.
func payIDProperty() map[string]any {
	return map[string]any{
		"title":       "Skyfire payment token",
		"type":        "string",
		"description": "**REQUIRED** Skyfire kya+pay token that funds this call.",
	}
}

// DecorateSchema returns a copy of the input schema with the payment
// token property added.
func DecorateSchema(raw json.RawMessage) (json.RawMessage, error) {
	root := map[string]any{"type": "object"}
	if len(raw) > 0 {
		root = nil
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
	}
	props, ok := root["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
		root["properties"] = props
	}
	props[ArgumentName] = payIDProperty()

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return out, nil
}

// DecorateEntry clones the entry and applies the Skyfire surface: the
// schema property and the description prefix. The compiled validator is
// kept as-is; the token is stripped before validation, and normalized
// schemas permit additional properties anyway.
func DecorateEntry(e *tools.Entry) (*tools.Entry, error) {
	c := e.Clone()
	schema, err := DecorateSchema(c.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("decorate %s: %w", e.Name, err)
	}
	c.InputSchema = schema
	c.Description = InstructionsPrefix + c.Description
	return c, nil
}

// RequiresPayID reports whether the entry was decorated for Skyfire,
// which the schema itself records: decorated schemas carry the payment
// token property.
func RequiresPayID(e *tools.Entry) bool {
	if len(e.InputSchema) == 0 {
		return false
	}
	var root struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(e.InputSchema, &root); err != nil {
		return false
	}
	_, ok := root.Properties[ArgumentName]
	return ok
}

// ExtractPayID pops the payment token from the call arguments. The
// returned map is a copy with the token removed; args is not modified.
func ExtractPayID(args map[string]any) (string, map[string]any) {
	if args == nil {
		return "", nil
	}
	token, _ := args[ArgumentName].(string)
	if _, present := args[ArgumentName]; !present {
		return "", args
	}
	cleaned := make(map[string]any, len(args)-1)
	for k, v := range args {
		if k != ArgumentName {
			cleaned[k] = v
		}
	}
	return token, cleaned
}

// ValidatePayID checks the token's structure and expiry. Signature
// verification is the platform's job; rejecting malformed or expired
// tokens here saves the caller a paid round trip.
func ValidatePayID(tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("%s is empty", ArgumentName)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return fmt.Errorf("%s is not a valid JWT: %w", ArgumentName, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%s has no expiry claim", ArgumentName)
	}
	if time.Now().After(exp.Time) {
		return fmt.Errorf("%s expired at %s", ArgumentName, exp.Time.Format(time.RFC3339))
	}
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return fmt.Errorf("%s has no subject claim", ArgumentName)
	}
	return nil
}
