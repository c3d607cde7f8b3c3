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

package payments

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestValidatePayID(t *testing.T) {
	valid := signedToken(t, jwt.MapClaims{
		"sub": "buyer-agent",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, ValidatePayID(valid))
}

func TestValidatePayIDRejections(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not a jwt", "definitely-not-a-jwt"},
		{"no expiry", mustSign(jwt.MapClaims{"sub": "buyer"})},
		{"expired", mustSign(jwt.MapClaims{"sub": "buyer", "exp": time.Now().Add(-time.Hour).Unix()})},
		{"no subject", mustSign(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, ValidatePayID(tt.token))
		})
	}
}

func mustSign(claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		panic(err)
	}
	return token
}

func TestDecorateSchema(t *testing.T) {
	in := json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
	out, err := DecorateSchema(in)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	props := m["properties"].(map[string]any)
	require.Contains(t, props, ArgumentName)
	require.Contains(t, props, "query", "existing properties survive")
	require.Equal(t, []any{"query"}, m["required"], "token must not become schema-required")
}

func TestDecorateSchemaEmptyInput(t *testing.T) {
	out, err := DecorateSchema(nil)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Contains(t, m["properties"].(map[string]any), ArgumentName)
}

func TestDecorateEntry(t *testing.T) {
	original := &tools.Entry{
		Kind:        tools.KindInternal,
		Name:        "call-actor",
		Description: "Call an Actor.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
			return tools.NewTextResult("ok"), nil
		},
	}

	decorated, err := DecorateEntry(original)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(decorated.Description, InstructionsPrefix))
	require.Contains(t, string(decorated.InputSchema), ArgumentName)

	// The original entry is untouched.
	require.Equal(t, "Call an Actor.", original.Description)
	require.NotContains(t, string(original.InputSchema), ArgumentName)
}

func TestExtractPayID(t *testing.T) {
	args := map[string]any{
		"query":      "news",
		ArgumentName: "token-value",
	}
	token, cleaned := ExtractPayID(args)
	require.Equal(t, "token-value", token)
	require.NotContains(t, cleaned, ArgumentName)
	require.Equal(t, "news", cleaned["query"])
	require.Contains(t, args, ArgumentName, "input map is not modified")

	token, cleaned = ExtractPayID(map[string]any{"query": "news"})
	require.Empty(t, token)
	require.Equal(t, "news", cleaned["query"])
}
