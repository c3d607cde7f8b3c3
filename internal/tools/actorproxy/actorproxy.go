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

// Package actorproxy exposes tools served by Actorized MCP servers.
// An Actor whose build declares a web-server MCP path runs its own MCP
// server in standby mode; this package connects to that server over
// streamable HTTP, lists its tools, and wraps each one as a local
// registry entry whose handler forwards calls to the origin server.
//
// Local names are prefixed with a hash of the server URL so tools from
// different servers never collide and stay stable across sessions.
package actorproxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/schema"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// serverIDLen is how many hex characters of the URL hash prefix local
// tool names. 48 bits is plenty for the handful of servers a session
// loads, and keeps names readable.
const serverIDLen = 12

// ServerURL resolves the standby web-server URL of an Actorized MCP
// server from the Actor full name (or ID) and the MCP path its build
// declares. Standby hostnames are the lowercased full name with the
// owner separator spelled as a double dash.
func ServerURL(actorFullName, webServerPath string) string {
	host := strings.ToLower(strings.ReplaceAll(actorFullName, "/", "--"))
	if webServerPath != "" && !strings.HasPrefix(webServerPath, "/") {
		webServerPath = "/" + webServerPath
	}
	return "https://" + host + ".apify.actor" + webServerPath
}

// ServerID returns the hash prefix identifying one MCP server URL. It
// is used both as the local tool-name prefix and as the entry's server
// identifier.
func ServerID(serverURL string) string {
	sum := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(sum[:])[:serverIDLen]
}

// ProxyToolName derives the local registry name for a remote tool:
// the server's ID, a dash, and the origin name, sanitized to the tool
// name grammar and capped at 64 characters. The origin name is kept on
// the entry, so the mapping does not need to be reversible.
func ProxyToolName(serverURL, originName string) string {
	s := strings.ReplaceAll(originName, "/", "-slash-")
	s = strings.ReplaceAll(s, ".", "-dot-")
	var b strings.Builder
	b.Grow(serverIDLen + 1 + len(s))
	b.WriteString(ServerID(serverURL))
	b.WriteByte('-')
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Loader connects to Actorized MCP servers and wraps their tools.
// The zero value works; ClientName and ClientVersion identify this
// server in the MCP initialize handshake.
type Loader struct {
	ClientName    string
	ClientVersion string
	Logger        *slog.Logger
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Loader) clientInfo() mcp.Implementation {
	info := mcp.Implementation{Name: l.ClientName, Version: l.ClientVersion}
	if info.Name == "" {
		info.Name = "actors-mcp-server"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// LoadTools lists the tools of one Actorized MCP server and wraps each
// as a registry entry that forwards calls to it. Standby servers reject
// anonymous requests, so without a token the server is skipped and
// LoadTools returns no entries and no error. Connection and listing
// failures are returned for the caller to log; one unreachable server
// must not take down the rest of the tool loading.
func (l *Loader) LoadTools(ctx context.Context, serverURL, token string) ([]*tools.Entry, error) {
	if token == "" {
		l.logger().Debug("skipping MCP server tools, no API token", "server", serverURL)
		return nil, nil
	}

	c, err := l.connect(ctx, serverURL, token)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server %s: %w", serverURL, err)
	}
	defer c.Close()

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on MCP server %s: %w", serverURL, err)
	}

	serverID := ServerID(serverURL)
	entries := make([]*tools.Entry, 0, len(listed.Tools))
	for _, remote := range listed.Tools {
		raw := rawInputSchema(remote)
		name := ProxyToolName(serverURL, remote.Name)
		entry := &tools.Entry{
			Kind:           tools.KindActorMCP,
			Name:           name,
			Description:    remote.Description,
			InputSchema:    raw,
			TaskSupport:    tools.TaskSupportOptional,
			OriginToolName: remote.Name,
			ServerID:       serverID,
			ServerURL:      serverURL,
			Handler:        l.forwardHandler(serverURL, remote.Name),
		}
		if validator, err := schema.Compile(name, raw); err != nil {
			l.logger().Warn("remote tool schema does not compile, accepting any arguments",
				"tool", name, "server", serverURL, "error", err)
		} else {
			entry.Validator = validator
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// forwardHandler builds the handler that relays one tool's calls to its
// origin server. Each call opens a fresh connection so the forwarded
// request always carries the caller's token and no connection state
// outlives the call.
func (l *Loader) forwardHandler(serverURL, originName string) tools.Handler {
	return func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		if call.APIToken == "" {
			return nil, &errors.APIError{
				StatusCode: 401,
				Message:    "calling an Actor's MCP server requires an Apify API token",
				Suggestion: "Set the APIFY_TOKEN environment variable or send an Authorization: Bearer header. Tokens are at https://console.apify.com/settings/integrations.",
			}
		}

		c, err := l.connect(ctx, serverURL, call.APIToken)
		if err != nil {
			return nil, fmt.Errorf("connect to MCP server %s: %w", serverURL, err)
		}
		defer c.Close()

		res, err := c.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      originName,
				Arguments: schema.DecodeArguments(call.Arguments),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("call tool %s on MCP server %s: %w", originName, serverURL, err)
		}
		return convertResult(res), nil
	}
}

// connect opens, starts, and initializes a streamable HTTP client for
// one server. The token travels as a bearer header on every request.
func (l *Loader) connect(ctx context.Context, serverURL, token string) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(serverURL,
		transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}

	init := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      l.clientInfo(),
		},
	}
	if _, err := c.Initialize(ctx, init); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// rawInputSchema extracts a remote tool's input schema, preferring the
// raw bytes when the server sent them.
func rawInputSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 {
		return append(json.RawMessage(nil), tool.RawInputSchema...)
	}
	b, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil
	}
	return b
}

// convertResult maps an MCP tool result onto the local result shape.
// Non-text content is rare from Actorized servers and is carried as its
// JSON rendering rather than dropped.
func convertResult(res *mcp.CallToolResult) *tools.Result {
	out := &tools.Result{IsError: res.IsError}
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			out.Content = append(out.Content, tools.Content{Type: tools.ContentTypeText, Text: text.Text})
			continue
		}
		b, err := json.Marshal(content)
		if err != nil {
			continue
		}
		out.Content = append(out.Content, tools.Content{Type: tools.ContentTypeText, Text: string(b)})
	}
	if res.StructuredContent != nil {
		out.Structured = res.StructuredContent
	}
	return out
}
