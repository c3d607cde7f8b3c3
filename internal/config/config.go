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

// Package config holds the server's configuration envelope. Values are
// layered: built-in defaults, then an optional YAML file, then
// environment variables; command-line flags are bound on top by the
// commands that use them.
//
// List-valued options keep the nil/empty distinction the tool catalog
// depends on: an absent tools or actors option stays nil and selects
// the defaults, while an explicitly empty value ("" or []) becomes an
// empty non-nil slice meaning "none".
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Transport selects the serving transport.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// Task store backends.
const (
	TaskStoreMemory = "memory"
	TaskStoreSQLite = "sqlite"
	TaskStoreNone   = "none"
)

// Telemetry configures the OTel pipeline.
type Telemetry struct {
	Enabled bool   `yaml:"enabled"`
	Env     string `yaml:"env"` // prod or dev

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPProtocol string `yaml:"otlp_protocol"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// TaskStore configures long-running task persistence.
type TaskStore struct {
	// Backend is memory, sqlite, or none. Empty picks a transport
	// default: memory for stdio, sqlite otherwise.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Empty uses DefaultSQLitePath.
	Path string `yaml:"path"`
}

// Config is the full envelope.
type Config struct {
	Transport Transport `yaml:"transport"`

	// Host and Port bind the HTTP transports.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Tools and Actors are the startup selectors; catalog.Resolve
	// documents how they expand.
	Tools  []string `yaml:"tools"`
	Actors []string `yaml:"actors"`

	UIMode               string `yaml:"ui_mode"`
	EnableAddingActors   bool   `yaml:"enable_adding_actors"`
	SkyfireMode          bool   `yaml:"skyfire_mode"`
	AllowUnauthenticated bool   `yaml:"allow_unauthenticated"`

	Telemetry Telemetry `yaml:"telemetry"`
	TaskStore TaskStore `yaml:"task_store"`

	// WidgetsDir overrides the embedded widget templates (openai mode).
	WidgetsDir string `yaml:"widgets_dir"`

	// SyncTimeout bounds synchronous tool calls.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// APIToken is never read from the file; it comes from the
	// APIFY_TOKEN environment variable, a flag, or the keyring.
	APIToken string `yaml:"-"`

	// APIBaseURL overrides the platform endpoint, for tests and
	// private deployments.
	APIBaseURL string `yaml:"api_base_url"`
}

// Default returns the built-in defaults: stdio transport, default UI
// mode, telemetry on towards prod.
func Default() *Config {
	return &Config{
		Transport: TransportStdio,
		Host:      "0.0.0.0",
		Port:      3001,
		UIMode:    "default",
		Telemetry: Telemetry{
			Enabled:      true,
			Env:          "prod",
			OTLPProtocol: "grpc",
		},
	}
}

// Load builds the envelope from defaults, the optional YAML file at
// path, and the environment. An empty path skips the file; a named file
// that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errors.ConfigError{Reason: fmt.Sprintf("read config file %s", path), Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{Reason: fmt.Sprintf("parse config file %s", path), Cause: err}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APIFY_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := os.Getenv("APIFY_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("ACTORS_MCP_TRANSPORT"); v != "" {
		c.Transport = Transport(strings.ToLower(v))
	}
	if v := os.Getenv("ACTORS_MCP_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("ACTORS_MCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	// LookupEnv so that ACTORS_MCP_TOOLS="" still means "no tools".
	if v, ok := os.LookupEnv("ACTORS_MCP_TOOLS"); ok {
		c.Tools = SplitList(v)
	}
	if v, ok := os.LookupEnv("ACTORS_MCP_ACTORS"); ok {
		c.Actors = SplitList(v)
	}
	if v := os.Getenv("ACTORS_MCP_UI_MODE"); v != "" {
		c.UIMode = strings.ToLower(v)
	}
	if v := os.Getenv("ACTORS_MCP_ENABLE_ADDING_ACTORS"); v != "" {
		c.EnableAddingActors = isTrue(v)
	}
	if v := os.Getenv("ACTORS_MCP_SKYFIRE_MODE"); v != "" {
		c.SkyfireMode = isTrue(v)
	}
	if v := os.Getenv("ACTORS_MCP_ALLOW_UNAUTHENTICATED"); v != "" {
		c.AllowUnauthenticated = isTrue(v)
	}
	if v := os.Getenv("ACTORS_MCP_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = isTrue(v)
	}
	if v := os.Getenv("ACTORS_MCP_TELEMETRY_ENV"); v != "" {
		c.Telemetry.Env = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("ACTORS_MCP_TASK_STORE"); v != "" {
		c.TaskStore.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("ACTORS_MCP_TASK_STORE_PATH"); v != "" {
		c.TaskStore.Path = v
	}
	if v := os.Getenv("ACTORS_MCP_WIDGETS_DIR"); v != "" {
		c.WidgetsDir = v
	}
	if v := os.Getenv("ACTORS_MCP_SYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SyncTimeout = d
		}
	}
}

// Validate checks the enumerated options and fills transport-dependent
// defaults (the task store backend).
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportSSE:
	default:
		return &errors.ConfigError{Key: "transport",
			Reason: fmt.Sprintf("unknown transport %q (want stdio, http, or sse)", c.Transport)}
	}

	switch c.UIMode {
	case "", "default", "openai":
	default:
		return &errors.ConfigError{Key: "ui_mode",
			Reason: fmt.Sprintf("unknown UI mode %q (want default or openai)", c.UIMode)}
	}

	switch c.Telemetry.Env {
	case "", "prod", "dev":
	default:
		return &errors.ConfigError{Key: "telemetry.env",
			Reason: fmt.Sprintf("unknown telemetry env %q (want prod or dev)", c.Telemetry.Env)}
	}

	if c.TaskStore.Backend == "" {
		if c.Transport == TransportStdio {
			c.TaskStore.Backend = TaskStoreMemory
		} else {
			c.TaskStore.Backend = TaskStoreSQLite
		}
	}
	switch c.TaskStore.Backend {
	case TaskStoreMemory, TaskStoreSQLite, TaskStoreNone:
	default:
		return &errors.ConfigError{Key: "task_store.backend",
			Reason: fmt.Sprintf("unknown task store backend %q (want memory, sqlite, or none)", c.TaskStore.Backend)}
	}

	if c.Port < 0 || c.Port > 65535 {
		return &errors.ConfigError{Key: "port", Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	return nil
}

// SQLitePath returns the task store database path, defaulting into the
// user data directory.
func (c *Config) SQLitePath() (string, error) {
	if c.TaskStore.Path != "" {
		return c.TaskStore.Path, nil
	}
	return DefaultSQLitePath()
}

// DefaultSQLitePath places the task database under XDG_DATA_HOME (or
// ~/.local/share) in an actors-mcp-server directory.
func DefaultSQLitePath() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &errors.ConfigError{Key: "task_store.path", Reason: "resolve home directory", Cause: err}
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "actors-mcp-server", "tasks.db"), nil
}

// SplitList splits a comma-separated option value, trimming items and
// dropping empties. The result is never nil, so an empty value keeps
// the "explicitly none" meaning.
func SplitList(value string) []string {
	out := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
