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

// Package serve starts the MCP server on the configured transport.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/apify/actors-mcp-server-go/internal/commands/authcmd"
	"github.com/apify/actors-mcp-server-go/internal/commands/version"
	"github.com/apify/actors-mcp-server-go/internal/config"
	"github.com/apify/actors-mcp-server-go/internal/server"
	"github.com/apify/actors-mcp-server-go/internal/taskstore"
	"github.com/apify/actors-mcp-server-go/internal/telemetry"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

const shutdownGrace = 10 * time.Second

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		configPath string

		transport     string
		host          string
		port          int
		toolsList     string
		actorsList    string
		uiMode        string
		enableAdding  bool
		skyfireMode   bool
		allowUnauth   bool
		telemetryOn   bool
		telemetryEnv  string
		taskStore     string
		taskStorePath string
		widgetsDir    string
		syncTimeout   time.Duration
		token         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio, streamable HTTP, or legacy SSE",
		Long: `Serve starts the MCP server.

With the stdio transport (the default) the process serves a single
session on stdin/stdout; tool selection comes from the flags. With the
http transport each session selects tools through query parameters and
carries its own Apify token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("transport") {
				cfg.Transport = config.Transport(transport)
			}
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("tools") {
				cfg.Tools = config.SplitList(toolsList)
			}
			if flags.Changed("actors") {
				cfg.Actors = config.SplitList(actorsList)
			}
			if flags.Changed("ui-mode") {
				cfg.UIMode = uiMode
			}
			if flags.Changed("enable-adding-actors") {
				cfg.EnableAddingActors = enableAdding
			}
			if flags.Changed("skyfire-mode") {
				cfg.SkyfireMode = skyfireMode
			}
			if flags.Changed("allow-unauthenticated") {
				cfg.AllowUnauthenticated = allowUnauth
			}
			if flags.Changed("telemetry") {
				cfg.Telemetry.Enabled = telemetryOn
			}
			if flags.Changed("telemetry-env") {
				cfg.Telemetry.Env = telemetryEnv
			}
			if flags.Changed("task-store") {
				cfg.TaskStore.Backend = taskStore
			}
			if flags.Changed("task-store-path") {
				cfg.TaskStore.Path = taskStorePath
			}
			if flags.Changed("widgets-dir") {
				cfg.WidgetsDir = widgetsDir
			}
			if flags.Changed("sync-timeout") {
				cfg.SyncTimeout = syncTimeout
			}
			if flags.Changed("token") {
				cfg.APIToken = token
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if cfg.APIToken == "" {
				if stored, err := authcmd.StoredToken(); err == nil && stored != "" {
					cfg.APIToken = stored
				}
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&transport, "transport", string(config.TransportStdio), "Transport: stdio, http, or sse")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Bind address for the HTTP transports")
	cmd.Flags().IntVar(&port, "port", 3001, "Port for the HTTP transports")
	cmd.Flags().StringVar(&toolsList, "tools", "", "Comma-separated tool selectors: categories, tool names, or Actor names (empty value selects none)")
	cmd.Flags().StringVar(&actorsList, "actors", "", "Comma-separated Actors to expose as tools (empty value selects none)")
	cmd.Flags().StringVar(&uiMode, "ui-mode", "default", "UI mode: default or openai")
	cmd.Flags().BoolVar(&enableAdding, "enable-adding-actors", false, "Expose add-actor and remove-actor")
	cmd.Flags().BoolVar(&skyfireMode, "skyfire-mode", false, "Require Skyfire payment tokens on Actor-running tools")
	cmd.Flags().BoolVar(&allowUnauth, "allow-unauthenticated", false, "Admit sessions without an Apify token (documentation tools only)")
	cmd.Flags().BoolVar(&telemetryOn, "telemetry", true, "Enable telemetry")
	cmd.Flags().StringVar(&telemetryEnv, "telemetry-env", "prod", "Telemetry destination: prod or dev")
	cmd.Flags().StringVar(&taskStore, "task-store", "", "Task store backend: memory, sqlite, or none (default per transport)")
	cmd.Flags().StringVar(&taskStorePath, "task-store-path", "", "SQLite task store file")
	cmd.Flags().StringVar(&widgetsDir, "widgets-dir", "", "Directory overriding the embedded widget templates")
	cmd.Flags().DurationVar(&syncTimeout, "sync-timeout", 0, "Timeout for synchronous tool calls (default 60s)")
	cmd.Flags().StringVar(&token, "token", "", "Apify API token (overrides APIFY_TOKEN and the keyring)")

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := catalog.ParseMode(cfg.UIMode)
	if err != nil {
		return err
	}

	provider, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Env:            cfg.Telemetry.Env,
		ServiceName:    server.DefaultName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPProtocol:   cfg.Telemetry.OTLPProtocol,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, err := openTaskStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("task store close failed", "error", err)
			}
		}()
	}

	srv, err := server.New(server.Config{
		Version:              version.Version,
		APIToken:             cfg.APIToken,
		APIBaseURL:           cfg.APIBaseURL,
		Mode:                 mode,
		Tools:                cfg.Tools,
		Actors:               cfg.Actors,
		EnableAddingActors:   cfg.EnableAddingActors,
		SkyfireMode:          cfg.SkyfireMode,
		AllowUnauthenticated: cfg.AllowUnauthenticated,
		Store:                store,
		Telemetry:            provider,
		WidgetsDir:           cfg.WidgetsDir,
		SyncTimeout:          cfg.SyncTimeout,
		Logger:               logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	switch cfg.Transport {
	case config.TransportStdio:
		return runStdio(ctx, srv, logger)
	case config.TransportHTTP, config.TransportSSE:
		return runHTTP(ctx, srv, cfg, logger)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func runStdio(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr,
			"actors-mcp-server: serving MCP on stdio; this is meant to be launched by an MCP client, not typed into. Press Ctrl-C to stop.")
	}
	logger.Info("serving stdio transport")
	return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
}

func runHTTP(ctx context.Context, srv *server.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.HTTPHandler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.WatchWidgets(ctx); err != nil {
			logger.Warn("widget watcher stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving http transport", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// openTaskStore builds the configured task store. A nil return with nil
// error means tasks are disabled.
func openTaskStore(cfg *config.Config, logger *slog.Logger) (taskstore.Store, error) {
	switch cfg.TaskStore.Backend {
	case config.TaskStoreNone:
		return nil, nil
	case config.TaskStoreMemory:
		return taskstore.NewMemoryStore(), nil
	case config.TaskStoreSQLite:
		path, err := cfg.SQLitePath()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create task store directory: %w", err)
		}
		store, err := taskstore.NewSQLiteStore(taskstore.SQLiteConfig{Path: path, WAL: true})
		if err != nil {
			return nil, fmt.Errorf("open task store %s: %w", path, err)
		}
		logger.Info("task store opened", "path", path)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown task store backend %q", cfg.TaskStore.Backend)
	}
}
