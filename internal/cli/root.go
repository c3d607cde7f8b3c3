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

// Package cli assembles the actors-mcp-server command tree.
package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/apify/actors-mcp-server-go/internal/commands/authcmd"
	"github.com/apify/actors-mcp-server-go/internal/commands/evalcmd"
	"github.com/apify/actors-mcp-server-go/internal/commands/serve"
	"github.com/apify/actors-mcp-server-go/internal/commands/toolscmd"
	"github.com/apify/actors-mcp-server-go/internal/commands/version"
	"github.com/apify/actors-mcp-server-go/internal/log"
)

// NewRootCommand builds the root command. Logging is configured in a
// persistent pre-run so every subcommand inherits it; logs go to stderr
// because stdout may carry the stdio transport.
func NewRootCommand() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "actors-mcp-server",
		Short: "MCP server exposing Apify Actors as tools",
		Long: `actors-mcp-server is a Model Context Protocol server that exposes the
Apify platform as a dynamic, typed tool surface: search the Actor Store,
inspect Actor input schemas, start runs, follow their progress, and read
their results — over stdio for local clients or streamable HTTP for
remote ones.

Start serving with 'actors-mcp-server serve'. Authenticate once with
'actors-mcp-server auth login' or set the APIFY_TOKEN environment
variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			cfg := log.FromEnv()
			if logLevel != "" {
				cfg.Level = logLevel
			}
			if logFormat != "" {
				cfg.Format = log.Format(logFormat)
			}
			slog.SetDefault(log.New(cfg))
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text)")

	// Accept --log_level and friends; env-var habits die hard.
	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.AddCommand(
		serve.NewCommand(),
		authcmd.NewCommand(),
		toolscmd.NewCommand(),
		evalcmd.NewCommand(),
		version.NewCommand(),
	)
	return cmd
}
