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

// Package evalcmd runs tool-call evaluation cases against a live tool
// surface and records the outcomes.
package evalcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/commands/authcmd"
	"github.com/apify/actors-mcp-server-go/internal/config"
	"github.com/apify/actors-mcp-server-go/internal/dispatch"
	"github.com/apify/actors-mcp-server-go/internal/docs"
	"github.com/apify/actors-mcp-server-go/internal/eval"
	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/builtin"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

// NewCommand creates the eval command.
func NewCommand() *cobra.Command {
	var (
		casesPattern string
		resultsPath  string
		agentModel   string
		judgeModel   string
		toolsList    string
		actorsList   string
		uiMode       string
		token        string
		syncTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run evaluation cases against the tool surface",
		Long: `Eval loads YAML cases matching --cases, dispatches each case's tool
call in process, and checks its expectation. Outcomes go to the JSON
results database under the {agentModel}:{judgeModel}:{testId} key, where
a later run of the same case replaces the earlier record.

The exit status is non-zero when any case fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cases, err := eval.LoadCases(casesPattern)
			if err != nil {
				return err
			}

			var selectors, actors []string
			if cmd.Flags().Changed("tools") {
				selectors = config.SplitList(toolsList)
			}
			if cmd.Flags().Changed("actors") {
				actors = config.SplitList(actorsList)
			}
			mode, err := catalog.ParseMode(uiMode)
			if err != nil {
				return err
			}

			if token == "" {
				token = os.Getenv("APIFY_TOKEN")
			}
			if token == "" {
				if stored, err := authcmd.StoredToken(); err == nil {
					token = stored
				}
			}

			call, err := buildCallFunc(cmd.Context(), callConfig{
				token:       token,
				selectors:   selectors,
				actors:      actors,
				mode:        mode,
				syncTimeout: syncTimeout,
			})
			if err != nil {
				return err
			}

			runner := &eval.Runner{Call: call, Logger: slog.Default()}
			outcomes, err := runner.Run(cmd.Context(), cases)
			if err != nil {
				return err
			}

			db, err := eval.OpenDB(resultsPath)
			if err != nil {
				return err
			}
			failed := 0
			for _, outcome := range outcomes {
				if !outcome.Passed {
					failed++
				}
				db.Put(eval.Record{
					TestID:     outcome.Case.ID,
					AgentModel: agentModel,
					JudgeModel: judgeModel,
					Passed:     outcome.Passed,
					Detail:     outcome.Detail,
					DurationMS: outcome.Duration.Milliseconds(),
				})
			}
			if err := db.Save(); err != nil {
				return err
			}

			for _, outcome := range outcomes {
				mark := "PASS"
				if !outcome.Passed {
					mark = "FAIL"
				}
				cmd.Printf("%s  %s (%s)\n", mark, outcome.Case.ID, outcome.Duration.Round(time.Millisecond))
				if outcome.Detail != "" {
					cmd.Printf("      %s\n", outcome.Detail)
				}
			}
			cmd.Printf("%d/%d passed\n", len(outcomes)-failed, len(outcomes))

			if failed > 0 {
				return fmt.Errorf("%d of %d cases failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&casesPattern, "cases", "evals/**/*.yaml", "Glob pattern of case files")
	cmd.Flags().StringVar(&resultsPath, "results", "evals/results.json", "Results database file")
	cmd.Flags().StringVar(&agentModel, "agent-model", "manual", "Agent model name recorded with the results")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "expression", "Judge model name recorded with the results")
	cmd.Flags().StringVar(&toolsList, "tools", "", "Comma-separated tool selectors (empty value selects none)")
	cmd.Flags().StringVar(&actorsList, "actors", "", "Comma-separated Actors to expose as tools (empty value selects none)")
	cmd.Flags().StringVar(&uiMode, "ui-mode", "default", "UI mode: default or openai")
	cmd.Flags().StringVar(&token, "token", "", "Apify API token (overrides APIFY_TOKEN and the keyring)")
	cmd.Flags().DurationVar(&syncTimeout, "sync-timeout", 0, "Timeout per tool call (default 60s)")

	return cmd
}

type callConfig struct {
	token       string
	selectors   []string
	actors      []string
	mode        catalog.Mode
	syncTimeout time.Duration
}

// buildCallFunc assembles the in-process tool surface: the resolved
// internal tools plus the run tool of every selected Actor, behind a
// dispatcher. Actorized MCP servers are run through the plain run tool
// here; forwarding is a server concern.
func buildCallFunc(ctx context.Context, cfg callConfig) (eval.CallFunc, error) {
	logger := slog.Default()

	client, err := apify.NewClient(cfg.token)
	if err != nil {
		return nil, err
	}
	search, err := docs.NewSearcher(docs.SearcherConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	pages, err := docs.NewFetcher(docs.FetcherConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	deps := &builtin.Deps{
		Client: client,
		Engine: execute.NewEngine(nil, logger),
		Search: search,
		Pages:  pages,
		Logger: logger,
	}

	selection := catalog.Resolve(catalog.ResolveOptions{
		Selectors: cfg.selectors,
		Actors:    cfg.actors,
		Mode:      cfg.mode,
	})

	registry := tools.NewRegistry()
	if err := registry.Upsert(builtin.Entries(selection.Tools, cfg.mode, deps), false); err != nil {
		return nil, err
	}
	for _, fullName := range selection.Actors {
		actor, err := client.GetActor(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("load Actor %s: %w", fullName, err)
		}
		def, err := client.GetActorDefinition(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("load Actor %s definition: %w", fullName, err)
		}
		entry, err := builtin.ActorEntry(deps, actor, def)
		if err != nil {
			return nil, fmt.Errorf("build Actor tool %s: %w", fullName, err)
		}
		if err := registry.Upsert([]*tools.Entry{entry}, false); err != nil {
			return nil, err
		}
	}

	dispatcher := dispatch.New(dispatch.Config{
		Registry:    registry,
		Logger:      logger,
		SyncTimeout: cfg.syncTimeout,
	})
	meta := dispatch.CallMeta{Transport: "eval"}

	return func(ctx context.Context, tool string, args map[string]any) (*tools.Result, error) {
		result, _, err := dispatcher.Dispatch(ctx, &tools.Call{
			ToolName:  tool,
			Arguments: args,
			SessionID: "eval",
			APIToken:  cfg.token,
			Progress:  tools.NopProgress{},
		}, meta)
		return result, err
	}, nil
}
