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

// Package toolscmd prints the tool catalog a given configuration would
// expose, without contacting the platform.
package toolscmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/apify/actors-mcp-server-go/internal/config"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/builtin"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	nameStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// toolInfo is the JSON shape of one listed tool.
type toolInfo struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description"`
}

// NewCommand creates the tools command.
func NewCommand() *cobra.Command {
	var (
		toolsList    string
		actorsList   string
		uiMode       string
		enableAdding bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools a configuration would expose",
		Long: `Tools resolves the --tools and --actors selectors the same way serve
does and prints the resulting catalog. Actor tools are listed by name
only; their input schemas come from the platform at session start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := catalog.ParseMode(uiMode)
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

			selection := catalog.Resolve(catalog.ResolveOptions{
				Selectors:          selectors,
				Actors:             actors,
				Mode:               mode,
				EnableAddingActors: enableAdding,
			})

			// Entry handlers resolve their dependencies per call, so a
			// bare Deps is enough to build schemas and descriptions.
			entries := catalog.SortForListing(builtin.Entries(selection.Tools, mode, &builtin.Deps{}))

			if asJSON {
				return printJSON(cmd, entries, selection.Actors)
			}
			printStyled(cmd, entries, selection.Actors)
			return nil
		},
	}

	cmd.Flags().StringVar(&toolsList, "tools", "", "Comma-separated tool selectors: categories, tool names, or Actor names (empty value selects none)")
	cmd.Flags().StringVar(&actorsList, "actors", "", "Comma-separated Actors to expose as tools (empty value selects none)")
	cmd.Flags().StringVar(&uiMode, "ui-mode", "default", "UI mode: default or openai")
	cmd.Flags().BoolVar(&enableAdding, "enable-adding-actors", false, "Include add-actor and remove-actor")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func printJSON(cmd *cobra.Command, entries []*tools.Entry, actors []string) error {
	infos := make([]toolInfo, 0, len(entries)+len(actors))
	for _, e := range entries {
		infos = append(infos, toolInfo{
			Name:        e.Name,
			Category:    string(e.Category),
			Description: firstLine(e.Description),
		})
	}
	for _, full := range actors {
		infos = append(infos, toolInfo{
			Name:        full,
			Description: "Actor tool, schema loaded at session start",
		})
	}
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool list: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printStyled(cmd *cobra.Command, entries []*tools.Entry, actors []string) {
	byCategory := make(map[tools.Category][]*tools.Entry)
	for _, e := range entries {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	width := 0
	for _, e := range entries {
		if len(e.Name) > width {
			width = len(e.Name)
		}
	}

	for _, category := range catalog.Categories() {
		group := byCategory[category]
		if len(group) == 0 {
			continue
		}
		cmd.Println(headerStyle.Render(string(category)))
		for _, e := range group {
			cmd.Printf("  %s  %s\n",
				nameStyle.Render(pad(e.Name, width)),
				mutedStyle.Render(firstLine(e.Description)))
		}
		cmd.Println()
	}

	if len(actors) > 0 {
		cmd.Println(headerStyle.Render("actor tools"))
		for _, full := range actors {
			cmd.Printf("  %s\n", nameStyle.Render(full))
		}
		cmd.Println()
	}

	cmd.Printf("%d tools", len(entries))
	if len(actors) > 0 {
		cmd.Printf(", %d Actors", len(actors))
	}
	cmd.Println()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
