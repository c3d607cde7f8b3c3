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

package builtin

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/schema"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/internal/widgets"
)

const (
	defaultStoreLimit = 10
	maxStoreLimit     = 100
)

// propertyWhitelists trims the input schemas of well-known Actors to
// the fields models actually need; everything else those schemas expose
// is operator tuning.
var propertyWhitelists = map[string][]string{
	"apify/rag-web-browser":         {"query", "maxResults", "outputFormats", "requestTimeoutSecs", "scrapingTool"},
	"apify/google-search-scraper":   {"queries", "resultsPerPage", "maxPagesPerQuery", "languageCode", "countryCode"},
	"apify/instagram-scraper":       {"directUrls", "resultsType", "resultsLimit", "searchType", "search"},
	"apify/website-content-crawler": {"startUrls", "maxCrawlDepth", "maxCrawlPages", "crawlerType", "includeUrlGlobs", "excludeUrlGlobs"},
}

func whitelistFor(actorFullName string) []string {
	return propertyWhitelists[actorFullName]
}

// actorInfo is the Actor summary shape shared by the discovery tools.
type actorInfo struct {
	FullName     string            `json:"fullName"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Categories   []string          `json:"categories,omitempty"`
	IsDeprecated bool              `json:"isDeprecated,omitempty"`
	Stats        *apify.ActorStats `json:"stats,omitempty"`
	Pricing      json.RawMessage   `json:"pricing,omitempty"`
}

type storeSearchPayload struct {
	Total  int64       `json:"total"`
	Count  int         `json:"count"`
	Actors []actorInfo `json:"actors"`
}

type actorDetailsPayload struct {
	Actor             actorInfo             `json:"actor"`
	DefaultRunOptions *apify.ActorRunOption `json:"defaultRunOptions,omitempty"`
	WebServerMcpPath  string                `json:"webServerMcpPath,omitempty"`
	InputSchema       json.RawMessage       `json:"inputSchema,omitempty"`
	Note              string                `json:"note,omitempty"`
}

func storeSearchEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.StoreSearch,
		"Search the Apify Store for Actors (reusable cloud programs for web scraping, "+
			"data extraction, and automation). Returns Actor names, descriptions, and usage "+
			"stats. Use fetch-actor-details on a result's fullName to see what input it "+
			"expects, then call-actor to run it.",
		objectSchema(map[string]any{
			"search": map[string]any{
				"type":        "string",
				"title":       "Search query",
				"description": "Full-text search over Actor names, titles, and descriptions. Use a few keywords, e.g. 'instagram posts' or 'google maps reviews'.",
			},
			"category": map[string]any{
				"type":        "string",
				"title":       "Category",
				"description": "Restrict results to one store category, e.g. 'AI', 'E-COMMERCE', 'SOCIAL_MEDIA'.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"title":       "Maximum results",
				"description": "How many Actors to return (1-100).",
				"default":     defaultStoreLimit,
			},
			"offset": map[string]any{
				"type":        "integer",
				"title":       "Offset",
				"description": "How many results to skip, for paging.",
				"default":     0,
			},
		}),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryActors
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleStoreSearch
	return entry, nil
}

func storeSearchWidgetEntry(d *Deps) (*tools.Entry, error) {
	base, err := storeSearchEntry(d)
	if err != nil {
		return nil, err
	}
	entry := base.Clone()
	entry.Name = catalog.StoreSearchWidget
	entry.Description = "Search the Apify Store and render the matching Actors in the store browser widget. " +
		"Prefer this over store-search when the user should pick an Actor visually."
	entry.Category = tools.CategoryUI
	entry.Meta = widgetMeta(widgets.URIStoreSearch, "Searching Apify Store", "Found Actors")
	return entry, nil
}

func (d *Deps) handleStoreSearch(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	opts := apify.SearchStoreOptions{
		Search:   call.StringOr("search", ""),
		Category: call.StringOr("category", ""),
		Limit:    call.IntOr("limit", defaultStoreLimit),
		Offset:   call.IntOr("offset", 0),
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultStoreLimit
	}
	if opts.Limit > maxStoreLimit {
		opts.Limit = maxStoreLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	actors, total, err := client.SearchStore(ctx, opts)
	if err != nil {
		return nil, err
	}

	payload := storeSearchPayload{
		Total:  total,
		Count:  len(actors),
		Actors: make([]actorInfo, 0, len(actors)),
	}
	for i := range actors {
		a := &actors[i]
		payload.Actors = append(payload.Actors, actorInfo{
			FullName:    a.FullName(),
			Title:       a.Title,
			Description: a.Description,
			Categories:  a.Categories,
			Stats:       a.Stats,
			Pricing:     a.PricingInfos,
		})
	}

	if len(payload.Actors) == 0 {
		return tools.NewTextResult(
			"No Actors matched the search. Try broader keywords or drop the category filter.",
		).WithStructured(payload), nil
	}
	return tools.NewJSONResult(payload).WithStructured(payload), nil
}

func fetchActorDetailsEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.FetchActorDetails,
		"Get everything needed to run a specific Actor: description, pricing, stats, "+
			"default run options, and most importantly its input schema. Always inspect the "+
			"input schema before using call-actor.",
		objectSchema(map[string]any{
			"actor": map[string]any{
				"type":        "string",
				"title":       "Actor",
				"description": "Actor full name in owner/name form, e.g. 'apify/rag-web-browser', or an Actor id.",
			},
		}, "actor"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryActors
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleFetchActorDetails
	return entry, nil
}

func fetchActorDetailsWidgetEntry(d *Deps) (*tools.Entry, error) {
	base, err := fetchActorDetailsEntry(d)
	if err != nil {
		return nil, err
	}
	entry := base.Clone()
	entry.Name = catalog.FetchActorDetailsWidget
	entry.Description = "Load an Actor's details and input schema and render them in the Actor details widget."
	entry.Category = tools.CategoryUI
	entry.Meta = widgetMeta(widgets.URIActorDetails, "Loading Actor details", "Actor details loaded")
	return entry, nil
}

func (d *Deps) handleFetchActorDetails(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	actorRef, _ := call.String("actor")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	actor, err := client.GetActor(ctx, actorRef)
	if err != nil {
		return nil, err
	}

	payload := actorDetailsPayload{
		Actor: actorInfo{
			FullName:     actor.FullName(),
			Title:        actor.Title,
			Description:  actor.Description,
			Categories:   actor.Categories,
			IsDeprecated: actor.IsDeprecated,
			Stats:        actor.Stats,
			Pricing:      actor.PricingInfos,
		},
		DefaultRunOptions: actor.DefaultRunOpts,
	}

	def, err := client.GetActorDefinition(ctx, actorRef)
	switch {
	case err != nil:
		d.logger().Warn("actor definition unavailable", "actor", actorRef, "error", err)
		payload.Note = "The Actor's input schema could not be loaded; call-actor will validate against the live definition."
	default:
		payload.WebServerMcpPath = def.WebServerMcpPath
		normalized, err := schema.Normalize(def.Input, schema.Options{
			PropertyWhitelist: whitelistFor(actor.FullName()),
		})
		if err != nil {
			d.logger().Warn("actor input schema does not normalize", "actor", actorRef, "error", err)
			payload.Note = "The Actor's input schema could not be processed."
		} else {
			payload.InputSchema = normalized
		}
	}

	return tools.NewJSONResult(payload).WithStructured(payload), nil
}
