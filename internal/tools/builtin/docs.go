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

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/docs"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
)

func docsSearchEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.DocsSearch,
		"Search the Apify documentation. Returns page URLs with breadcrumbs and matching "+
			"fragments; pass a URL to docs-fetch to read the whole page.",
		objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"title":       "Query",
				"description": "Full-text query, e.g. 'standby mode' or 'dataset schema'.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"title":       "Maximum results",
				"description": "How many pages to return (1-20).",
				"default":     docs.DefaultLimit,
			},
		}, "query"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryDocs
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleDocsSearch
	return entry, nil
}

func (d *Deps) handleDocsSearch(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	query, _ := call.String("query")

	results, err := d.Search.Search(ctx, query, call.IntOr("limit", 0))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return tools.NewTextResult("No documentation pages matched the query. Try different keywords."), nil
	}

	payload := map[string]any{
		"query":   query,
		"results": results,
	}
	return tools.NewJSONResult(payload), nil
}

func docsFetchEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.DocsFetch,
		"Fetch a documentation page as readable text. HTML is reduced to headings, "+
			"paragraphs, lists, and code blocks; long pages are truncated.",
		objectSchema(map[string]any{
			"url": map[string]any{
				"type":        "string",
				"title":       "Page URL",
				"description": "Documentation page URL, e.g. from a docs-search result.",
			},
		}, "url"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryDocs
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleDocsFetch
	return entry, nil
}

func (d *Deps) handleDocsFetch(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	pageURL, _ := call.String("url")

	text, err := d.Pages.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return tools.NewTextResult("The page has no readable text content."), nil
	}
	return tools.NewTextResult(text), nil
}
