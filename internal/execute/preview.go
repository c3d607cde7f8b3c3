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

package execute

import (
	"encoding/json"
	"sort"

	"github.com/apify/actors-mcp-server-go/internal/apify"
)

// MaxPreviewChars is the serialized-size budget for the preview items
// returned with a run result. The full dataset stays on the platform;
// get-dataset-items pages through it.
const MaxPreviewChars = 50000

// truncationMessage is the text of the sentinel item appended when
// preview items were dropped.
const truncationMessage = "Preview truncated to fit the size limit. Use get-dataset-items with the datasetId to page through all items."

// BuildPreview selects the items returned inline with a run result,
// keeping their serialized size under MaxPreviewChars.
//
// Items that fit are returned whole. Oversized sets are first projected
// to the fields the Actor's dataset views declare important; if that is
// still too large, items are dropped from the tail and a sentinel item
// records the truncation. A single item is never dropped to zero.
func BuildPreview(items []map[string]any, views map[string]apify.DatasetView) []map[string]any {
	if len(items) == 0 {
		return []map[string]any{}
	}

	if previewSize(items) <= MaxPreviewChars {
		return items
	}

	if fields := importantFields(views); len(fields) > 0 {
		items = projectItems(items, fields)
		if previewSize(items) <= MaxPreviewChars {
			return items
		}
	}

	return truncateTail(items)
}

// importantFields collects the union of fields any dataset view marks as
// worth displaying, from transformation field lists and display
// properties.
func importantFields(views map[string]apify.DatasetView) []string {
	seen := make(map[string]struct{})
	for _, view := range views {
		if view.Transformation != nil {
			for _, field := range view.Transformation.Fields {
				seen[field] = struct{}{}
			}
		}
		if view.Display != nil {
			for field := range view.Display.Properties {
				seen[field] = struct{}{}
			}
		}
	}

	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func projectItems(items []map[string]any, fields []string) []map[string]any {
	projected := make([]map[string]any, len(items))
	for i, item := range items {
		slim := make(map[string]any, len(fields))
		for _, field := range fields {
			if value, ok := item[field]; ok {
				slim[field] = value
			}
		}
		projected[i] = slim
	}
	return projected
}

// truncateTail keeps the longest prefix that fits the budget together
// with the sentinel, never less than one item.
func truncateTail(items []map[string]any) []map[string]any {
	sizes := make([]int, len(items))
	for i, item := range items {
		sizes[i] = itemSize(item)
	}

	// Serialized array overhead: brackets plus a comma per separator.
	kept := 0
	total := 2
	for i, size := range sizes {
		next := total + size
		if i > 0 {
			next++
		}
		if next+sentinelSize(len(items), i+1)+1 > MaxPreviewChars {
			break
		}
		total = next
		kept++
	}

	if kept == 0 {
		// One oversize item is returned alone rather than dropping to
		// nothing.
		return items[:1]
	}
	if kept == len(items) {
		return items
	}

	out := make([]map[string]any, 0, kept+1)
	out = append(out, items[:kept]...)
	out = append(out, sentinelItem(len(items), kept))
	return out
}

func sentinelItem(original, kept int) map[string]any {
	return map[string]any{
		"truncationInfo":           truncationMessage,
		"originalItemCount":        original,
		"itemCountAfterTruncation": kept,
	}
}

func sentinelSize(original, kept int) int {
	return itemSize(sentinelItem(original, kept))
}

func itemSize(item map[string]any) int {
	b, err := json.Marshal(item)
	if err != nil {
		return 0
	}
	return len(b)
}

func previewSize(items []map[string]any) int {
	b, err := json.Marshal(items)
	if err != nil {
		return 0
	}
	return len(b)
}
