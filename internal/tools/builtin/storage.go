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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/actors-mcp-server-go/internal/apify"
	"github.com/apify/actors-mcp-server-go/internal/execute"
	"github.com/apify/actors-mcp-server-go/internal/tools"
	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

const (
	defaultItemsLimit = 100
	maxItemsLimit     = 1000

	// outputRecordKey is where Actors conventionally store a single-value
	// result in their default key-value store.
	outputRecordKey = "OUTPUT"
)

const contentTruncationNotice = "\n\n[Content truncated]"

func getActorOutputEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.GetActorOutput,
		"Read the output of an Actor run: a bounded page of its default dataset items, or "+
			"the run's OUTPUT record when it produced no dataset. Responses are size-capped; "+
			"use get-dataset-items with the datasetId to page through everything.",
		objectSchema(map[string]any{
			"runId": map[string]any{
				"type":        "string",
				"title":       "Run id",
				"description": "Run id returned by call-actor.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"title":       "Maximum items",
				"description": "How many dataset items to read (1-1000).",
				"default":     defaultItemsLimit,
			},
			"offset": map[string]any{
				"type":        "integer",
				"title":       "Offset",
				"description": "How many items to skip, for paging.",
				"default":     0,
			},
			"fields": map[string]any{
				"type":        "array",
				"title":       "Fields",
				"description": "Project items to these top-level fields only.",
				"items":       map[string]any{"type": "string"},
			},
		}, "runId"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryStorage
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleGetActorOutput
	return entry, nil
}

func (d *Deps) handleGetActorOutput(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	runID, _ := call.String("runId")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	run, err := client.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.DefaultDatasetID != "" {
		page, err := client.GetDatasetItems(ctx, run.DefaultDatasetID, apify.GetDatasetItemsOptions{
			Offset: int64(call.IntOr("offset", 0)),
			Limit:  clampItemsLimit(call.IntOr("limit", defaultItemsLimit)),
			Clean:  true,
			Fields: stringsArg(call, "fields"),
		})
		if err != nil {
			return nil, err
		}
		if page.Count > 0 {
			payload := map[string]any{
				"runId":        run.ID,
				"status":       run.Status,
				"datasetId":    run.DefaultDatasetID,
				"itemCount":    page.Total,
				"offset":       page.Offset,
				"previewItems": execute.BuildPreview(page.Items, nil),
			}
			return tools.NewJSONResult(payload).WithStructured(payload), nil
		}
	}

	if run.DefaultKeyValueStoreID != "" {
		record, err := client.GetKeyValueRecord(ctx, run.DefaultKeyValueStoreID, outputRecordKey)
		switch {
		case err == nil:
			return recordResult(record), nil
		case isNotFound(err):
			// No OUTPUT record either; fall through.
		default:
			return nil, err
		}
	}

	if !run.Status.IsTerminal() {
		return tools.NewTextResult(fmt.Sprintf(
			"Run %s is still %s and has produced no output yet. Check again with get-actor-run.",
			run.ID, run.Status,
		)), nil
	}
	return tools.NewTextResult(fmt.Sprintf("Run %s finished as %s without output.", run.ID, run.Status)), nil
}

func getDatasetItemsEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.GetDatasetItems,
		"Page through the items of a dataset. Large pages are size-capped in the response; "+
			"narrow with fields or lower the limit to read precisely.",
		objectSchema(map[string]any{
			"datasetId": map[string]any{
				"type":        "string",
				"title":       "Dataset id",
				"description": "Dataset id, e.g. the datasetId returned by call-actor.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"title":       "Maximum items",
				"description": "How many items to return (1-1000).",
				"default":     defaultItemsLimit,
			},
			"offset": map[string]any{
				"type":        "integer",
				"title":       "Offset",
				"description": "How many items to skip, for paging.",
				"default":     0,
			},
			"clean": map[string]any{
				"type":        "boolean",
				"title":       "Clean items",
				"description": "Skip empty items and hidden fields.",
				"default":     true,
			},
			"fields": map[string]any{
				"type":        "array",
				"title":       "Fields",
				"description": "Project items to these top-level fields only.",
				"items":       map[string]any{"type": "string"},
			},
		}, "datasetId"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryStorage
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleGetDatasetItems
	return entry, nil
}

func (d *Deps) handleGetDatasetItems(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	datasetID, _ := call.String("datasetId")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	page, err := client.GetDatasetItems(ctx, datasetID, apify.GetDatasetItemsOptions{
		Offset: int64(call.IntOr("offset", 0)),
		Limit:  clampItemsLimit(call.IntOr("limit", defaultItemsLimit)),
		Clean:  call.BoolOr("clean", true),
		Fields: stringsArg(call, "fields"),
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"datasetId": datasetID,
		"total":     page.Total,
		"offset":    page.Offset,
		"count":     page.Count,
		"items":     execute.BuildPreview(page.Items, nil),
	}
	return tools.NewJSONResult(payload).WithStructured(payload), nil
}

func getKeyValueStoreRecordEntry(d *Deps) (*tools.Entry, error) {
	entry, err := newEntry(
		catalog.GetKeyValueStoreRecord,
		"Read one record from a key-value store. Text and JSON records are returned "+
			"inline; binary records come back base64-encoded.",
		objectSchema(map[string]any{
			"storeId": map[string]any{
				"type":        "string",
				"title":       "Store id",
				"description": "Key-value store id, e.g. the defaultKeyValueStoreId of a run.",
			},
			"key": map[string]any{
				"type":        "string",
				"title":       "Record key",
				"description": "Key of the record to read, e.g. 'OUTPUT' or 'INPUT'.",
			},
		}, "storeId", "key"),
	)
	if err != nil {
		return nil, err
	}
	entry.Category = tools.CategoryStorage
	entry.Annotations = &mcp.ToolAnnotation{
		ReadOnlyHint:  mcp.ToBoolPtr(true),
		OpenWorldHint: mcp.ToBoolPtr(true),
	}
	entry.Handler = d.handleGetKeyValueStoreRecord
	return entry, nil
}

func (d *Deps) handleGetKeyValueStoreRecord(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	storeID, _ := call.String("storeId")
	key, _ := call.String("key")
	client, err := d.client(call)
	if err != nil {
		return nil, err
	}

	record, err := client.GetKeyValueRecord(ctx, storeID, key)
	if err != nil {
		return nil, err
	}
	return recordResult(record), nil
}

// recordResult renders a key-value record for the model: readable
// content types inline and capped, anything else base64.
func recordResult(record *apify.KeyValueRecord) *tools.Result {
	meta := map[string]any{
		"key":         record.Key,
		"contentType": record.ContentType,
		"size":        len(record.Data),
	}

	if textualContentType(record.ContentType) {
		return tools.NewTextResult(truncateChars(string(record.Data), execute.MaxPreviewChars)).
			WithStructured(meta)
	}

	data := record.Data
	truncated := false
	if len(data) > maxBinaryRecordBytes {
		data = data[:maxBinaryRecordBytes]
		truncated = true
	}
	text := fmt.Sprintf("Record %q has content type %q (%d bytes), base64:\n%s",
		record.Key, record.ContentType, len(record.Data), base64.StdEncoding.EncodeToString(data))
	if truncated {
		text += contentTruncationNotice
	}
	return tools.NewTextResult(text).WithStructured(meta)
}

// maxBinaryRecordBytes bounds base64 output; 36 KB of input encodes to
// 48K characters, just under the preview budget.
const maxBinaryRecordBytes = 36 << 10

func textualContentType(contentType string) bool {
	return contentType == "" ||
		strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "xml")
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + contentTruncationNotice
}

func clampItemsLimit(limit int) int64 {
	if limit <= 0 {
		return defaultItemsLimit
	}
	if limit > maxItemsLimit {
		return maxItemsLimit
	}
	return int64(limit)
}

// stringsArg reads an array-of-strings argument, ignoring non-string
// elements.
func stringsArg(call *tools.Call, key string) []string {
	raw, ok := call.Arguments[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isNotFound(err error) bool {
	var nf *errors.NotFoundError
	return errors.As(err, &nf)
}
