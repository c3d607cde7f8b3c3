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

package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const browserSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"schemaVersion": 1,
	"title": "Web browser input",
	"type": "object",
	"properties": {
		"query": {
			"title": "Query",
			"type": "string",
			"description": "Search query or URL.",
			"editor": "textfield",
			"prefill": "web browser for RAG pipelines"
		},
		"maxResults": {
			"title": "Max results",
			"type": "integer",
			"description": "Maximum number of results to return.",
			"default": 3,
			"sectionCaption": "Advanced",
			"minimum": 1
		},
		"outputFormat": {
			"title": "Output format",
			"type": "string",
			"description": "Format of the page content.",
			"enum": ["text", "markdown", "html"],
			"default": "markdown"
		},
		"proxyConfiguration": {
			"title": "Proxy",
			"type": "object",
			"description": "Proxy settings.",
			"editor": "proxy"
		},
		"startUrls": {
			"title": "Start URLs",
			"type": "array",
			"editor": "requestListSources",
			"prefill": [{"url": "https://apify.com"}]
		},
		"tags": {
			"title": "Tags",
			"type": "array",
			"prefill": ["news", "sports"]
		},
		"crawler.maxDepth": {
			"title": "Max depth",
			"type": "integer",
			"default": 2
		}
	},
	"required": ["query", "crawler.maxDepth"]
}`

func normalizeToMap(t *testing.T, raw string, opts Options) map[string]any {
	t.Helper()
	out, err := Normalize(json.RawMessage(raw), opts)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m
}

func property(t *testing.T, root map[string]any, name string) map[string]any {
	t.Helper()
	props, ok := root["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties object")
	prop, ok := props[name].(map[string]any)
	require.True(t, ok, "missing property %s", name)
	return prop
}

func TestNormalizeStripsRootRefs(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	require.NotContains(t, root, "$schema")
	require.NotContains(t, root, "schemaVersion")
	require.Equal(t, "Web browser input", root["title"], "other root fields survive")
}

func TestNormalizeMarksRequired(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	desc := property(t, root, "query")["description"].(string)
	require.True(t, strings.HasPrefix(desc, "**REQUIRED**"), "got %q", desc)

	// Optional properties stay untouched.
	desc = property(t, root, "maxResults")["description"].(string)
	require.False(t, strings.HasPrefix(desc, "**REQUIRED**"))
}

func TestNormalizeBuildsProxyShape(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	proxy := property(t, root, "proxyConfiguration")

	require.NotContains(t, proxy, "editor")
	nested := proxy["properties"].(map[string]any)
	useProxy := nested["useApifyProxy"].(map[string]any)
	require.Equal(t, "boolean", useProxy["type"])
	require.Equal(t, []any{"useApifyProxy"}, proxy["required"])
}

func TestNormalizeBuildsRequestListSources(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	items := property(t, root, "startUrls")["items"].(map[string]any)
	require.Equal(t, "object", items["type"])
	url := items["properties"].(map[string]any)["url"].(map[string]any)
	require.Equal(t, "string", url["type"])
}

func TestNormalizeInfersArrayItemsFromPrefill(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	items := property(t, root, "tags")["items"].(map[string]any)
	require.Equal(t, "string", items["type"])
}

func TestNormalizeInferenceFallbacks(t *testing.T) {
	tests := []struct {
		name string
		prop string
		want string
	}{
		{"default value", `{"type":"array","default":[{"a":1}]}`, "object"},
		{"stringList editor", `{"type":"array","editor":"stringList"}`, "string"},
		{"json editor", `{"type":"array","editor":"json"}`, "object"},
		{"select editor", `{"type":"array","editor":"select"}`, "string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"type":"object","properties":{"p":` + tt.prop + `}}`
			root := normalizeToMap(t, raw, Options{})
			items := property(t, root, "p")["items"].(map[string]any)
			require.Equal(t, tt.want, items["type"])
		})
	}
}

func TestNormalizeFiltersUIKeys(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	maxResults := property(t, root, "maxResults")
	require.NotContains(t, maxResults, "sectionCaption")
	require.NotContains(t, maxResults, "minimum")
	require.Contains(t, maxResults, "default")
}

func TestNormalizeShortensDescriptions(t *testing.T) {
	long := strings.Repeat("x", 1500)
	raw := `{"type":"object","properties":{"p":{"type":"string","description":"` + long + `"}}}`
	root := normalizeToMap(t, raw, Options{})
	desc := property(t, root, "p")["description"].(string)
	require.True(t, strings.HasSuffix(desc, "…"))
	require.Len(t, []rune(desc), maxDescriptionLen+1)
}

func TestNormalizePrunesLongEnums(t *testing.T) {
	values := make([]string, 40)
	for i := range values {
		values[i] = strings.Repeat("v", 10)
	}
	b, err := json.Marshal(values)
	require.NoError(t, err)
	raw := `{"type":"object","properties":{"p":{"type":"string","enum":` + string(b) + `}}}`

	root := normalizeToMap(t, raw, Options{})
	enum := property(t, root, "p")["enum"].([]any)
	require.Less(t, len(enum), 40)
	total := 0
	for _, v := range enum {
		total += len(v.(string)) + 1
	}
	require.LessOrEqual(t, total, maxEnumChars+11, "prune keeps roughly the cap")
}

func TestNormalizeDescribesEnumsAndExamples(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})

	format := property(t, root, "outputFormat")
	desc := format["description"].(string)
	require.Contains(t, desc, "Possible values: text,markdown,html")
	require.Contains(t, desc, `Example values: "markdown"`)
	require.Equal(t, []any{"markdown"}, format["examples"])

	query := property(t, root, "query")
	require.Contains(t, query["description"].(string), `Example values: "web browser for RAG pipelines"`)
	require.Equal(t, []any{"web browser for RAG pipelines"}, query["examples"])

	starts := property(t, root, "startUrls")
	require.Equal(t, []any{map[string]any{"url": "https://apify.com"}}, starts["examples"])
}

func TestNormalizeEncodesDotProperties(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{})
	props := root["properties"].(map[string]any)
	require.Contains(t, props, "crawler-dot-maxDepth")
	require.NotContains(t, props, "crawler.maxDepth")

	required := root["required"].([]any)
	require.Contains(t, required, "crawler-dot-maxDepth")
	require.NotContains(t, required, "crawler.maxDepth")
}

func TestNormalizeWhitelist(t *testing.T) {
	root := normalizeToMap(t, browserSchema, Options{PropertyWhitelist: []string{"query", "maxResults"}})
	props := root["properties"].(map[string]any)
	require.Len(t, props, 2)
	require.Contains(t, props, "query")
	require.Contains(t, props, "maxResults")

	required := root["required"].([]any)
	require.Equal(t, []any{"query"}, required, "required reduced to whitelisted names")
}

func TestNormalizeIdempotent(t *testing.T) {
	first, err := Normalize(json.RawMessage(browserSchema), Options{})
	require.NoError(t, err)
	second, err := Normalize(first, Options{})
	require.NoError(t, err)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	require.Equal(t, a, b)
}

func TestNormalizeEmptyInput(t *testing.T) {
	out, err := Normalize(nil, Options{})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "object", m["type"])
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	_, err := Normalize(json.RawMessage(`["not","an","object"]`), Options{})
	require.Error(t, err)

	_, err = Normalize(json.RawMessage(`{broken`), Options{})
	require.Error(t, err)
}
