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

// Platform editor hints imply nested structure the raw schema omits.
// The shapes below are fixed platform conventions; builders return
// fresh maps so normalized schemas never share mutable state.

func proxyShape() (map[string]any, []any) {
	return map[string]any{
		"useApifyProxy": map[string]any{
			"title":       "Use Apify Proxy",
			"type":        "boolean",
			"description": "Whether to route requests through Apify Proxy.",
			"default":     true,
		},
	}, []any{"useApifyProxy"}
}

func requestListSourcesItems() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "URL of the page to open.",
			},
		},
	}
}

func pseudoURLsItems() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"purl": map[string]any{
				"title":       "Pseudo-URL",
				"type":        "string",
				"description": "Pseudo-URL pattern; brackets enclose a regular expression.",
			},
		},
	}
}

func globsItems() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"glob": map[string]any{
				"title":       "Glob pattern",
				"type":        "string",
				"description": "Glob pattern to match URLs, e.g. https://www.example.com/**.",
			},
		},
	}
}

func keyValueItems() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"title": "Key", "type": "string"},
			"value": map[string]any{"title": "Value", "type": "string"},
		},
	}
}

// buildNestedShapes materializes the nested properties each editor hint
// implies. It runs before key filtering, so the editor key is still
// present here.
func buildNestedShapes(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	for _, v := range props {
		prop, ok := asMap(v)
		if !ok {
			continue
		}
		editor, _ := prop["editor"].(string)
		switch editor {
		case "proxy":
			nested, required := proxyShape()
			prop["type"] = "object"
			prop["properties"] = nested
			prop["required"] = required
		case "requestListSources":
			prop["type"] = "array"
			prop["items"] = requestListSourcesItems()
		case "pseudoUrls":
			prop["type"] = "array"
			prop["items"] = pseudoURLsItems()
		case "globs":
			prop["type"] = "array"
			prop["items"] = globsItems()
		case "keyValue":
			prop["type"] = "array"
			prop["items"] = keyValueItems()
		case "resourcePicker":
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		}
	}
}
