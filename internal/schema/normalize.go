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

// Package schema turns Actor input schemas into tool input schemas that
// strict MCP clients accept, and compiles them into fast validators.
//
// Actor input schemas carry platform editor hints and UI-only fields
// that confuse downstream schema consumers. Normalize runs a fixed
// pipeline over a decoded schema: mark required properties in prose,
// materialize the nested shapes the editor hints imply, infer missing
// array item types, drop UI-only keys, shorten oversized descriptions
// and enums, describe enums and examples in prose, and encode dots in
// property names. Each step is idempotent on its own output, so a schema
// that already went through the pipeline survives another pass intact.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// requiredToken is prepended to descriptions of required properties for
// clients that ignore the required array.
const requiredToken = "**REQUIRED**"

const (
	// maxDescriptionLen caps property descriptions before prose is
	// appended to them.
	maxDescriptionLen = 1000
	// maxEnumChars caps the cumulative length of an enum list.
	maxEnumChars = 200
	// maxEnumProseValues caps how many enum values are spelled out in
	// the description.
	maxEnumProseValues = 20
)

// allowedPropertyKeys is the post-filter key set for every property.
var allowedPropertyKeys = map[string]bool{
	"title":       true,
	"description": true,
	"enum":        true,
	"type":        true,
	"default":     true,
	"prefill":     true,
	"properties":  true,
	"items":       true,
	"required":    true,
}

// rootStripKeys cannot be resolved by validators without external
// reference support, so they never leave the normalizer.
var rootStripKeys = []string{"$schema", "$ref", "schemaVersion"}

// Options configure normalization of one Actor input schema.
type Options struct {
	// PropertyWhitelist keeps only the named top-level properties when
	// non-empty. The required array is reduced to the kept names.
	PropertyWhitelist []string
}

// Normalize decodes raw, runs the pipeline, and re-encodes. A nil or
// empty raw yields an empty object schema so that Actors without an
// input schema still register as zero-argument tools.
func Normalize(raw json.RawMessage, opts Options) (json.RawMessage, error) {
	root := map[string]any{"type": "object", "properties": map[string]any{}}
	if len(raw) > 0 {
		root = nil
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("decode input schema: %w", err)
		}
		if root == nil {
			return nil, fmt.Errorf("input schema is not a JSON object")
		}
	}

	for _, key := range rootStripKeys {
		delete(root, key)
	}
	if len(opts.PropertyWhitelist) > 0 {
		applyWhitelist(root, opts.PropertyWhitelist)
	}

	// Pipeline order is contractual.
	markRequired(root)
	buildNestedShapes(root)
	inferArrayItems(root)
	filterAllowedKeys(root)
	shorten(root)
	addEnumsAndExamples(root)
	encodeDotProperties(root)

	out, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encode normalized schema: %w", err)
	}
	return out, nil
}

// applyWhitelist removes top-level properties outside allowed and
// reduces required accordingly.
func applyWhitelist(root map[string]any, allowed []string) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	for name := range props {
		if !keep[name] {
			delete(props, name)
		}
	}
	if req, ok := asSlice(root["required"]); ok {
		kept := make([]any, 0, len(req))
		for _, v := range req {
			if name, ok := v.(string); ok && keep[name] {
				kept = append(kept, name)
			}
		}
		root["required"] = kept
	}
}

// markRequired prepends the required token to descriptions of required
// properties.
func markRequired(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	req, _ := asSlice(root["required"])
	for _, v := range req {
		name, ok := v.(string)
		if !ok {
			continue
		}
		prop, ok := asMap(props[name])
		if !ok {
			continue
		}
		desc, _ := prop["description"].(string)
		if strings.HasPrefix(desc, requiredToken) {
			continue
		}
		prop["description"] = strings.TrimSpace(requiredToken + " " + desc)
	}
}

// inferArrayItems fills in missing array item types. Priority: explicit
// items.type, then the type of prefill[0], then default[0], then the
// editor's conventional item type.
func inferArrayItems(root map[string]any) {
	editorItemTypes := map[string]string{
		"requestListSources": "object",
		"stringList":         "string",
		"json":               "object",
		"globs":              "object",
		"select":             "string",
	}

	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	for _, v := range props {
		prop, ok := asMap(v)
		if !ok || prop["type"] != "array" {
			continue
		}
		items, _ := asMap(prop["items"])
		if items != nil {
			if _, hasType := items["type"].(string); hasType {
				continue
			}
		}

		itemType := ""
		if pf, ok := asSlice(prop["prefill"]); ok && len(pf) > 0 {
			itemType = jsonTypeOf(pf[0])
		}
		if itemType == "" {
			if def, ok := asSlice(prop["default"]); ok && len(def) > 0 {
				itemType = jsonTypeOf(def[0])
			}
		}
		if itemType == "" {
			if editor, ok := prop["editor"].(string); ok {
				itemType = editorItemTypes[editor]
			}
		}
		if itemType == "" {
			continue
		}
		if items == nil {
			items = map[string]any{}
			prop["items"] = items
		}
		items["type"] = itemType
	}
}

// filterAllowedKeys drops UI-only keys from every property, recursing
// through nested object properties and array items.
func filterAllowedKeys(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	for _, v := range props {
		if prop, ok := asMap(v); ok {
			filterProperty(prop)
		}
	}
}

func filterProperty(prop map[string]any) {
	for key := range prop {
		if !allowedPropertyKeys[key] {
			delete(prop, key)
		}
	}
	if nested, ok := asMap(prop["properties"]); ok {
		for _, v := range nested {
			if sub, ok := asMap(v); ok {
				filterProperty(sub)
			}
		}
	}
	if items, ok := asMap(prop["items"]); ok {
		filterProperty(items)
	}
}

// shorten truncates oversized descriptions and prunes enum lists whose
// cumulative length exceeds the cap.
func shorten(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	for _, v := range props {
		prop, ok := asMap(v)
		if !ok {
			continue
		}
		if desc, ok := prop["description"].(string); ok {
			if r := []rune(desc); len(r) > maxDescriptionLen {
				prop["description"] = string(r[:maxDescriptionLen]) + "…"
			}
		}
		if enum, ok := asSlice(prop["enum"]); ok {
			total := 0
			cut := len(enum)
			for i, val := range enum {
				total += len(fmt.Sprint(val)) + 1
				if total > maxEnumChars && i > 0 {
					cut = i
					break
				}
			}
			if cut < len(enum) {
				prop["enum"] = enum[:cut]
			}
		}
	}
}

// addEnumsAndExamples spells out enum values and prefill/default
// examples in the description, and mirrors the example into the
// standard examples keyword.
func addEnumsAndExamples(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	for _, v := range props {
		prop, ok := asMap(v)
		if !ok {
			continue
		}
		desc, _ := prop["description"].(string)

		if enum, ok := asSlice(prop["enum"]); ok && len(enum) > 0 && !strings.Contains(desc, "Possible values:") {
			limit := len(enum)
			if limit > maxEnumProseValues {
				limit = maxEnumProseValues
			}
			vals := make([]string, 0, limit)
			for _, val := range enum[:limit] {
				vals = append(vals, fmt.Sprint(val))
			}
			desc = appendProse(desc, "Possible values: "+strings.Join(vals, ","))
		}

		example := prop["prefill"]
		if example == nil {
			example = prop["default"]
		}
		if example != nil {
			if b, err := json.Marshal(example); err == nil && !strings.Contains(desc, "Example values:") {
				desc = appendProse(desc, "Example values: "+string(b))
			}
			if arr, ok := asSlice(example); ok {
				prop["examples"] = arr
			} else {
				prop["examples"] = []any{example}
			}
		}

		if desc != "" {
			prop["description"] = desc
		}
	}
}

func appendProse(desc, line string) string {
	if desc == "" {
		return line
	}
	return desc + "\n" + line
}

// encodeDotProperties rewrites property keys and required names through
// EncodePropertyName so that every key fits [A-Za-z0-9_-].
func encodeDotProperties(root map[string]any) {
	props, ok := asMap(root["properties"])
	if !ok {
		return
	}
	encoded := make(map[string]any, len(props))
	for name, v := range props {
		encoded[EncodePropertyName(name)] = v
	}
	root["properties"] = encoded

	if req, ok := asSlice(root["required"]); ok {
		for i, v := range req {
			if name, ok := v.(string); ok {
				req[i] = EncodePropertyName(name)
			}
		}
	}
}

// jsonTypeOf maps a decoded JSON value to its schema type name.
func jsonTypeOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return ""
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
