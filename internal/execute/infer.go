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
	"math"
	"sort"
)

// InferSchema derives a JSON Schema from observed dataset items. The
// inference is shallow by intent: types, object properties (required =
// present in every item), recursion into nested objects, and a merged
// item schema for arrays. It describes what the run produced, not what
// the Actor promises.
func InferSchema(items []map[string]any) map[string]any {
	if len(items) == 0 {
		return map[string]any{"type": "object"}
	}

	schema := inferValue(items[0])
	for _, item := range items[1:] {
		schema = mergeSchemas(schema, inferValue(item))
	}
	return schema
}

func inferValue(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{"type": "null"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return map[string]any{"type": "integer"}
		}
		return map[string]any{"type": "number"}
	case string:
		return map[string]any{"type": "string"}
	case []any:
		return inferArray(t)
	case map[string]any:
		return inferObject(t)
	default:
		// Items come from decoded JSON, so this only triggers on exotic
		// inputs in tests.
		return map[string]any{}
	}
}

func inferObject(obj map[string]any) map[string]any {
	properties := make(map[string]any, len(obj))
	required := make([]string, 0, len(obj))
	for key, value := range obj {
		properties[key] = inferValue(value)
		required = append(required, key)
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// inferArray merges the schemas of all elements into one items schema,
// so heterogeneous arrays widen instead of reporting only index zero.
func inferArray(arr []any) map[string]any {
	schema := map[string]any{"type": "array"}
	if len(arr) == 0 {
		return schema
	}

	items := inferValue(arr[0])
	for _, elem := range arr[1:] {
		items = mergeSchemas(items, inferValue(elem))
	}
	schema["items"] = items
	return schema
}

// mergeSchemas combines two inferred schemas. Matching object schemas
// merge per property with required reduced to the intersection, which is
// how optional fields get marked; matching arrays merge their item
// schemas; diverging types widen to a type list.
func mergeSchemas(a, b map[string]any) map[string]any {
	ta, tb := typeOf(a), typeOf(b)

	if ta == "object" && tb == "object" {
		return mergeObjects(a, b)
	}
	if ta == "array" && tb == "array" {
		return mergeArrays(a, b)
	}
	if ta == tb {
		return a
	}
	// integer is a subset of number; widening keeps one type.
	if (ta == "integer" && tb == "number") || (ta == "number" && tb == "integer") {
		return map[string]any{"type": "number"}
	}
	return map[string]any{"type": mergeTypeLists(a["type"], b["type"])}
}

func mergeObjects(a, b map[string]any) map[string]any {
	propsA, _ := a["properties"].(map[string]any)
	propsB, _ := b["properties"].(map[string]any)

	merged := make(map[string]any, len(propsA)+len(propsB))
	for key, sa := range propsA {
		if sb, ok := propsB[key]; ok {
			merged[key] = mergeSchemas(sa.(map[string]any), sb.(map[string]any))
		} else {
			merged[key] = sa
		}
	}
	for key, sb := range propsB {
		if _, ok := merged[key]; !ok {
			merged[key] = sb
		}
	}

	required := intersectRequired(a["required"], b["required"])

	schema := map[string]any{
		"type":       "object",
		"properties": merged,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func mergeArrays(a, b map[string]any) map[string]any {
	itemsA, okA := a["items"].(map[string]any)
	itemsB, okB := b["items"].(map[string]any)

	schema := map[string]any{"type": "array"}
	switch {
	case okA && okB:
		schema["items"] = mergeSchemas(itemsA, itemsB)
	case okA:
		schema["items"] = itemsA
	case okB:
		schema["items"] = itemsB
	}
	return schema
}

func intersectRequired(a, b any) []string {
	listA, _ := a.([]string)
	listB, _ := b.([]string)

	inB := make(map[string]struct{}, len(listB))
	for _, key := range listB {
		inB[key] = struct{}{}
	}

	var out []string
	for _, key := range listA {
		if _, ok := inB[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// mergeTypeLists flattens "type" values (strings or string slices) into
// one sorted, deduplicated slice.
func mergeTypeLists(a, b any) []string {
	seen := make(map[string]struct{}, 4)
	collect := func(v any) {
		switch t := v.(type) {
		case string:
			seen[t] = struct{}{}
		case []string:
			for _, s := range t {
				seen[s] = struct{}{}
			}
		case []any:
			for _, e := range t {
				if s, ok := e.(string); ok {
					seen[s] = struct{}{}
				}
			}
		}
	}
	collect(a)
	collect(b)

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func typeOf(schema map[string]any) string {
	t, _ := schema["type"].(string)
	return t
}
