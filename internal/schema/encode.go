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

import "strings"

// dotToken replaces dots in property names. Some clients reject tool
// argument keys outside [A-Za-z0-9_-], while Actor input schemas use
// dotted names freely.
const dotToken = "-dot-"

// EncodePropertyName makes a property name safe for strict clients.
func EncodePropertyName(name string) string {
	return strings.ReplaceAll(name, ".", dotToken)
}

// DecodePropertyName reverses EncodePropertyName.
func DecodePropertyName(name string) string {
	return strings.ReplaceAll(name, dotToken, ".")
}

// DecodeArguments returns a copy of args with top-level keys decoded
// back to the Actor's property names. Values are shared, not copied;
// the caller forwards them unchanged.
func DecodeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[DecodePropertyName(k)] = v
	}
	return out
}
