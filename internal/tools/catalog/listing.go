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

package catalog

import (
	"sort"

	"github.com/apify/actors-mcp-server-go/internal/tools"
)

// workflowOrder lists the internal tools in the order a model works
// with them: discover, inspect, run, monitor, read output, then read
// docs pages found earlier.
var workflowOrder = []string{
	StoreSearch,
	DocsSearch,
	FetchActorDetails,
	CallActor,
	GetActorRun,
	GetActorOutput,
	DocsFetch,
}

// listingRank maps every internal tool name to its listing position:
// the workflow tools first, then the rest in category order.
var listingRank = func() map[string]int {
	rank := make(map[string]int, len(internalTools))
	for _, name := range workflowOrder {
		rank[name] = len(rank)
	}
	for _, c := range categoryOrder {
		for _, def := range internalTools {
			if def.category != c {
				continue
			}
			if _, ok := rank[def.name]; !ok {
				rank[def.name] = len(rank)
			}
		}
	}
	return rank
}()

// SortForListing orders entries for tools/list responses: internal
// tools in workflow order, Actor tools after them sorted by name. The
// input is not modified.
func SortForListing(entries []*tools.Entry) []*tools.Entry {
	out := make([]*tools.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iInternal := listingRank[out[i].Name]
		rj, jInternal := listingRank[out[j].Name]
		switch {
		case iInternal && jInternal:
			return ri < rj
		case iInternal:
			return true
		case jInternal:
			return false
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// SortNamesForListing orders internal tool names the same way
// SortForListing orders entries. Unknown names keep alphabetical order
// at the end.
func SortNamesForListing(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iInternal := listingRank[out[i]]
		rj, jInternal := listingRank[out[j]]
		switch {
		case iInternal && jInternal:
			return ri < rj
		case iInternal:
			return true
		case jInternal:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}
