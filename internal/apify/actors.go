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

package apify

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// definitionCache holds Actor definitions fetched from default builds.
// Definitions change only when an Actor is rebuilt, which is rare next to
// the lifetime of a server process, so entries are never invalidated.
var definitionCache = struct {
	sync.RWMutex
	m map[string]*ActorDefinition
}{m: make(map[string]*ActorDefinition)}

// actorPath escapes an Actor identifier for use in a URL path. The API
// accepts both "actorId" and "username~name"; callers pass "username/name"
// and the slash is swapped for the tilde form.
func actorPath(actorID string) string {
	return url.PathEscape(strings.Replace(actorID, "/", "~", 1))
}

// GetActor fetches Actor metadata by ID or owner-qualified name
// ("username/name").
func (c *Client) GetActor(ctx context.Context, actorID string) (*Actor, error) {
	var actor Actor
	err := c.get(ctx, "/v2/acts/"+actorPath(actorID), nil, &actor)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, &errors.NotFoundError{Resource: "actor", ID: actorID}
		}
		return nil, err
	}
	return &actor, nil
}

// GetDefaultBuild fetches the default build of an Actor, which carries the
// Actor definition (input schema and dataset views).
func (c *Client) GetDefaultBuild(ctx context.Context, actorID string) (*Build, error) {
	var build Build
	err := c.get(ctx, "/v2/acts/"+actorPath(actorID)+"/builds/default", nil, &build)
	if err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, &errors.NotFoundError{Resource: "actor build", ID: actorID}
		}
		return nil, err
	}
	return &build, nil
}

// GetActorDefinition returns the Actor definition from the default build,
// using the process-wide cache. The cache key is the identifier the caller
// used, so ID and owner/name forms cache independently.
func (c *Client) GetActorDefinition(ctx context.Context, actorID string) (*ActorDefinition, error) {
	definitionCache.RLock()
	cached, ok := definitionCache.m[actorID]
	definitionCache.RUnlock()
	if ok {
		return cached, nil
	}

	build, err := c.GetDefaultBuild(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if build.ActorDefinition == nil {
		return nil, &errors.NotFoundError{Resource: "actor definition", ID: actorID}
	}

	definitionCache.Lock()
	definitionCache.m[actorID] = build.ActorDefinition
	definitionCache.Unlock()

	return build.ActorDefinition, nil
}

// SearchStore searches the public Actor store.
func (c *Client) SearchStore(ctx context.Context, opts SearchStoreOptions) ([]StoreActor, int64, error) {
	query := url.Values{}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if opts.Category != "" {
		query.Set("category", opts.Category)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.SortBy != "" {
		query.Set("sortBy", opts.SortBy)
	}

	var envelope listEnvelope[StoreActor]
	if err := c.getFull(ctx, "/v2/store", query, &envelope); err != nil {
		return nil, 0, err
	}

	return envelope.Data.Items, envelope.Data.Total, nil
}

// GetMe fetches the user the token belongs to. Used to verify tokens and
// to scope task stores per user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/v2/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
