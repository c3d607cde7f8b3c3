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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apify/actors-mcp-server-go/internal/tools/catalog"
	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

type fakeMutator struct {
	addedActor string
	addNames   []string
	addErr     error

	removed   []string
	removeErr error
}

func (m *fakeMutator) AddActorTools(ctx context.Context, actorFullName string) ([]string, error) {
	m.addedActor = actorFullName
	if m.addErr != nil {
		return nil, m.addErr
	}
	return m.addNames, nil
}

func (m *fakeMutator) RemoveTool(ctx context.Context, name string) error {
	m.removed = append(m.removed, name)
	return m.removeErr
}

func TestAddActor(t *testing.T) {
	entry, err := Entry(catalog.AddActor, catalog.ModeDefault, &Deps{Logger: quietLogger()})
	require.NoError(t, err)

	mutator := &fakeMutator{addNames: []string{"apify-slash-instagram-scraper"}}
	call := newCall(entry.Name, map[string]any{"actor": "apify/instagram-scraper"})
	call.Mutator = mutator

	result, err := entry.Handler(context.Background(), call)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "apify/instagram-scraper", mutator.addedActor)
	require.Contains(t, result.Content[0].Text, "apify-slash-instagram-scraper")
	require.NotNil(t, result.Structured)
}

func TestAddActor_Disabled(t *testing.T) {
	entry, err := Entry(catalog.AddActor, catalog.ModeDefault, &Deps{Logger: quietLogger()})
	require.NoError(t, err)

	// Without a registry mutator the tool reports itself disabled instead
	// of failing the call.
	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"actor": "apify/instagram-scraper",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "--enable-adding-actors")
}

func TestAddActor_PropagatesErrors(t *testing.T) {
	entry, err := Entry(catalog.AddActor, catalog.ModeDefault, &Deps{Logger: quietLogger()})
	require.NoError(t, err)

	mutator := &fakeMutator{addErr: &errors.NotFoundError{Resource: "actor", ID: "nobody/nothing"}}
	call := newCall(entry.Name, map[string]any{"actor": "nobody/nothing"})
	call.Mutator = mutator

	result, err := entry.Handler(context.Background(), call)
	require.Nil(t, result)

	var notFound *errors.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestRemoveActor(t *testing.T) {
	entry, err := Entry(catalog.RemoveActor, catalog.ModeDefault, &Deps{Logger: quietLogger()})
	require.NoError(t, err)

	mutator := &fakeMutator{}
	call := newCall(entry.Name, map[string]any{"tool": "apify-slash-web-scraper"})
	call.Mutator = mutator

	result, err := entry.Handler(context.Background(), call)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, []string{"apify-slash-web-scraper"}, mutator.removed)
	require.Contains(t, result.Content[0].Text, "Removed tool")
}

func TestRemoveActor_Disabled(t *testing.T) {
	entry, err := Entry(catalog.RemoveActor, catalog.ModeDefault, &Deps{Logger: quietLogger()})
	require.NoError(t, err)

	result, err := entry.Handler(context.Background(), newCall(entry.Name, map[string]any{
		"tool": "apify-slash-web-scraper",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "--enable-adding-actors")
}
