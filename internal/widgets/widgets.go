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

// Package widgets serves the HTML templates that UI hosts render next
// to tool results in openai mode. Templates are embedded in the binary;
// a directory override with live reload exists for widget development.
package widgets

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// Widget resource URIs. Tool _meta points UI hosts at these; the server
// registers each as an MCP resource.
const (
	URIStoreSearch  = "ui://widget/store-search.html"
	URIActorDetails = "ui://widget/actor-details.html"
	URIActorRun     = "ui://widget/actor-run.html"
)

// MimeType marks a resource as a sandboxed widget template.
const MimeType = "text/html+skybridge"

const uriPrefix = "ui://widget/"

//go:embed templates/*.html
var templates embed.FS

// Resource is one servable widget template.
type Resource struct {
	URI      string
	Name     string
	Title    string
	MimeType string
	HTML     []byte
}

// Library holds the widget templates, embedded or overridden from a
// directory. Safe for concurrent use.
type Library struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	resources map[string]Resource
}

// New loads the embedded templates and, when dir is non-empty, applies
// any *.html files found there as overrides keyed by base name.
func New(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{
		dir:       dir,
		logger:    logger,
		resources: make(map[string]Resource),
	}

	entries, err := templates.ReadDir("templates")
	if err != nil {
		return nil, errors.Wrap(err, "reading embedded widget templates")
	}
	for _, entry := range entries {
		html, err := templates.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "reading embedded widget %s", entry.Name())
		}
		l.put(entry.Name(), html)
	}

	if dir != "" {
		if err := l.loadDir(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// List returns all widgets sorted by URI.
func (l *Library) List() []Resource {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Resource, 0, len(l.resources))
	for _, r := range l.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Get returns the widget registered under uri.
func (l *Library) Get(uri string) (Resource, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.resources[uri]
	return r, ok
}

// Watch reloads overridden templates when the override directory
// changes, invoking onChange after each successful reload. It blocks
// until ctx is cancelled. Watching without an override directory is an
// error.
func (l *Library) Watch(ctx context.Context, onChange func()) error {
	if l.dir == "" {
		return errors.New("no widgets directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating widgets watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return errors.Wrapf(err, "watching %s", l.dir)
	}
	l.logger.Info("watching widgets directory", "dir", l.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".html") {
				continue
			}
			if err := l.loadFile(event.Name); err != nil {
				l.logger.Warn("widget reload failed", "file", event.Name, "error", err)
				continue
			}
			l.logger.Debug("widget reloaded", "file", event.Name)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("widgets watcher error", "error", err)
		}
	}
}

func (l *Library) loadDir() error {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.html"))
	if err != nil {
		return errors.Wrapf(err, "listing widgets in %s", l.dir)
	}
	for _, f := range files {
		if err := l.loadFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (l *Library) loadFile(path string) error {
	html, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading widget %s", path)
	}
	l.put(filepath.Base(path), html)
	return nil
}

func (l *Library) put(base string, html []byte) {
	name := strings.TrimSuffix(base, ".html")
	r := Resource{
		URI:      uriPrefix + base,
		Name:     name,
		Title:    widgetTitle(name),
		MimeType: MimeType,
		HTML:     html,
	}
	l.mu.Lock()
	l.resources[r.URI] = r
	l.mu.Unlock()
}

func widgetTitle(name string) string {
	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return fmt.Sprintf("%s widget", strings.Join(words, " "))
}
