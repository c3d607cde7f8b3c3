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

package tools

import (
	"errors"
	"fmt"
	"sync"
)

// Registry errors.
var (
	ErrHandlerRegistered = errors.New("change handler already registered")
	ErrNoHandler         = errors.New("no change handler registered")
)

// Change describes one registry mutation. The handler receives it
// exactly once per mutating call, after the mutation is applied.
type Change struct {
	// Added holds the entries inserted or replaced by this mutation.
	Added []*Entry
	// Removed holds the names dropped by this mutation.
	Removed []string
	// Names is the full post-mutation name set in listing order.
	Names []string
}

// ChangeHandler observes registry mutations. It runs synchronously on
// the mutating goroutine and must not mutate the registry reentrantly.
type ChangeHandler func(Change)

// Registry is the server's mutable tool set. Names are unique; Upsert
// replaces by name, so two tools can never share a name regardless of
// how startup selection and dynamic additions interleave. Entries are
// owned by the registry; callers must Clone before modifying.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	handler ChangeHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// RegisterChangeHandler installs the single change handler. A second
// registration fails so that two server frontends cannot silently
// compete for mirroring the registry into the protocol layer.
func (r *Registry) RegisterChangeHandler(h ChangeHandler) error {
	if h == nil {
		return errors.New("nil change handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return ErrHandlerRegistered
	}
	r.handler = h
	return nil
}

// UnregisterChangeHandler removes the installed handler.
func (r *Registry) UnregisterChangeHandler() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return ErrNoHandler
	}
	r.handler = nil
	return nil
}

// Upsert validates and inserts the entries, replacing any existing
// entries with the same names. Insertion order is preserved for new
// names; replaced names keep their position. The whole batch is applied
// atomically. With notify set, the change handler is invoked once for
// the batch; startup bulk loads pass false to avoid list-changed noise
// before any session exists.
func (r *Registry) Upsert(entries []*Entry, notify bool) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e == nil {
			return errors.New("nil tool entry")
		}
		if err := e.validate(); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}

	r.mu.Lock()
	added := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if _, exists := r.entries[e.Name]; !exists {
			r.order = append(r.order, e.Name)
		}
		r.entries[e.Name] = e
		added = append(added, e)
	}
	change := Change{Added: added, Names: r.namesLocked()}
	handler := r.handler
	r.mu.Unlock()

	if notify && handler != nil {
		handler(change)
	}
	return nil
}

// Remove drops the named entries and returns the names that were
// actually present. Unknown names are ignored. With notify set, the
// change handler is invoked once, and only when something was removed.
func (r *Registry) Remove(names []string, notify bool) []string {
	if len(names) == 0 {
		return nil
	}

	r.mu.Lock()
	removed := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			continue
		}
		delete(r.entries, name)
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		kept := r.order[:0]
		for _, name := range r.order {
			if _, ok := r.entries[name]; ok {
				kept = append(kept, name)
			}
		}
		r.order = kept
	}
	change := Change{Removed: removed, Names: r.namesLocked()}
	handler := r.handler
	r.mu.Unlock()

	if notify && len(removed) > 0 && handler != nil {
		handler(change)
	}
	return removed
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all entries in insertion order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Names returns all names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close drops all entries and releases compiled validators. The change
// handler is not invoked; Close is for teardown, not mutation.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.Validator = nil
	}
	r.entries = make(map[string]*Entry)
	r.order = nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
