// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a hook from its free-form options.
type Factory func(opts map[string]any, deps Dependencies) (Hook, error)

// Registry maps hook names to factories.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a new registry holding the built-in hooks.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Cannot fail on an empty registry.
	_ = r.Register(ExportHookName, func(opts map[string]any, deps Dependencies) (Hook, error) {
		cfg, err := ExportConfigFromOptions(opts)
		if err != nil {
			return nil, err
		}
		return NewExportHook(cfg, deps)
	})
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrTypeConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHook, name)
	}
	r.factories[name] = f
	return nil
}

// Build constructs the hook registered under name.
func (r *Registry) Build(name string, opts map[string]any, deps Dependencies) (Hook, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHook, name)
	}
	return f(opts, deps)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
