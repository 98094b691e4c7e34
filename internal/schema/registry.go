// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package schema

import "sync"

// Registry is the shared set of class definitions seen by a host. Loads
// register every manifest they parse so other components can look classes up
// by kind.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*ClassDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*ClassDef)}
}

// Register stores def, replacing any definition of the same kind.
func (r *Registry) Register(def *ClassDef) {
	r.mu.Lock()
	r.classes[def.Kind] = def
	r.mu.Unlock()
}

// Lookup returns the definition of kind.
func (r *Registry) Lookup(kind string) (*ClassDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.classes[kind]
	return def, ok
}

// Remove forgets kind.
func (r *Registry) Remove(kind string) {
	r.mu.Lock()
	delete(r.classes, kind)
	r.mu.Unlock()
}
