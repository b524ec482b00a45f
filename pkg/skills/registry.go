// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// Factory builds a fresh skill instance.
type Factory func() Skill

type registryEntry struct {
	factory Factory
	meta    Metadata
}

// Registry maps skill names to factories. Skills are added explicitly; there
// is no discovery by reflection or import side effects.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds the skill built by f. The factory is called once to read
// its metadata, which must be valid and carry a name not yet registered.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return errors.New(errors.CodeInvalidInput, "register: nil factory", nil)
	}
	s := f()
	if s == nil {
		return errors.New(errors.CodeInvalidInput, "register: factory returned nil skill", nil)
	}
	meta := s.Metadata()
	if err := meta.Validate(); err != nil {
		return errors.New(errors.CodeInvalidInput, "register: invalid metadata", err).
			WithContext("skill", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.Name]; exists {
		return errors.Newf(errors.CodeInvalidInput, "register: skill %q already registered", meta.Name)
	}
	r.entries[meta.Name] = registryEntry{factory: f, meta: meta}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(fmt.Sprintf("skills: %v", err))
	}
}

// RegisterSkill registers a single shared instance.
func (r *Registry) RegisterSkill(s Skill) error {
	return r.Register(func() Skill { return s })
}

// New returns a fresh instance of the named skill.
func (r *Registry) New(name string) (Skill, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "unknown skill: %s", name)
	}
	return e.factory(), nil
}

// Metadata returns the metadata of the named skill.
func (r *Registry) Metadata(name string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Metadata{}, errors.Newf(errors.CodeNotFound, "unknown skill: %s", name)
	}
	return e.meta, nil
}

// List returns the metadata of every registered skill sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.meta)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
