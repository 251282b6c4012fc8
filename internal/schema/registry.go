package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound means no schema is registered under the requested name.
	ErrNotFound = errors.New("schema not found")
	// ErrExists means a schema with that entityName is already registered.
	ErrExists = errors.New("schema already exists")
	// ErrInvalid wraps shape problems in a submitted schema.
	ErrInvalid = errors.New("invalid schema")
)

// Registry owns the EntitySchema definitions. It is the only source of truth
// for which fields exist, which are required and which are unique.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*EntitySchema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*EntitySchema)}
}

// Create registers a new schema. The definition is shape-checked first;
// registering an existing entityName fails.
func (r *Registry) Create(s *EntitySchema) (*EntitySchema, error) {
	if err := s.CheckShape(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.EntityName]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, s.EntityName)
	}
	cp := s.Clone()
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.schemas[cp.EntityName] = cp
	return cp.Clone(), nil
}

// Update replaces the definition in place. Existing entities of the type are
// not touched; field additions and removals are not retro-applied.
func (r *Registry) Update(name string, s *EntitySchema) (*EntitySchema, error) {
	if s.EntityName == "" {
		s.EntityName = name
	}
	if s.EntityName != name {
		return nil, fmt.Errorf("%w: entityName %q does not match %q", ErrInvalid, s.EntityName, name)
	}
	if err := s.CheckShape(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	cp := s.Clone()
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	r.schemas[name] = cp
	return cp.Clone(), nil
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (*EntitySchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.Clone(), nil
}

// Delete removes the definition only; records of the type are left alone.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.schemas, name)
	return nil
}

// List returns all registered schemas sorted by entityName.
func (r *Registry) List() []*EntitySchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntitySchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityName < out[j].EntityName })
	return out
}
