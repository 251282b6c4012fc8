package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemStore keeps one record map per entity type behind a single RWMutex.
// All mutations run entirely inside the write lock, which is what makes
// Insert/Update unique enforcement and FindOneAndUpdate atomic.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // entityType -> id -> record
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]*Record)}
}

// conflictLocked scans for a record violating any rule against rec.
// Caller holds at least the read lock. Uniqueness is scoped per environment;
// a compound rule only applies when every member field is present.
func (s *MemStore) conflictLocked(rec *Record, rules []UniqueRule, excludeID string) *ConflictError {
	byID := s.data[rec.EntityType]
	for _, rule := range rules {
		want := make([]string, 0, len(rule.Fields))
		present := true
		for _, name := range rule.Fields {
			v, ok := rec.Fields[name]
			if !ok {
				present = false
				break
			}
			want = append(want, Canonical(v))
		}
		if !present {
			continue
		}
		for id, other := range byID {
			if id == excludeID || other.Environment != rec.Environment {
				continue
			}
			match := true
			for i, name := range rule.Fields {
				v, ok := other.Fields[name]
				if !ok || Canonical(v) != want[i] {
					match = false
					break
				}
			}
			if match {
				if len(rule.Fields) == 1 {
					return &ConflictError{Field: rule.Fields[0], Value: rec.Fields[rule.Fields[0]]}
				}
				return &ConflictError{Field: rule.CompoundField(), Value: strings.Join(want, "+")}
			}
		}
	}
	return nil
}

func (s *MemStore) Insert(_ context.Context, rec *Record, rules []UniqueRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conflictLocked(rec, rules, ""); err != nil {
		return err
	}
	if s.data[rec.EntityType] == nil {
		s.data[rec.EntityType] = make(map[string]*Record)
	}
	s.data[rec.EntityType][rec.ID] = rec.Clone()
	return nil
}

func (s *MemStore) Get(_ context.Context, entityType, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.data[entityType][id]
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemStore) List(_ context.Context, entityType string, f Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.data[entityType]
	out := make([]*Record, 0, len(byID))
	for _, rec := range byID {
		if f.ExcludeConsumed && rec.Consumed {
			continue
		}
		if f.Environment != "" && rec.Environment != f.Environment {
			continue
		}
		if f.Field != "" {
			v, ok := rec.Fields[f.Field]
			if !ok || Canonical(v) != f.Value {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *MemStore) Update(_ context.Context, entityType, id string, fields map[string]any, rules []UniqueRule) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data[entityType][id]
	if rec == nil {
		return nil, ErrNotFound
	}
	candidate := rec.Clone()
	candidate.Fields = fields
	if err := s.conflictLocked(candidate, rules, id); err != nil {
		return nil, err
	}
	candidate.UpdatedAt = time.Now().UTC()
	s.data[entityType][id] = candidate
	return candidate.Clone(), nil
}

func (s *MemStore) Delete(_ context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[entityType][id] == nil {
		return ErrNotFound
	}
	delete(s.data[entityType], id)
	return nil
}

func (s *MemStore) FindOneAndUpdate(_ context.Context, entityType string, m Match, mut Mutation) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// map iteration order is unspecified, which matches the contract:
	// selection among multiple candidates is arbitrary.
	for _, rec := range s.data[entityType] {
		if !m.Covers(rec) {
			continue
		}
		applyLocked(rec, mut)
		return rec.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemStore) UpdateAll(_ context.Context, entityType string, m Match, mut Mutation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.data[entityType] {
		if !m.Covers(rec) {
			continue
		}
		applyLocked(rec, mut)
		count++
	}
	return count, nil
}

func applyLocked(rec *Record, mut Mutation) {
	if mut.Consumed != nil {
		rec.Consumed = *mut.Consumed
	}
	rec.UpdatedAt = time.Now().UTC()
}
