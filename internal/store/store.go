// Package store holds the record store contract shared by the in-memory and
// Postgres implementations. Every mutating operation is atomic with respect
// to concurrent callers; uniqueness rules are enforced inside the write, not
// by a separate check.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one stored entity instance. Metadata (id, type, environment,
// consumed flag, timestamps) is engine-owned; Fields is the schema-shaped
// field map.
type Record struct {
	ID          string         `json:"id"`
	EntityType  string         `json:"entityType"`
	Environment string         `json:"environment,omitempty"`
	Consumed    bool           `json:"isConsumed"`
	Fields      map[string]any `json:"fields"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a copy with its own field map.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// UniqueRule is a uniqueness constraint over one field (independent) or
// several fields (compound key). Rules are derived from the schema by the
// engine and enforced by the store.
type UniqueRule struct {
	Fields []string
}

// ConflictError reports a write rejected by a unique rule.
type ConflictError struct {
	Field string
	Value any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate value %v for unique field %s", e.Value, e.Field)
}

// ErrNotFound means no record matched the requested id or predicate.
var ErrNotFound = errors.New("record not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Field           string // "" = no field filter
	Value           string // compared against the canonical string form
	Environment     string // "" = all environments
	ExcludeConsumed bool
}

// Match selects candidates for FindOneAndUpdate / UpdateAll.
type Match struct {
	ID          string // "" = any id
	Environment string // "" = any environment
	Consumed    *bool  // nil = any state
}

// Covers reports whether rec satisfies the match predicate.
func (m Match) Covers(rec *Record) bool {
	if m.ID != "" && rec.ID != m.ID {
		return false
	}
	if m.Environment != "" && rec.Environment != m.Environment {
		return false
	}
	if m.Consumed != nil && rec.Consumed != *m.Consumed {
		return false
	}
	return true
}

// Mutation is the change applied by FindOneAndUpdate / UpdateAll.
type Mutation struct {
	Consumed *bool
}

// Store is the persistence contract of the engine.
type Store interface {
	// Insert writes a new record, enforcing rules atomically.
	Insert(ctx context.Context, rec *Record, rules []UniqueRule) error
	// Get returns the record regardless of consumption state.
	Get(ctx context.Context, entityType, id string) (*Record, error)
	// List returns records matching the filter.
	List(ctx context.Context, entityType string, f Filter) ([]*Record, error)
	// Update replaces the field map of one record, enforcing rules
	// atomically with the record itself excluded from conflict checks.
	Update(ctx context.Context, entityType, id string, fields map[string]any, rules []UniqueRule) (*Record, error)
	// Delete removes one record.
	Delete(ctx context.Context, entityType, id string) error
	// FindOneAndUpdate atomically selects one arbitrary record matching m,
	// applies mut and returns the post-mutation record. ErrNotFound when
	// nothing matches; no mutation happens in that case.
	FindOneAndUpdate(ctx context.Context, entityType string, m Match, mut Mutation) (*Record, error)
	// UpdateAll applies mut to every record matching m, returning the count.
	UpdateAll(ctx context.Context, entityType string, m Match, mut Mutation) (int, error)
}

// SchemaIndexer is implemented by stores that materialize uniqueness rules
// as native indexes ahead of writes. The in-memory store does not need it;
// the Postgres store does.
type SchemaIndexer interface {
	EnsureIndexes(ctx context.Context, entityType string, rules []UniqueRule) error
}

// Canonical renders a field value in its canonical string form. Uniqueness
// and filters compare these forms: exact, case-sensitive and
// whitespace-preserving.
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// CompoundField names a compound rule in conflict reports.
func (r UniqueRule) CompoundField() string {
	return strings.Join(r.Fields, "+")
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new lexicographically sortable record id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
