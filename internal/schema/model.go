package schema

import (
	"fmt"
	"strings"
	"time"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeArray, TypeObject:
		return true
	}
	return false
}

// Field describes one field of an entity type.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	IsUnique    bool      `json:"isUnique,omitempty" yaml:"isUnique,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// EntitySchema is a runtime-declared entity type.
type EntitySchema struct {
	EntityName       string   `json:"entityName" yaml:"entityName"`
	Fields           []Field  `json:"fields" yaml:"fields"`
	FilterableFields []string `json:"filterableFields,omitempty" yaml:"filterableFields,omitempty"`

	// UniqueFields are independent unique fields, unless UseCompoundUnique
	// turns them into a single compound key.
	UniqueFields      []string `json:"uniqueFields,omitempty" yaml:"uniqueFields,omitempty"`
	UseCompoundUnique bool     `json:"useCompoundUnique,omitempty" yaml:"useCompoundUnique,omitempty"`

	// ExcludeOnFetch enables the consumption state machine for this type.
	ExcludeOnFetch bool `json:"excludeOnFetch,omitempty" yaml:"excludeOnFetch,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// FieldByName returns the declared field with the given name.
func (s *EntitySchema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Filterable reports whether name may be used in filter queries.
func (s *EntitySchema) Filterable(name string) bool {
	for _, f := range s.FilterableFields {
		if f == name {
			return true
		}
	}
	return false
}

// CheckShape validates the schema definition itself: entity name present,
// field names unique, declared types known, uniqueFields/filterableFields
// referencing declared fields only.
func (s *EntitySchema) CheckShape() error {
	if strings.TrimSpace(s.EntityName) == "" {
		return fmt.Errorf("entityName is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q declares no fields", s.EntityName)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %q has a field with empty name", s.EntityName)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %q declares field %q twice", s.EntityName, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.valid() {
			return fmt.Errorf("schema %q field %q has unknown type %q", s.EntityName, f.Name, f.Type)
		}
	}
	for _, n := range s.UniqueFields {
		if _, ok := seen[n]; !ok {
			return fmt.Errorf("schema %q: uniqueFields references undeclared field %q", s.EntityName, n)
		}
	}
	for _, n := range s.FilterableFields {
		if _, ok := seen[n]; !ok {
			return fmt.Errorf("schema %q: filterableFields references undeclared field %q", s.EntityName, n)
		}
	}
	return nil
}

// Clone returns a deep copy, so registry callers can not mutate the stored
// definition behind the registry's back.
func (s *EntitySchema) Clone() *EntitySchema {
	cp := *s
	cp.Fields = append([]Field(nil), s.Fields...)
	cp.FilterableFields = append([]string(nil), s.FilterableFields...)
	cp.UniqueFields = append([]string(nil), s.UniqueFields...)
	return &cp
}
