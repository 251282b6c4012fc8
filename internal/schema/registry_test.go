package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userPoolSchema() *EntitySchema {
	return &EntitySchema{
		EntityName: "user-pool",
		Fields: []Field{
			{Name: "email", Type: TypeString, Required: true, IsUnique: true},
			{Name: "role", Type: TypeString},
		},
		FilterableFields: []string{"role"},
		ExcludeOnFetch:   true,
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	created, err := r.Create(userPoolSchema())
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())

	got, err := r.Get("user-pool")
	require.NoError(t, err)
	assert.Equal(t, "user-pool", got.EntityName)
	assert.True(t, got.ExcludeOnFetch)
}

func TestRegistryCreateDuplicateName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(userPoolSchema())
	require.NoError(t, err)

	_, err = r.Create(userPoolSchema())
	assert.ErrorIs(t, err, ErrExists)
}

func TestRegistryShapeValidation(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		sch  *EntitySchema
	}{
		{"empty entity name", &EntitySchema{Fields: []Field{{Name: "a", Type: TypeString}}}},
		{"no fields", &EntitySchema{EntityName: "x"}},
		{"duplicate field name", &EntitySchema{
			EntityName: "x",
			Fields:     []Field{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeNumber}},
		}},
		{"unknown field type", &EntitySchema{
			EntityName: "x",
			Fields:     []Field{{Name: "a", Type: "uuid"}},
		}},
		{"uniqueFields references undeclared field", &EntitySchema{
			EntityName:   "x",
			Fields:       []Field{{Name: "a", Type: TypeString}},
			UniqueFields: []string{"b"},
		}},
		{"filterableFields references undeclared field", &EntitySchema{
			EntityName:       "x",
			Fields:           []Field{{Name: "a", Type: TypeString}},
			FilterableFields: []string{"b"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.sch)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	created, err := r.Create(userPoolSchema())
	require.NoError(t, err)

	edited := userPoolSchema()
	edited.Fields = append(edited.Fields, Field{Name: "team", Type: TypeString})
	updated, err := r.Update("user-pool", edited)
	require.NoError(t, err)
	assert.Len(t, updated.Fields, 3)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = r.Update("nope", userPoolSchema())
	assert.ErrorIs(t, err, ErrNotFound)

	mismatched := userPoolSchema()
	mismatched.EntityName = "other"
	_, err = r.Update("user-pool", mismatched)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(userPoolSchema())
	require.NoError(t, err)

	require.NoError(t, r.Delete("user-pool"))
	_, err = r.Get("user-pool")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete("user-pool"), ErrNotFound)
}

func TestRegistryClonesOnRead(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(userPoolSchema())
	require.NoError(t, err)

	got, err := r.Get("user-pool")
	require.NoError(t, err)
	got.Fields[0].Name = "mutated"

	again, err := r.Get("user-pool")
	require.NoError(t, err)
	assert.Equal(t, "email", again.Fields[0].Name)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
- entityName: user-pool
  excludeOnFetch: true
  fields:
    - name: email
      type: string
      required: true
      isUnique: true
- entityName: license
  fields:
    - name: key
      type: string
      required: true
  uniqueFields: [key]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	r := NewRegistry()
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sch, err := r.Get("license")
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, sch.UniqueFields)
}

func TestLoadFileSingleDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `
entityName: token
fields:
  - name: value
    type: string
    isUnique: true
`
	path := filepath.Join(dir, "token.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r := NewRegistry()
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sch, err := r.Get("token")
	require.NoError(t, err)
	assert.True(t, sch.Fields[0].IsUnique)
}

func TestLoadFileSkipsNullDocuments(t *testing.T) {
	dir := t.TempDir()
	doc := `
- entityName: a
  fields:
    - name: x
      type: string
- ~
- entityName: b
  fields:
    - name: y
      type: string
`
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	r := NewRegistry()
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, r.List(), 2)
}

func TestLoadFileBadSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entityName: bad\nfields: []\n"), 0o644))

	r := NewRegistry()
	_, err := r.LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalid)
}
