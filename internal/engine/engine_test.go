package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testpool/internal/schema"
	"testpool/internal/store"
)

func newTestEngine(t *testing.T, schemas ...*schema.EntitySchema) *Engine {
	t.Helper()
	reg := schema.NewRegistry()
	for _, sch := range schemas {
		_, err := reg.Create(sch)
		require.NoError(t, err)
	}
	return New(reg, store.NewMemStore())
}

func userPool() *schema.EntitySchema {
	return &schema.EntitySchema{
		EntityName: "user-pool",
		Fields: []schema.Field{
			{Name: "email", Type: schema.TypeString, Required: true, IsUnique: true},
			{Name: "role", Type: schema.TypeString},
		},
		FilterableFields: []string{"role"},
		ExcludeOnFetch:   true,
	}
}

func plainCatalog() *schema.EntitySchema {
	return &schema.EntitySchema{
		EntityName: "catalog",
		Fields: []schema.Field{
			{Name: "sku", Type: schema.TypeString, Required: true},
		},
	}
}

func TestCreateUnknownType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(context.Background(), "nope", map[string]any{}, "")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCreateMissingRequiredField(t *testing.T) {
	e := newTestEngine(t, userPool())
	_, err := e.Create(context.Background(), "user-pool", map[string]any{"role": "admin"}, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Entity does not match schema for type: user-pool", verr.Message)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, "email", verr.Issues[0].Field)
}

func TestCreateDropsUnknownKeys(t *testing.T) {
	e := newTestEngine(t, userPool())
	rec, err := e.Create(context.Background(), "user-pool",
		map[string]any{"email": "a@x.com", "favouriteColor": "mauve"}, "")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", rec.Fields["email"])
	assert.NotContains(t, rec.Fields, "favouriteColor")
	assert.False(t, rec.Consumed)
	assert.NotEmpty(t, rec.ID)
}

func TestCreateDuplicate(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	_, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)

	_, err = e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	var dup *DuplicateEntityError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "user-pool", dup.EntityType)
	assert.Equal(t, "email", dup.Field)
	assert.Equal(t, "a@x.com", dup.Value)

	// a different environment is an independent namespace
	_, err = e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "qa")
	assert.NoError(t, err)
}

func TestDeleteThenRecreateSameUniqueValue(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	rec, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, "user-pool", rec.ID))

	_, err = e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	assert.NoError(t, err)
}

func TestUpdateMergeAndRequired(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	rec, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com", "role": "admin"}, "")
	require.NoError(t, err)

	// merge keeps untouched fields; own unique value never conflicts
	updated, err := e.Update(ctx, "user-pool", rec.ID, map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "admin", updated.Fields["role"])

	// removing a required field via explicit null is rejected
	_, err = e.Update(ctx, "user-pool", rec.ID, map[string]any{"email": nil})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUpdateNeverChangesConsumed(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	rec, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)
	_, err = e.FetchNext(ctx, "user-pool", "")
	require.NoError(t, err)

	updated, err := e.Update(ctx, "user-pool", rec.ID, map[string]any{"role": "admin"})
	require.NoError(t, err)
	assert.True(t, updated.Consumed)
}

func TestFetchNextLifecycle(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	created, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)
	assert.False(t, created.Consumed)

	fetched, err := e.FetchNext(ctx, "user-pool", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.True(t, fetched.Consumed)

	_, err = e.FetchNext(ctx, "user-pool", "")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	count, err := e.ResetAll(ctx, "user-pool", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	again, err := e.FetchNext(ctx, "user-pool", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestFetchNextFeatureDisabled(t *testing.T) {
	e := newTestEngine(t, plainCatalog())
	_, err := e.FetchNext(context.Background(), "catalog", "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFetchNextConcurrentDistinct(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := e.Create(ctx, "user-pool", map[string]any{"email": store.NewID() + "@x.com"}, "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := e.FetchNext(ctx, "user-pool", "")
			if err == nil {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "entity %s fetched twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	_, err := e.FetchNext(ctx, "user-pool", "")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFetchNextEnvironmentFilter(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	_, err := e.Create(ctx, "user-pool", map[string]any{"email": "dev@x.com"}, "dev")
	require.NoError(t, err)

	_, err = e.FetchNext(ctx, "user-pool", "qa")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	rec, err := e.FetchNext(ctx, "user-pool", "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", rec.Environment)
}

func TestGetByIDConsumeOnRead(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	created, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)

	got, err := e.GetByID(ctx, "user-pool", created.ID)
	require.NoError(t, err)
	assert.True(t, got.Consumed)

	// invisible until reset
	_, err = e.GetByID(ctx, "user-pool", created.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, e.Reset(ctx, "user-pool", created.ID))
	again, err := e.GetByID(ctx, "user-pool", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestGetByIDPureReadWithoutFeature(t *testing.T) {
	e := newTestEngine(t, plainCatalog())
	ctx := context.Background()

	created, err := e.Create(ctx, "catalog", map[string]any{"sku": "X-1"}, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := e.GetByID(ctx, "catalog", created.ID)
		require.NoError(t, err)
		assert.False(t, got.Consumed)
	}
}

func TestResetUnknownID(t *testing.T) {
	e := newTestEngine(t, userPool())
	err := e.Reset(context.Background(), "user-pool", "missing")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResetAllScopedByEnvironment(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	for _, env := range []string{"qa", "qa", "dev"} {
		_, err := e.Create(ctx, "user-pool", map[string]any{"email": store.NewID() + "@x.com"}, env)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := e.FetchNext(ctx, "user-pool", "qa")
		require.NoError(t, err)
	}
	_, err := e.FetchNext(ctx, "user-pool", "dev")
	require.NoError(t, err)

	count, err := e.ResetAll(ctx, "user-pool", "qa")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// dev stays consumed
	_, err = e.FetchNext(ctx, "user-pool", "dev")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListExcludesConsumed(t *testing.T) {
	e := newTestEngine(t, userPool())
	ctx := context.Background()

	_, err := e.Create(ctx, "user-pool", map[string]any{"email": "a@x.com"}, "")
	require.NoError(t, err)
	_, err = e.Create(ctx, "user-pool", map[string]any{"email": "b@x.com"}, "")
	require.NoError(t, err)
	_, err = e.FetchNext(ctx, "user-pool", "")
	require.NoError(t, err)

	recs, err := e.List(ctx, "user-pool", "", "", "")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// listing is read-only: repeat and the pool has not shrunk
	recs, err = e.List(ctx, "user-pool", "", "", "")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestListNonFilterableField(t *testing.T) {
	e := newTestEngine(t, userPool())
	_, err := e.List(context.Background(), "user-pool", "email", "a@x.com", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 1)
	assert.Equal(t, CodeNotFilterable, verr.Issues[0].Code)
}

func TestCompoundUniqueViaSchema(t *testing.T) {
	sch := &schema.EntitySchema{
		EntityName: "agents",
		Fields: []schema.Field{
			{Name: "brandId", Type: schema.TypeString, Required: true},
			{Name: "agentId", Type: schema.TypeString, Required: true},
		},
		UniqueFields:      []string{"brandId", "agentId"},
		UseCompoundUnique: true,
	}
	e := newTestEngine(t, sch)
	ctx := context.Background()

	_, err := e.Create(ctx, "agents", map[string]any{"brandId": "B1", "agentId": "A1"}, "")
	require.NoError(t, err)
	_, err = e.Create(ctx, "agents", map[string]any{"brandId": "B1", "agentId": "A2"}, "")
	require.NoError(t, err)

	_, err = e.Create(ctx, "agents", map[string]any{"brandId": "B1", "agentId": "A1"}, "")
	var dup *DuplicateEntityError
	assert.ErrorAs(t, err, &dup)
}

func TestCaseSensitiveUniqueViaSchema(t *testing.T) {
	sch := &schema.EntitySchema{
		EntityName:   "accounts",
		Fields:       []schema.Field{{Name: "username", Type: schema.TypeString, Required: true}},
		UniqueFields: []string{"username"},
	}
	e := newTestEngine(t, sch)
	ctx := context.Background()

	_, err := e.Create(ctx, "accounts", map[string]any{"username": "Bob"}, "")
	require.NoError(t, err)
	_, err = e.Create(ctx, "accounts", map[string]any{"username": "bob"}, "")
	assert.NoError(t, err)
}
