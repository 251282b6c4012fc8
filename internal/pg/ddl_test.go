package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"testpool/internal/store"
)

func TestIndexName(t *testing.T) {
	assert.Equal(t, "uq_user_pool_email",
		indexName("user-pool", store.UniqueRule{Fields: []string{"email"}}))
	assert.Equal(t, "uq_agents_brandid_agentid",
		indexName("agents", store.UniqueRule{Fields: []string{"brandId", "agentId"}}))

	long := indexName("a-very-long-entity-type-name-that-keeps-going-and-going",
		store.UniqueRule{Fields: []string{"someRatherLongFieldName"}})
	assert.LessOrEqual(t, len(long), 63)
}

func TestIndexDDL(t *testing.T) {
	ddl := indexDDL("user-pool", store.UniqueRule{Fields: []string{"email"}})
	assert.Contains(t, ddl, "create unique index if not exists uq_user_pool_email")
	assert.Contains(t, ddl, "(fields->>'email'), environment")
	assert.Contains(t, ddl, "where entity_type = 'user-pool'")
}

func TestSafeIdent(t *testing.T) {
	assert.Equal(t, "user_pool", safeIdent("user-pool"))
	assert.Equal(t, "brandid", safeIdent("brandId"))
	assert.Equal(t, "x_y_z", safeIdent("x y/z"))
}
