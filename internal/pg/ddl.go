package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"testpool/internal/store"
)

const recordsDDL = `
create table if not exists records (
  id text primary key,
  entity_type text not null,
  environment text not null default '',
  consumed boolean not null default false,
  fields jsonb not null default '{}'::jsonb,
  created_at timestamp with time zone not null,
  updated_at timestamp with time zone not null
);
create index if not exists records_pool_idx on records (entity_type, environment, consumed);
`

// EnsureTable creates the records table and its pool index.
func EnsureTable(ctx context.Context, db *sql.DB) error {
	return applyDDL(ctx, db, recordsDDL)
}

var identRe = regexp.MustCompile(`[^a-z0-9_]+`)

func safeIdent(s string) string {
	return identRe.ReplaceAllString(strings.ToLower(s), "_")
}

// indexName derives the deterministic unique index name for one rule, so a
// unique_violation can be mapped back to the rule that rejected the write.
func indexName(entityType string, rule store.UniqueRule) string {
	parts := make([]string, 0, len(rule.Fields)+2)
	parts = append(parts, "uq", safeIdent(entityType))
	for _, f := range rule.Fields {
		parts = append(parts, safeIdent(f))
	}
	name := strings.Join(parts, "_")
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// indexDDL renders one partial unique expression index: the rule's fields
// plus the environment column, scoped to the entity type. Exact text
// comparison on the jsonb values gives case-sensitive, whitespace-preserving
// uniqueness.
func indexDDL(entityType string, rule store.UniqueRule) string {
	cols := make([]string, 0, len(rule.Fields)+1)
	for _, f := range rule.Fields {
		cols = append(cols, fmt.Sprintf("(fields->>'%s')", strings.ReplaceAll(f, "'", "''")))
	}
	cols = append(cols, "environment")
	return fmt.Sprintf(
		"create unique index if not exists %s on records (%s) where entity_type = '%s';\n",
		indexName(entityType, rule), strings.Join(cols, ", "),
		strings.ReplaceAll(entityType, "'", "''"))
}

// dropStaleIndexes removes unique indexes of one entity type that no rule
// backs anymore. Stale indexes are found by their partial predicate rather
// than by name prefix, because one type's name can prefix another's
// (uq_user_ matches uq_user_pool_email).
func dropStaleIndexes(ctx context.Context, db *sql.DB, entityType string, want map[string]bool) error {
	predicate := "%entity_type = '" + strings.ReplaceAll(entityType, "'", "''") + "'::text%"
	rows, err := db.QueryContext(ctx,
		`select indexname from pg_indexes
		 where tablename = 'records'
		   and indexname like 'uq\_%'
		   and indexdef like $1`,
		predicate)
	if err != nil {
		return fmt.Errorf("list unique indexes: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if !want[name] {
			stale = append(stale, name)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range stale {
		if _, err := db.ExecContext(ctx, "drop index if exists "+name); err != nil {
			return fmt.Errorf("drop stale index %s: %w", name, err)
		}
	}
	return nil
}

// applyDDL executes idempotent DDL, skipping objects that already exist.
func applyDDL(ctx context.Context, db *sql.DB, ddl string) error {
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.Printf("DDL skipped (already exists): %s", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed: %w", err)
		}
	}
	return nil
}
