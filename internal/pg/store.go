// Package pg implements the record store on Postgres. Records live in one
// jsonb table; uniqueness rules become partial unique expression indexes so
// the database itself rejects conflicting writes, and the consume transition
// runs as a single UPDATE .. RETURNING with SKIP LOCKED.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"testpool/internal/store"
)

const recordCols = "id, entity_type, environment, consumed, fields, created_at, updated_at"

// Store implements store.Store and store.SchemaIndexer over *sql.DB.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open connection; EnsureTable must have run.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureIndexes reconciles the records table with the current rule set:
// each rule becomes a partial unique index, and indexes left over from a
// previous version of the schema are dropped so relaxed rules stop
// rejecting writes. Idempotent; safe to repeat on every schema update.
func (s *Store) EnsureIndexes(ctx context.Context, entityType string, rules []store.UniqueRule) error {
	want := make(map[string]bool, len(rules))
	var sb strings.Builder
	for _, rule := range rules {
		want[indexName(entityType, rule)] = true
		sb.WriteString(indexDDL(entityType, rule))
	}
	if err := dropStaleIndexes(ctx, s.db, entityType, want); err != nil {
		return err
	}
	if sb.Len() == 0 {
		return nil
	}
	return applyDDL(ctx, s.db, sb.String())
}

// translateUnique maps a unique_violation back to the rule whose index
// rejected the write.
func translateUnique(err error, rules []store.UniqueRule, entityType string, fields map[string]any) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	for _, rule := range rules {
		if indexName(entityType, rule) != pgErr.ConstraintName {
			continue
		}
		if len(rule.Fields) == 1 {
			return &store.ConflictError{Field: rule.Fields[0], Value: fields[rule.Fields[0]]}
		}
		vals := make([]string, len(rule.Fields))
		for i, f := range rule.Fields {
			vals[i] = store.Canonical(fields[f])
		}
		return &store.ConflictError{Field: rule.CompoundField(), Value: strings.Join(vals, "+")}
	}
	// a unique index we did not declare; still a conflict, just unnamed
	return &store.ConflictError{Field: pgErr.ConstraintName, Value: nil}
}

func (s *Store) Insert(ctx context.Context, rec *store.Record, rules []store.UniqueRule) error {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`insert into records (`+recordCols+`) values ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.EntityType, rec.Environment, rec.Consumed, data, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return translateUnique(err, rules, rec.EntityType, rec.Fields)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (*store.Record, error) {
	var rec store.Record
	var data []byte
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.Environment, &rec.Consumed, &data, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return &rec, nil
}

func (s *Store) Get(ctx context.Context, entityType, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+recordCols+` from records where entity_type = $1 and id = $2`,
		entityType, id)
	return scanRecord(row)
}

func (s *Store) List(ctx context.Context, entityType string, f store.Filter) ([]*store.Record, error) {
	q := `select ` + recordCols + ` from records where entity_type = $1`
	args := []any{entityType}
	if f.Environment != "" {
		args = append(args, f.Environment)
		q += fmt.Sprintf(" and environment = $%d", len(args))
	}
	if f.ExcludeConsumed {
		q += " and consumed = false"
	}
	if f.Field != "" {
		args = append(args, f.Field, f.Value)
		q += fmt.Sprintf(" and fields->>$%d = $%d", len(args)-1, len(args))
	}
	q += " order by id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, entityType, id string, fields map[string]any, rules []store.UniqueRule) (*store.Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`update records set fields = $3, updated_at = $4
		 where entity_type = $1 and id = $2
		 returning `+recordCols,
		entityType, id, data, time.Now().UTC())
	rec, err := scanRecord(row)
	if err != nil {
		return nil, translateUnique(err, rules, entityType, fields)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from records where entity_type = $1 and id = $2`, entityType, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func (s *Store) FindOneAndUpdate(ctx context.Context, entityType string, m store.Match, mut store.Mutation) (*store.Record, error) {
	// One statement: pick, lock, mutate, return. SKIP LOCKED keeps
	// concurrent allocators off the same row.
	row := s.db.QueryRowContext(ctx,
		`update records set
		   consumed = coalesce($5::boolean, consumed),
		   updated_at = now()
		 where id = (
		   select id from records
		   where entity_type = $1
		     and ($2::text = '' or id = $2)
		     and ($3::text = '' or environment = $3)
		     and ($4::boolean is null or consumed = $4)
		   limit 1
		   for update skip locked
		 )
		 returning `+recordCols,
		entityType, m.ID, m.Environment, nullBool(m.Consumed), nullBool(mut.Consumed))
	return scanRecord(row)
}

func (s *Store) UpdateAll(ctx context.Context, entityType string, m store.Match, mut store.Mutation) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update records set
		   consumed = coalesce($4::boolean, consumed),
		   updated_at = now()
		 where entity_type = $1
		   and ($2::text = '' or environment = $2)
		   and ($3::boolean is null or consumed = $3)`,
		entityType, m.Environment, nullBool(m.Consumed), nullBool(mut.Consumed))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
