// Package engine implements the dynamic entity engine: schema-driven
// validation, uniqueness enforcement and the consumption state machine over
// a record store.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"testpool/internal/metric"
	"testpool/internal/notify"
	"testpool/internal/schema"
	"testpool/internal/store"
)

// Engine carries no request state of its own; every operation either
// completes as one atomic store call or aborts before any write.
type Engine struct {
	schemas *schema.Registry
	store   store.Store
	notify  notify.Notifier
	metrics *metric.Metrics
	log     *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithNotifier sets the broadcast channel for entity events.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(schemas *schema.Registry, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		schemas: schemas,
		store:   st,
		notify:  notify.Nop{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schemas exposes the registry for the transport layer.
func (e *Engine) Schemas() *schema.Registry { return e.schemas }

// EnsureStoreIndexes materializes a schema's uniqueness rules as native
// store indexes when the store supports it. Called after every schema
// create/update so later writes hit a declared unique index instead of a
// check-then-act gap.
func (e *Engine) EnsureStoreIndexes(ctx context.Context, sch *schema.EntitySchema) error {
	if ix, ok := e.store.(store.SchemaIndexer); ok {
		return ix.EnsureIndexes(ctx, sch.EntityName, uniqueRules(sch))
	}
	return nil
}

func (e *Engine) getSchema(entityType string) (*schema.EntitySchema, error) {
	sch, err := e.schemas.Get(entityType)
	if err != nil {
		return nil, notFoundf("unknown entity type: %s", entityType)
	}
	return sch, nil
}

// translateStore maps store failures into the engine taxonomy. A late
// conflict from the store is authoritative even when a pre-check passed.
func translateStore(entityType string, err error) error {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		return &DuplicateEntityError{EntityType: entityType, Field: conflict.Field, Value: conflict.Value}
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFoundf("entity not found in %s", entityType)
	}
	return err
}

func (e *Engine) emit(ctx context.Context, action notify.Action, entityType, id, env string) {
	ev := notify.NewEvent(action, entityType, id, env)
	if err := e.notify.Publish(ctx, ev); err != nil {
		// best-effort channel: log and move on
		e.log.Warn("event publish failed", "action", action, "entityType", entityType, "error", err)
	}
}

func (e *Engine) recordOp(op string, err error) {
	if e.metrics != nil {
		e.metrics.RecordOp(op, err)
	}
}

func (e *Engine) recordConflict(entityType string, err error) {
	if e.metrics == nil {
		return
	}
	var dup *DuplicateEntityError
	if errors.As(err, &dup) {
		e.metrics.Conflicts.WithLabelValues(entityType).Inc()
	}
}

// Create validates fields against the schema, derives uniqueness rules and
// writes the record in one atomic store insert. New entities always start
// Available.
func (e *Engine) Create(ctx context.Context, entityType string, fields map[string]any, environment string) (rec *store.Record, err error) {
	defer func() { e.recordOp("create", err) }()

	sch, err := e.getSchema(entityType)
	if err != nil {
		return nil, err
	}
	normalized, verr := validateFields(sch, fields)
	if verr != nil {
		return nil, verr
	}

	now := time.Now().UTC()
	rec = &store.Record{
		ID:          store.NewID(),
		EntityType:  entityType,
		Environment: environment,
		Fields:      normalized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = e.store.Insert(ctx, rec, uniqueRules(sch)); err != nil {
		err = translateStore(entityType, err)
		e.recordConflict(entityType, err)
		return nil, err
	}
	e.emit(ctx, notify.ActionCreated, entityType, rec.ID, environment)
	return rec, nil
}

// Update merges the patch into the current field map, re-validates the
// result and writes it back. Metadata is untouched except updatedAt; the
// record is excluded from its own uniqueness check.
func (e *Engine) Update(ctx context.Context, entityType, id string, fields map[string]any) (rec *store.Record, err error) {
	defer func() { e.recordOp("update", err) }()

	sch, err := e.getSchema(entityType)
	if err != nil {
		return nil, err
	}
	current, err := e.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, translateStore(entityType, err)
	}
	merged := mergeFields(current.Fields, fields)
	normalized, verr := validateFields(sch, merged)
	if verr != nil {
		return nil, verr
	}
	rec, err = e.store.Update(ctx, entityType, id, normalized, uniqueRules(sch))
	if err != nil {
		err = translateStore(entityType, err)
		e.recordConflict(entityType, err)
		return nil, err
	}
	e.emit(ctx, notify.ActionUpdated, entityType, id, rec.Environment)
	return rec, nil
}

// Delete removes one record. A later create may reuse its unique values.
func (e *Engine) Delete(ctx context.Context, entityType, id string) (err error) {
	defer func() { e.recordOp("delete", err) }()

	if _, err = e.getSchema(entityType); err != nil {
		return err
	}
	if err = e.store.Delete(ctx, entityType, id); err != nil {
		return translateStore(entityType, err)
	}
	e.emit(ctx, notify.ActionDeleted, entityType, id, "")
	return nil
}

// GetByID returns one entity. For excludeOnFetch types this is
// consume-on-read: a successful fetch of an Available entity atomically
// flips it to Consumed, and a Consumed entity is invisible (404) until
// reset. For other types it is a pure read.
func (e *Engine) GetByID(ctx context.Context, entityType, id string) (rec *store.Record, err error) {
	defer func() { e.recordOp("get", err) }()

	sch, err := e.getSchema(entityType)
	if err != nil {
		return nil, err
	}
	if !sch.ExcludeOnFetch {
		rec, err = e.store.Get(ctx, entityType, id)
		if err != nil {
			return nil, translateStore(entityType, err)
		}
		return rec, nil
	}

	available := false
	consumed := true
	rec, err = e.store.FindOneAndUpdate(ctx, entityType,
		store.Match{ID: id, Consumed: &available},
		store.Mutation{Consumed: &consumed})
	if err != nil {
		return nil, translateStore(entityType, err)
	}
	if e.metrics != nil {
		e.metrics.Consumed.WithLabelValues(entityType).Inc()
	}
	e.emit(ctx, notify.ActionConsumed, entityType, id, rec.Environment)
	return rec, nil
}

// List returns entities of a type, optionally filtered by one field/value
// pair and by environment. Filtering is only permitted on filterableFields.
// For excludeOnFetch types, Consumed entities are silently excluded; the
// listing itself never transitions state.
func (e *Engine) List(ctx context.Context, entityType, field, value, environment string) (recs []*store.Record, err error) {
	defer func() { e.recordOp("list", err) }()

	sch, err := e.getSchema(entityType)
	if err != nil {
		return nil, err
	}
	if field != "" && !sch.Filterable(field) {
		return nil, &ValidationError{
			Message: "field is not filterable: " + field,
			Issues:  []FieldIssue{{Code: CodeNotFilterable, Field: field, Message: "field is not filterable"}},
		}
	}
	recs, err = e.store.List(ctx, entityType, store.Filter{
		Field:           field,
		Value:           value,
		Environment:     environment,
		ExcludeConsumed: sch.ExcludeOnFetch,
	})
	if err != nil {
		return nil, translateStore(entityType, err)
	}
	return recs, nil
}

// FetchNext atomically allocates one arbitrary Available entity matching
// the environment filter and flips it to Consumed. Concurrent callers never
// receive the same entity; an empty pool is a normal NotFound outcome.
func (e *Engine) FetchNext(ctx context.Context, entityType, environment string) (rec *store.Record, err error) {
	defer func() { e.recordOp("fetch_next", err) }()

	sch, err := e.getSchema(entityType)
	if err != nil {
		return nil, err
	}
	if !sch.ExcludeOnFetch {
		return nil, &ValidationError{
			Message: "fetchNext is not enabled for type: " + entityType,
			Issues:  []FieldIssue{{Code: CodeFeatureDisabled, Field: "excludeOnFetch", Message: "feature not enabled"}},
		}
	}

	available := false
	consumed := true
	rec, err = e.store.FindOneAndUpdate(ctx, entityType,
		store.Match{Environment: environment, Consumed: &available},
		store.Mutation{Consumed: &consumed})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("no available entity for type: %s", entityType)
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.Consumed.WithLabelValues(entityType).Inc()
	}
	e.emit(ctx, notify.ActionConsumed, entityType, rec.ID, rec.Environment)
	return rec, nil
}

// Reset returns one entity to Available. Resetting an entity that is
// already Available succeeds as a no-op; an unknown id is NotFound.
func (e *Engine) Reset(ctx context.Context, entityType, id string) (err error) {
	defer func() { e.recordOp("reset", err) }()

	if _, err = e.getSchema(entityType); err != nil {
		return err
	}
	available := false
	_, err = e.store.FindOneAndUpdate(ctx, entityType,
		store.Match{ID: id},
		store.Mutation{Consumed: &available})
	if err != nil {
		return translateStore(entityType, err)
	}
	e.emit(ctx, notify.ActionReset, entityType, id, "")
	return nil
}

// ResetAll flips every Consumed entity of the type (optionally scoped to an
// environment) back to Available and returns how many were reset.
func (e *Engine) ResetAll(ctx context.Context, entityType, environment string) (count int, err error) {
	defer func() { e.recordOp("reset_all", err) }()

	if _, err = e.getSchema(entityType); err != nil {
		return 0, err
	}
	consumed := true
	available := false
	count, err = e.store.UpdateAll(ctx, entityType,
		store.Match{Environment: environment, Consumed: &consumed},
		store.Mutation{Consumed: &available})
	if err != nil {
		return 0, err
	}
	e.emit(ctx, notify.ActionReset, entityType, "", environment)
	return count, nil
}
