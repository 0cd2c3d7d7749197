package entity_repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/domain/value"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

const (
	unfilteredTTL = 60 * time.Second
	filteredTTL   = 30 * time.Second
	recordTTL     = time.Hour
	junctionTTL   = 60 * time.Second
	distinctTTL   = 60 * time.Second
)

// Repository reads and writes the records of one entity for one auth class.
// It holds no per-request state and is safe for concurrent use.
type Repository struct {
	m      *Manager
	entity *metadata.Entity
	auth   appctx.AuthClass
}

func (r *Repository) Entity() *metadata.Entity { return r.entity }
func (r *Repository) Auth() appctx.AuthClass   { return r.auth }

func (r *Repository) key(parts ...string) cache.Key {
	return cache.NewKey(r.entity.ID(), r.auth, parts...)
}

func (r *Repository) plan() (*plan, error) {
	return r.m.plan(r.entity, r.auth)
}

// tags are the invalidation tags of cached results of this entity.
func (r *Repository) tags(p *plan) []string {
	tags := []string{cache.EntityDataTag(r.entity.ID())}
	for _, dep := range p.dependencies {
		tags = append(tags, cache.EntityDataTag(dep))
	}
	return tags
}

// Authorized reports whether the viewer may read fieldID.
func (r *Repository) Authorized(fieldID string) bool {
	p, err := r.plan()
	return err == nil && p.authorized[fieldID]
}

// FetchAll returns the rows matching cond in entity sort order.
func (r *Repository) FetchAll(ctx context.Context, cond Conditions) (*ResultSet, error) {
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	key, ttl := r.key("data"), unfilteredTTL
	if len(cond) > 0 {
		key, ttl = r.key("data", "cond", cache.Hash(cond)), filteredTTL
	}
	rows, err := cache.Remember(ctx, r.m.store, key, ttl, func(ctx context.Context) ([]Row, error) {
		return r.fetch(ctx, p, cond)
	}, r.tags(p)...)
	if err != nil {
		return nil, err
	}
	return NewResultSet(rows), nil
}

func (r *Repository) fetch(ctx context.Context, p *plan, cond Conditions) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "entity.fetch", trace.WithAttributes(
		attribute.String("entity", r.entity.ID()),
		attribute.String("auth", r.auth.String()),
	))
	defer span.End()

	q, dropped := p.query(cond)
	if len(dropped) > 0 {
		logger.Debug(ctx, "dropping unknown conditions", "entity", r.entity.ID(), "keys", dropped)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("build select %s: %w", r.entity.ID(), err))
	}

	var raw []map[string]any
	if err := r.m.db.Select(ctx, &raw, sql, args...); err != nil {
		span.RecordError(err)
		return nil, apperror.NewDatabase("fetch "+r.entity.ID(), err)
	}
	rows := make([]Row, 0, len(raw))
	for _, row := range raw {
		rows = append(rows, normalizeRow(row))
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

// GetRecord returns the record with pk whether or not it is active.
func (r *Repository) GetRecord(ctx context.Context, pk int64) (Row, error) {
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, r.m.store, r.key("record", strconv.FormatInt(pk, 10)), recordTTL, func(ctx context.Context) (Row, error) {
		return r.single(ctx, p, Conditions{CondID: pk, CondActive: 0}, pk)
	}, r.tags(p)...)
}

// GetRecordBySlug returns the record addressed by slug. Entities without
// slug fields are addressed by their numeric key.
func (r *Repository) GetRecordBySlug(ctx context.Context, slug string) (Row, error) {
	if r.entity.SlugField() == nil {
		pk, err := strconv.ParseInt(slug, 10, 64)
		if err != nil {
			return nil, apperror.NewNotFound(r.entity.ID(), slug)
		}
		return r.GetRecord(ctx, pk)
	}
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, r.m.store, r.key("record", "slug", slug), recordTTL, func(ctx context.Context) (Row, error) {
		return r.single(ctx, p, Conditions{CondSlug: slug, CondActive: 0}, slug)
	}, r.tags(p)...)
}

func (r *Repository) single(ctx context.Context, p *plan, cond Conditions, id any) (Row, error) {
	rows, err := r.fetch(ctx, p, cond)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperror.NewNotFound(r.entity.ID(), id)
	}
	return rows[0], nil
}

// Lookup resolves request parameters: a key or a slug selects one record,
// anything else filters the rows.
func (r *Repository) Lookup(ctx context.Context, params Conditions) (*ResultSet, error) {
	if len(params) == 1 {
		for k, v := range params {
			switch k {
			case CondID, CondPK:
				pk, ok := asInt64(v)
				if !ok {
					return nil, apperror.NewNotFound(r.entity.ID(), v)
				}
				row, err := r.GetRecord(ctx, pk)
				if err != nil {
					return nil, err
				}
				return NewResultSet([]Row{row}), nil
			case "slug", CondSlug:
				row, err := r.GetRecordBySlug(ctx, fmt.Sprint(v))
				if err != nil {
					return nil, err
				}
				return NewResultSet([]Row{row}), nil
			}
		}
	}
	return r.FetchAll(ctx, params)
}

// Column resolves fieldID of row into a value object. Fields shown through a
// source are re-read from the target entity's own repository.
func (r *Repository) Column(ctx context.Context, row Row, fieldID string) (value.Value, error) {
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	f, ok := r.entity.Field(fieldID)
	if !ok || !(p.authorized[fieldID] || f.IsSlug()) {
		return nil, apperror.NewNotFound("field", r.entity.ID()+"."+fieldID)
	}

	if f.IsSlug() {
		return value.NewColumn(fieldID, row[ColumnSlug]), nil
	}
	src, ok := r.entity.Source(f.SourceAlias())
	if !ok {
		if f.Column() == "" {
			return value.NewColumn(fieldID, nil), nil
		}
		if f.Schema().IsArray() {
			return value.NewArrayColumn(fieldID, row[f.Column()]), nil
		}
		return value.NewColumn(fieldID, row[f.Column()]), nil
	}
	if src.IsAggregate() {
		return value.NewColumn(fieldID, row[p.values[fieldID]]), nil
	}
	return r.junction(ctx, p, row, f, src)
}

// Reference links an aggregate-sourced field to the related records when
// the aggregate found any.
func (r *Repository) Reference(row Row, fieldID string) *value.Reference {
	p, err := r.plan()
	if err != nil {
		return nil
	}
	f, ok := r.entity.Field(fieldID)
	if !ok || !p.authorized[fieldID] {
		return nil
	}
	src, ok := r.entity.Source(f.SourceAlias())
	if !ok || !src.IsAggregate() || !truthy(row[p.values[fieldID]]) || row.Exposed() == nil {
		return nil
	}
	return &value.Reference{Source: src.Alias, Entity: src.Entity, Value: row.Exposed()}
}

// Distinct returns the distinct values stored in column. JSON list columns
// contribute their elements.
func (r *Repository) Distinct(ctx context.Context, column string) ([]any, error) {
	p, err := r.plan()
	if err != nil {
		return nil, err
	}
	known := column == "id"
	for _, f := range r.entity.Fields() {
		if f.Column() == column {
			known = true
		}
	}
	if !known {
		return nil, apperror.NewNotFound("column", r.entity.ID()+"."+column)
	}

	rows, err := cache.Remember(ctx, r.m.store, r.key("distinct", column), distinctTTL, func(ctx context.Context) ([]Row, error) {
		sql, args, err := builder().
			Select(as(quote(column), "value")).Distinct().
			From(quote(r.entity.Table())).
			Where(quote(column) + " IS NOT NULL").
			ToSql()
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		var raw []map[string]any
		if err := r.m.db.Select(ctx, &raw, sql, args...); err != nil {
			return nil, apperror.NewDatabase("distinct "+r.entity.ID(), err)
		}
		out := make([]Row, 0, len(raw))
		for _, row := range raw {
			out = append(out, normalizeRow(row))
		}
		return out, nil
	}, r.tags(p)...)
	if err != nil {
		return nil, err
	}

	var values []any
	seen := make(map[string]bool)
	for _, row := range rows {
		v := value.DecodeArray(row["value"])
		list, ok := v.([]any)
		if !ok {
			list = []any{v}
		}
		for _, item := range list {
			if n, ok := asInt64(item); ok {
				item = n
			}
			k := fmt.Sprintf("%T:%v", item, item)
			if !seen[k] {
				seen[k] = true
				values = append(values, item)
			}
		}
	}
	return values, nil
}

// ForeignData returns the rows of the entity behind source alias.
func (r *Repository) ForeignData(ctx context.Context, alias string) (*ResultSet, error) {
	src, ok := r.entity.Source(alias)
	if !ok {
		return nil, apperror.NewConfigurationf("unconfigured source %s in application %s", alias, r.entity.ID())
	}
	target, err := r.m.Repository(src.Entity, r.auth)
	if err != nil {
		return nil, err
	}
	return target.FetchAll(ctx, nil)
}

// ForeignColumn returns the column of this entity holding keys of source alias.
func (r *Repository) ForeignColumn(alias string) (string, bool) {
	src, ok := r.entity.Source(alias)
	if !ok {
		return "", false
	}
	return src.ForeignColumn, true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	}
	if n, ok := asInt64(v); ok {
		return n != 0
	}
	return true
}
