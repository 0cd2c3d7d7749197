package entity_repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"unchained/internal/core/apperror"
	"unchained/internal/domain/value"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

func (r *Repository) junctionKey(alias, fieldID string, pk int64) cache.Key {
	return r.key("junction", alias+"-"+fieldID, "row", strconv.FormatInt(pk, 10))
}

// junction resolves a field shown through a plain source. The stored key is
// resolved through the target repository; inverted sources, where the target
// holds the key, only carry the joined value.
func (r *Repository) junction(ctx context.Context, p *plan, row Row, f *metadata.Field, src *metadata.Source) (value.Value, error) {
	joined := row[p.values[f.ID()]]
	fk := row[f.Column()]
	if src.Column != "id" || fk == nil || fk == "" {
		return value.NewColumn(f.ID(), joined), nil
	}

	tags := []string{cache.EntityDataTag(r.entity.ID()), cache.EntityDataTag(src.Entity)}
	env, err := cache.Remember(ctx, r.m.store, r.junctionKey(src.Alias, f.ID(), row.PK()), junctionTTL, func(ctx context.Context) (value.Envelope, error) {
		if f.IsMultipleChoice() || src.IsMultiple() {
			list, err := r.resolveList(ctx, f, src, fk)
			return value.Envelope{Value: list}, err
		}
		pk, ok := asInt64(fk)
		if !ok {
			return value.Envelope{Value: value.NewColumn(f.ID(), joined)}, nil
		}
		j, err := r.resolve(ctx, f, src, pk, joined)
		return value.Envelope{Value: j}, err
	}, tags...)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

func (r *Repository) resolveList(ctx context.Context, f *metadata.Field, src *metadata.Source, fk any) (value.JunctionList, error) {
	list := value.JunctionList{Entity: src.Entity, Source: src.Alias}
	keys, ok := value.DecodeArray(fk).([]any)
	if !ok {
		keys = []any{fk}
	}
	for _, k := range keys {
		pk, ok := asInt64(k)
		if !ok {
			continue
		}
		j, err := r.resolve(ctx, f, src, pk, nil)
		if err != nil {
			return list, err
		}
		list.Junctions = append(list.Junctions, j)
	}
	return list, nil
}

// resolve reads record pk of the source entity. A missing record yields a
// junction carrying only the key and the joined value.
func (r *Repository) resolve(ctx context.Context, f *metadata.Field, src *metadata.Source, pk int64, joined any) (value.Junction, error) {
	j := value.Junction{
		Entity:     src.Entity,
		Source:     src.Alias,
		PrimaryKey: pk,
		Value:      value.NewColumn(f.ID(), joined),
		Exposed:    value.NewColumn(ColumnExposed, nil),
		Slug:       value.NewColumn(ColumnSlug, nil),
	}
	target, err := r.m.Repository(src.Entity, r.auth)
	if err != nil {
		return j, err
	}
	rec, err := target.GetRecord(ctx, pk)
	if apperror.IsNotFound(err) {
		logger.Debug(ctx, "dangling reference", "entity", r.entity.ID(), "field", f.ID(), "target", src.Entity, "pk", pk)
		return j, nil
	}
	if err != nil {
		return j, err
	}

	j.Value = value.NewColumn(f.ID(), sourceValue(target.entity, f.SourceFields(), rec))
	j.Exposed = value.NewColumn(ColumnExposed, rec.Exposed())
	j.Slug = value.NewColumn(ColumnSlug, rec[ColumnSlug])
	return j, nil
}

// sourceValue returns the shown fields of rec, joined by spaces when there
// are several, or the exposed value when none are configured.
func sourceValue(target *metadata.Entity, fields []string, rec Row) any {
	cols := targetColumns(target, fields)
	switch len(cols) {
	case 0:
		return rec.Exposed()
	case 1:
		if cols[0] == "id" {
			return rec.PK()
		}
		return rec[cols[0]]
	}
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		v := rec[c]
		if c == "id" {
			v = rec.PK()
		}
		if v != nil && v != "" {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}
