package entity_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/core/id"
	"unchained/internal/domain/extension"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/files"
	"unchained/internal/infrastructure/storage/postgres"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

// Persist inserts values as a new record when pk is 0 and updates record pk
// otherwise. It returns the key of the written record.
//
// Unknown fields and nil values are dropped. The slug is derived from the
// submitted values, falling back to the stored ones.
func (r *Repository) Persist(ctx context.Context, pk int64, values map[string]any) (int64, error) {
	ctx, span := tracer.Start(ctx, "entity.persist", trace.WithAttributes(
		attribute.String("entity", r.entity.ID()),
		attribute.Int64("pk", pk),
	))
	defer span.End()

	var current Row
	if pk > 0 {
		rec, err := r.GetRecord(ctx, pk)
		if apperror.IsNotFound(err) {
			return 0, apperror.NewValidation(fmt.Sprintf("record %d of %s does not exist", pk, r.entity.ID()))
		}
		if err != nil {
			return 0, err
		}
		current = rec
	}

	data, err := r.storageValues(ctx, values, pk == 0)
	if err != nil {
		return 0, err
	}

	oldSlug := current.Slug()
	newSlug := oldSlug
	sf := r.entity.SlugField()
	if sf != nil {
		if s := r.deriveSlug(values, current); s != "" && s != oldSlug {
			newSlug = s
			data[sf.Column()] = s
		}
	}

	err = r.m.db.RunInTransaction(ctx, func(ctx context.Context) error {
		rec := extension.Record{Entity: r.entity.ID(), PK: pk, Values: values}
		if err := r.runHook(ctx, extension.BeforePersist, rec); err != nil {
			return err
		}
		if sf != nil && newSlug != oldSlug {
			if err := r.checkSlug(ctx, sf.Column(), newSlug, pk); err != nil {
				return err
			}
		}

		var err error
		if pk == 0 {
			pk, err = r.insert(ctx, data)
		} else {
			err = r.update(ctx, pk, data)
		}
		if err != nil {
			return err
		}
		rec.PK = pk
		return r.runHook(ctx, extension.AfterPersist, rec)
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	r.invalidate(ctx, pk, oldSlug, newSlug)
	logger.Info(ctx, "record persisted", "entity", r.entity.ID(), "pk", pk)
	return pk, nil
}

func (r *Repository) insert(ctx context.Context, data map[string]any) (int64, error) {
	var (
		sql  string
		args []any
		err  error
	)
	if len(data) == 0 {
		sql = "INSERT INTO " + quote(r.entity.Table()) + " DEFAULT VALUES RETURNING id"
	} else {
		sql, args, err = builder().
			Insert(quote(r.entity.Table())).
			SetMap(quotedKeys(data)).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return 0, apperror.NewInternal(fmt.Errorf("build insert: %w", err))
		}
	}

	var pk int64
	if err := r.m.db.Get(ctx, &pk, sql, args...); err != nil {
		return 0, r.writeError("insert", err)
	}
	return pk, nil
}

func (r *Repository) update(ctx context.Context, pk int64, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	sql, args, err := builder().
		Update(quote(r.entity.Table())).
		SetMap(quotedKeys(data)).
		Where(squirrel.Eq{"id": pk}).
		ToSql()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("build update: %w", err))
	}
	affected, err := r.m.db.Exec(ctx, sql, args...)
	if err != nil {
		return r.writeError("update", err)
	}
	if affected == 0 {
		return apperror.NewNotFound(r.entity.ID(), pk)
	}
	return nil
}

func quotedKeys(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[quote(k)] = v
	}
	return out
}

func (r *Repository) writeError(op string, err error) error {
	if postgres.IsUniqueViolation(err) {
		return apperror.NewConflict(fmt.Sprintf("%s of %s violates a unique constraint", op, r.entity.ID())).WithCause(err)
	}
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewDatabase(op+" "+r.entity.ID(), err)
}

func (r *Repository) checkSlug(ctx context.Context, column, s string, pk int64) error {
	sql, args, err := builder().
		Select("id").
		From(quote(r.entity.Table())).
		Where(squirrel.Eq{quote(column): s}).
		Where(squirrel.NotEq{"id": pk}).
		Limit(1).
		ToSql()
	if err != nil {
		return apperror.NewInternal(err)
	}
	var rows []map[string]any
	if err := r.m.db.Select(ctx, &rows, sql, args...); err != nil {
		return apperror.NewDatabase("slug lookup "+r.entity.ID(), err)
	}
	if len(rows) > 0 {
		return apperror.NewValidation(fmt.Sprintf("a record of %s with slug %q already exists", r.entity.ID(), s)).
			WithDetail("field", metadata.SlugField)
	}
	return nil
}

// storageValues converts submitted field values into column values.
func (r *Repository) storageValues(ctx context.Context, values map[string]any, insert bool) (map[string]any, error) {
	data := make(map[string]any)
	ids := make([]string, 0, len(values))
	for k := range values {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	for _, fieldID := range ids {
		v := values[fieldID]
		f, ok := r.entity.Field(fieldID)
		if !ok || f.IsSlug() || f.Column() == "" || v == nil {
			continue
		}
		if v == metadata.Unset {
			data[f.Column()] = nil
			continue
		}
		out, err := r.storageValue(ctx, f, v)
		if err != nil {
			return nil, err
		}
		data[f.Column()] = out
	}

	if insert {
		for _, f := range r.entity.Fields() {
			if f.DisplayType() != metadata.TypeUUID || f.Column() == "" {
				continue
			}
			if cur, ok := data[f.Column()]; !ok || cur == "" {
				data[f.Column()] = id.New().String()
			}
		}
	}
	return data, nil
}

func (r *Repository) storageValue(ctx context.Context, f *metadata.Field, v any) (any, error) {
	switch up := v.(type) {
	case files.Upload:
		return r.storeUpload(ctx, f, up)
	case *files.Upload:
		return r.storeUpload(ctx, f, *up)
	}

	if f.IsMultipleChoice() || f.Schema().IsArray() {
		return encodeList(v)
	}

	switch f.DisplayType() {
	case metadata.TypeBoolean, metadata.TypeCheckbox:
		if truthy(checkboxValue(v)) {
			return int64(1), nil
		}
		return int64(0), nil
	case metadata.TypeDate, metadata.TypeDateTime, metadata.TypeTime:
		if s, ok := v.(string); ok && s == "" {
			return nil, nil
		}
		t, ok := metadata.ParseTime(v)
		if !ok {
			return nil, apperror.NewValidation(fmt.Sprintf("%s expects a %s", f, f.DisplayType())).WithDetail("field", f.ID())
		}
		switch f.DisplayType() {
		case metadata.TypeDate:
			return t.Format("2006-01-02"), nil
		case metadata.TypeTime:
			return t.Format("15:04:05"), nil
		}
		return t.Format("2006-01-02 15:04:05"), nil
	}
	return v, nil
}

func (r *Repository) storeUpload(ctx context.Context, f *metadata.Field, up files.Upload) (any, error) {
	if r.m.files == nil {
		return nil, apperror.NewConfigurationf("no file store configured for %s", f)
	}
	dir := r.m.dirs.Files(r.entity.ID())
	if f.DisplayType() == metadata.TypeImage {
		dir = r.m.dirs.Images(r.entity.ID())
	}
	name, err := r.m.files.Save(ctx, dir, up)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("store upload for %s: %w", f, err))
	}
	return name, nil
}

// encodeList stores choices as a JSON array; numeric keys become numbers so
// jsonb containment matches record keys.
func encodeList(v any) (any, error) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []int64:
		for _, n := range t {
			items = append(items, n)
		}
	case string:
		if strings.HasPrefix(strings.TrimSpace(t), "[") {
			return t, nil
		}
		if t != "" {
			items = []any{t}
		}
	default:
		items = []any{t}
	}
	list := make([]any, 0, len(items))
	for _, it := range items {
		if n, ok := asInt64(it); ok {
			it = n
		}
		list = append(list, it)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, apperror.NewValidation(fmt.Sprintf("cannot encode choices: %v", err))
	}
	return string(data), nil
}

func checkboxValue(v any) any {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "on", "true", "yes", "1":
			return true
		}
		return false
	}
	return v
}

// deriveSlug builds the slug from the slug fields. Dates keep their day,
// times are written with dashes.
func (r *Repository) deriveSlug(values map[string]any, current Row) string {
	parts := make([]string, 0, len(r.entity.Meta().Slug))
	for _, fieldID := range r.entity.Meta().Slug {
		f, ok := r.entity.Field(fieldID)
		if !ok {
			continue
		}
		v, ok := values[fieldID]
		if (!ok || v == nil) && current != nil && f.Column() != "" {
			v = current[f.Column()]
		}
		if v == nil || v == "" || v == metadata.Unset {
			continue
		}
		switch f.DisplayType() {
		case metadata.TypeDate, metadata.TypeDateTime:
			if t, ok := metadata.ParseTime(v); ok {
				v = t.Format("2006-01-02")
			}
		case metadata.TypeTime:
			if t, ok := metadata.ParseTime(v); ok {
				v = t.Format("15-04-05")
			}
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return slug.Make(strings.Join(parts, "-"))
}

// SetActive soft-deletes or restores record pk.
func (r *Repository) SetActive(ctx context.Context, pk int64, active bool) error {
	sql, args, err := builder().
		Update(quote(r.entity.Table())).
		Set(quote(postgres.ActiveColumn), active).
		Where(squirrel.Eq{"id": pk}).
		ToSql()
	if err != nil {
		return apperror.NewInternal(err)
	}

	var affected int64
	err = r.m.db.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		affected, err = r.m.db.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		return r.writeError("update", err)
	}
	if affected == 0 {
		return apperror.NewNotFound(r.entity.ID(), pk)
	}
	r.invalidate(ctx, pk)
	return nil
}

// DeleteRecord removes an existing record.
func (r *Repository) DeleteRecord(ctx context.Context, pk int64) error {
	rec, err := r.GetRecord(ctx, pk)
	if apperror.IsNotFound(err) {
		return apperror.NewValidation(fmt.Sprintf("record %d of %s does not exist", pk, r.entity.ID()))
	}
	if err != nil {
		return err
	}

	_, err = r.delete(ctx, squirrel.Eq{"id": pk})
	if err != nil {
		return err
	}
	r.invalidate(ctx, pk, rec.Slug())
	return nil
}

// DeleteBy removes every record matching params. Keys follow Conditions.
func (r *Repository) DeleteBy(ctx context.Context, params Conditions) error {
	if len(params) == 0 {
		return apperror.NewValidation("refusing to delete without conditions")
	}
	p, err := r.plan()
	if err != nil {
		return err
	}
	eq := squirrel.Eq{}
	for k, v := range params {
		col, ok := p.columns[k]
		if !ok {
			return apperror.NewValidation(fmt.Sprintf("unknown field %s of %s", k, r.entity.ID())).WithDetail("field", k)
		}
		eq[strings.TrimPrefix(col, quote(currAlias)+".")] = v
	}

	deleted, err := r.delete(ctx, eq)
	if err != nil {
		return err
	}
	for _, row := range deleted {
		r.invalidate(ctx, row.PK(), row.Slug())
	}
	return nil
}

func (r *Repository) delete(ctx context.Context, where squirrel.Eq) ([]Row, error) {
	slugColumn := "id"
	if sf := r.entity.SlugField(); sf != nil {
		slugColumn = sf.Column()
	}
	sql, args, err := builder().
		Delete(quote(r.entity.Table())).
		Where(where).
		Suffix("RETURNING id AS pk, " + as(quote(slugColumn), ColumnSlug)).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	var deleted []Row
	err = r.m.db.RunInTransaction(ctx, func(ctx context.Context) error {
		var raw []map[string]any
		if err := r.m.db.Select(ctx, &raw, sql, args...); err != nil {
			return r.writeError("delete", err)
		}
		for _, row := range raw {
			row := normalizeRow(row)
			if err := r.runHook(ctx, extension.BeforeDelete, extension.Record{Entity: r.entity.ID(), PK: row.PK()}); err != nil {
				return err
			}
			deleted = append(deleted, row)
		}
		if len(deleted) == 0 {
			return apperror.NewValidation(fmt.Sprintf("no record of %s matched", r.entity.ID()))
		}
		for _, row := range deleted {
			if err := r.runHook(ctx, extension.AfterDelete, extension.Record{Entity: r.entity.ID(), PK: row.PK()}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "records deleted", "entity", r.entity.ID(), "count", len(deleted))
	return deleted, nil
}

// Duplicate is not supported.
func (r *Repository) Duplicate(context.Context, int64) (int64, error) {
	return 0, apperror.NewNotImplemented("duplicate " + r.entity.ID())
}

func (r *Repository) runHook(ctx context.Context, event extension.Event, rec extension.Record) error {
	if r.m.hooks == nil {
		return nil
	}
	return r.m.hooks.Run(ctx, event, rec)
}

// invalidate drops every cached result a write to record pk can affect,
// for all auth classes.
func (r *Repository) invalidate(ctx context.Context, pk int64, slugs ...string) {
	if err := r.m.store.Invalidate(ctx, cache.WithInvalidateTags(cache.EntityDataTag(r.entity.ID()))); err != nil {
		logger.Warn(ctx, "cache invalidation failed", "entity", r.entity.ID(), "error", err)
	}

	pkText := strconv.FormatInt(pk, 10)
	keys := cache.NewKey(r.entity.ID(), appctx.Public, "record", pkText).AllClasses()
	seen := map[string]bool{"": true}
	for _, s := range slugs {
		if seen[s] {
			continue
		}
		seen[s] = true
		keys = append(keys, cache.NewKey(r.entity.ID(), appctx.Public, "record", "slug", s).AllClasses()...)
	}
	for _, f := range r.entity.Fields() {
		if alias := f.SourceAlias(); alias != "" {
			keys = append(keys, r.junctionKey(alias, f.ID(), pk).AllClasses()...)
		}
	}
	if err := r.m.store.Forget(ctx, keys...); err != nil {
		logger.Warn(ctx, "cache invalidation failed", "entity", r.entity.ID(), "error", err)
	}
}
