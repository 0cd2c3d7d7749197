package entity_repo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/infrastructure/storage/postgres"
	"unchained/internal/metadata"
)

const currAlias = "_curr"

// Reserved condition keys.
const (
	CondID      = "id"
	CondPK      = "pk"
	CondSlug    = "_slug"
	CondActive  = postgres.ActiveColumn
	CondExposed = "_exposed"
)

// Conditions filter a fetch. Keys are field ids or one of the reserved keys;
// a slice value matches any of its elements.
type Conditions map[string]any

type planKey struct {
	entity string
	auth   appctx.AuthClass
}

// plan is the derived, viewer-specific SELECT of an entity. It is built once
// per entity and auth class and extended with conditions per fetch.
type plan struct {
	entity     *metadata.Entity
	base       squirrel.SelectBuilder
	authorized map[string]bool
	// columns maps condition keys to qualified columns.
	columns map[string]string
	// values maps field ids to the result column of their joined or aggregate value.
	values map[string]string
	search string
	order  []string
	// dependencies are the entities whose changes make fetched rows stale.
	dependencies []string
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func buildPlan(reg *metadata.Registry, e *metadata.Entity, auth appctx.AuthClass) (*plan, error) {
	p := &plan{
		entity:     e,
		authorized: authorizedFields(e, auth == appctx.Authenticated),
		columns:    make(map[string]string),
		values:     make(map[string]string),
	}

	slugColumn := "id"
	if sf := e.SlugField(); sf != nil {
		slugColumn = sf.Column()
	}
	p.columns[CondID] = ref(currAlias, "id")
	p.columns[CondPK] = ref(currAlias, "id")
	p.columns[CondSlug] = ref(currAlias, slugColumn)

	selects := []string{
		as(ref(currAlias, "id"), ColumnPK),
		as(ref(currAlias, postgres.ActiveColumn), postgres.ActiveColumn),
	}
	seen := map[string]bool{"id": true, postgres.ActiveColumn: true}
	for _, f := range e.Fields() {
		col := f.Column()
		if f.IsSlug() || col == "" || !p.authorized[f.ID()] {
			continue
		}
		p.columns[f.ID()] = ref(currAlias, col)
		if seen[col] {
			continue
		}
		seen[col] = true
		selects = append(selects, ref(currAlias, col))
	}
	selects = append(selects, as(ref(currAlias, slugColumn), ColumnSlug))

	exposed := e.ExposedColumns()
	if len(exposed) == 0 {
		exposed = []string{"id"}
	}
	selects = append(selects, as(concat(currAlias, exposed), ColumnExposed))
	p.search = searchExpr(currAlias, exposed)

	joins, late, joinSelects, err := p.planJoins(reg)
	if err != nil {
		return nil, err
	}
	aggregates, err := p.planAggregates(reg)
	if err != nil {
		return nil, err
	}
	selects = append(selects, joinSelects...)
	selects = append(selects, aggregates...)

	q := builder().Select(selects...).From(quote(e.Table()) + " " + quote(currAlias))
	for _, j := range append(joins, late...) {
		q = q.JoinClause(j)
	}
	p.base = q

	for _, k := range e.Sort() {
		p.order = append(p.order, ref(currAlias, k.Column)+" "+k.Direction())
	}
	for _, src := range e.Sources() {
		p.dependencies = append(p.dependencies, src.Entity)
	}
	return p, nil
}

// authorizedFields returns the fields a viewer may read. Fields feeding an
// authorized pointer are authorized too.
func authorizedFields(e *metadata.Entity, authenticated bool) map[string]bool {
	out := make(map[string]bool)
	for _, f := range e.Fields() {
		if f.IsSlug() || !(authenticated || f.IsVisible(metadata.ModulePublic)) {
			continue
		}
		out[f.ID()] = true
		if ptr := f.Pointer(); ptr != nil {
			for _, id := range ptr.Fields {
				out[id] = true
			}
		}
	}
	return out
}

// planJoins returns one join per source shown by an authorized field. Joins
// through another source come last so their alias is already in scope.
func (p *plan) planJoins(reg *metadata.Registry) (joins, late, selects []string, err error) {
	e := p.entity
	needed := make(map[string]bool)
	for _, src := range e.Sources() {
		if src.IsAggregate() || src.IsMultiple() {
			continue
		}
		target, ok := reg.Get(src.Entity)
		if !ok {
			return nil, nil, nil, apperror.NewConfigurationf("source %s of %s targets unknown application %s", src.Alias, e.ID(), src.Entity)
		}

		for _, f := range e.Fields() {
			if f.SourceAlias() != src.Alias || f.IsMultipleChoice() || !p.authorized[f.ID()] {
				continue
			}
			name := src.Alias + "__" + f.ID()
			cols := targetColumns(target, f.SourceFields())
			if len(cols) == 0 {
				name = src.Alias + "__" + ColumnExposed
				cols = target.ExposedColumns()
			}
			if len(cols) == 0 {
				cols = []string{"id"}
			}
			selects = append(selects, as(concat(src.Alias, cols), name))
			p.values[f.ID()] = name
			needed[src.Alias] = true
		}
		if needed[src.Alias] && src.JoinSource != "" {
			needed[src.JoinSource] = true
		}
	}

	for _, src := range e.Sources() {
		if !needed[src.Alias] {
			continue
		}
		target, _ := reg.Get(src.Entity)
		from := currAlias
		if src.JoinSource != "" {
			from = src.JoinSource
		}
		clause := fmt.Sprintf("%s JOIN %s %s ON %s = %s",
			joinKeyword(src.Join, p.requiresInner(src.Alias)),
			quote(target.Table()), quote(src.Alias),
			ref(src.Alias, src.Column), ref(from, src.ForeignColumn))
		if src.JoinSource != "" {
			late = append(late, clause)
		} else {
			joins = append(joins, clause)
		}
	}
	return joins, late, selects, nil
}

func (p *plan) requiresInner(alias string) bool {
	for _, f := range p.entity.Fields() {
		if f.SourceAlias() == alias && f.IsRequired() && !f.IsMultipleChoice() && p.authorized[f.ID()] {
			return true
		}
	}
	return false
}

func joinKeyword(kind metadata.JoinKind, required bool) string {
	switch kind {
	case metadata.JoinInner:
		return "INNER"
	case metadata.JoinRight:
		return "RIGHT"
	case metadata.JoinLeft:
		return "LEFT"
	}
	if required {
		return "INNER"
	}
	return "LEFT"
}

// planAggregates returns one correlated subquery per aggregate source. The
// result column is named after the last authorized field showing it.
func (p *plan) planAggregates(reg *metadata.Registry) ([]string, error) {
	e := p.entity
	var selects []string
	for _, src := range e.Sources() {
		if !src.IsAggregate() {
			continue
		}
		target, ok := reg.Get(src.Entity)
		if !ok {
			return nil, apperror.NewConfigurationf("source %s of %s targets unknown application %s", src.Alias, e.ID(), src.Entity)
		}

		name := src.Alias + "__" + aggregateName(src.Function)
		var fields []string
		for _, f := range e.Fields() {
			if f.SourceAlias() == src.Alias && p.authorized[f.ID()] {
				name = src.Alias + "__" + f.ID()
				fields = append(fields, f.ID())
			}
		}
		for _, id := range fields {
			p.values[id] = name
		}
		selects = append(selects, as("("+aggregateSQL(src, target)+")", name))
	}
	return selects, nil
}

func aggregateName(fn metadata.Function) string {
	if fn == metadata.FunctionCount || fn == metadata.FunctionCountIn {
		return "count"
	}
	return "find_in"
}

// aggregateSQL renders the subquery of an aggregate source. Membership in a
// stored JSON list is tested with jsonb containment.
func aggregateSQL(src *metadata.Source, target *metadata.Entity) string {
	alias := "_" + src.Alias
	var fn, cond string
	switch src.Function {
	case metadata.FunctionCount:
		fn = "count"
		cond = ref(alias, src.Column) + " = " + ref(currAlias, "id")
	case metadata.FunctionCountIn, metadata.FunctionFindIn, metadata.FunctionFindInMax:
		col := ref(alias, src.Column)
		cond = "(CASE WHEN " + col + " LIKE '[%' THEN " + col + "::jsonb END) @> to_jsonb(" + ref(currAlias, "id") + ")"
		fn = "count"
		if src.Function == metadata.FunctionFindIn {
			fn = "min"
		} else if src.Function == metadata.FunctionFindInMax {
			fn = "max"
		}
	}
	return "SELECT " + fn + "(" + ref(alias, "id") + ") FROM " + quote(target.Table()) + " " + quote(alias) + " WHERE " + cond
}

// query applies conditions to the base select. Unknown and unauthorized keys
// are dropped. Without an explicit _active condition only active rows match.
func (p *plan) query(cond Conditions) (squirrel.SelectBuilder, []string) {
	q := p.base
	var dropped []string
	active := int64(1)

	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := cond[key]
		switch key {
		case CondActive:
			if n, ok := asInt64(boolToInt(v)); ok {
				active = n
			}
			continue
		case CondExposed:
			q = q.Where(squirrel.ILike{p.search: "%" + fmt.Sprint(v) + "%"})
			continue
		}
		col, ok := p.columns[key]
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		q = q.Where(squirrel.Eq{col: v})
	}

	q = q.Where(ref(currAlias, postgres.ActiveColumn)+"::int >= ?", active)
	if active < 1 {
		q = q.OrderBy(ref(currAlias, postgres.ActiveColumn) + " ASC")
	}
	if len(p.order) > 0 {
		q = q.OrderBy(p.order...)
	}
	return q, dropped
}

func boolToInt(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func targetColumns(target *metadata.Entity, fields []string) []string {
	var cols []string
	for _, id := range fields {
		if id == "id" {
			cols = append(cols, "id")
			continue
		}
		if f, ok := target.Field(id); ok && f.Column() != "" {
			cols = append(cols, f.Column())
		}
	}
	return cols
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func ref(table, column string) string {
	return pgx.Identifier{table, column}.Sanitize()
}

func as(expr, name string) string {
	return expr + " AS " + quote(name)
}

func concat(table string, columns []string) string {
	if len(columns) == 1 {
		return ref(table, columns[0])
	}
	return searchExpr(table, columns)
}

func searchExpr(table string, columns []string) string {
	refs := make([]string, 0, len(columns))
	for _, c := range columns {
		refs = append(refs, ref(table, c))
	}
	return "concat_ws(' ', " + strings.Join(refs, ", ") + ")"
}
