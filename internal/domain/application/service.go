// Package application assembles the presentation of configured entities:
// dashboards, details and forms built from repository rows and bound fields.
package application

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/domain/value"
	"unchained/internal/infrastructure/storage/postgres/entity_repo"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

// Page is what an application action hands to the HTTP layer.
type Page struct {
	AppID     string          `json:"appId"`
	Category  string          `json:"category"`
	Meta      metadata.Meta   `json:"meta"`
	PublicURI string          `json:"public_uri"`
	Module    metadata.Module `json:"module"`
	Columns   []string        `json:"columns,omitempty"`
	Rows      []Record        `json:"rows,omitempty"`
	Record    *Record         `json:"record,omitempty"`
	Frontend  map[string]any  `json:"frontend,omitempty"`
	Redirect  *metadata.Link  `json:"redirect,omitempty"`
}

// Record is one row rendered for a module.
type Record struct {
	PK     int64                      `json:"pk"`
	Slug   string                     `json:"slug,omitempty"`
	Detail *metadata.Link             `json:"detail,omitempty"`
	Fields map[string]metadata.Output `json:"fields"`
}

type Config struct {
	Repos       *entity_repo.Manager
	Hooks       metadata.HookResolver
	Translator  metadata.Translator
	Directories metadata.Directories
	PublicURI   string
	Now         func() time.Time
}

type Service struct {
	repos      *entity_repo.Manager
	registry   *metadata.Registry
	hooks      metadata.HookResolver
	translator metadata.Translator
	dirs       metadata.Directories
	publicURI  string
	now        func() time.Time
}

func NewService(cfg Config) *Service {
	s := &Service{
		repos:      cfg.Repos,
		registry:   cfg.Repos.Registry(),
		hooks:      cfg.Hooks,
		translator: cfg.Translator,
		dirs:       cfg.Directories,
		publicURI:  cfg.PublicURI,
		now:        cfg.Now,
	}
	if s.translator == nil {
		s.translator = metadata.NopTranslator{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// App is an entity booted for one viewer and module.
type App struct {
	entity *metadata.Entity
	repo   *entity_repo.Repository
	env    metadata.BindEnv
	router *metadata.RegistryRouter
}

// Boot prepares entityID for module m. Unknown entities, disabled modules and
// modules the viewer may not open are all NotFound, so anonymous viewers
// cannot tell protected entities from missing ones.
func (s *Service) Boot(ctx context.Context, entityID string, m metadata.Module) (*App, error) {
	e, ok := s.registry.Get(entityID)
	if !ok {
		return nil, apperror.NewNotFound("application", entityID)
	}
	settings, ok := e.Module(m)
	if !ok {
		return nil, apperror.NewNotFound("module", entityID+"."+string(m))
	}
	authenticated := appctx.IsAuthenticated(ctx)
	if !authenticated && (!s.registry.Authorized(entityID, false) || !settings.Public) {
		return nil, apperror.NewNotFound("application", entityID)
	}

	repo, err := s.repos.ForViewer(ctx, entityID)
	if err != nil {
		return nil, err
	}
	router := metadata.NewRouter(s.registry, authenticated, appctx.GetLocale(ctx))
	return &App{
		entity: e,
		repo:   repo,
		router: router,
		env: metadata.BindEnv{
			Entity:        e,
			Module:        m,
			Authenticated: authenticated,
			Translator:    s.translator,
			Router:        router,
			Directories:   s.dirs,
			Hooks:         s.hooks,
			Now:           s.now(),
		},
	}, nil
}

func (s *Service) page(a *App) *Page {
	return &Page{
		AppID:     a.entity.ID(),
		Category:  a.entity.Category(),
		Meta:      a.entity.Meta(),
		PublicURI: s.publicURI,
		Module:    a.env.Module,
	}
}

func (a *App) dashboard() *metadata.Link {
	return a.router.Entity(a.entity.ID(), nil)
}

// columns lists the fields shown in the module, in declaration order.
func (a *App) columns() []string {
	var out []string
	for _, f := range a.entity.Fields() {
		if f.VisibleFor(a.env.Module, a.env.Authenticated) {
			out = append(out, f.ID())
		}
	}
	return out
}

// Dashboard lists the records matching params.
func (s *Service) Dashboard(ctx context.Context, entityID string, params map[string]any) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleDashboard)
	if err != nil {
		return nil, err
	}
	rs, err := a.repo.Lookup(ctx, entity_repo.Conditions(params))
	if err != nil {
		return nil, err
	}

	p := s.page(a)
	p.Columns = a.columns()
	_, detail := a.entity.Module(metadata.ModuleDetail)
	cur := rs.Cursor()
	for row, ok := cur.Next(); ok; row, ok = cur.Next() {
		rec, err := s.record(ctx, a, row)
		if err != nil {
			return nil, err
		}
		if detail {
			rec.Detail = a.router.Record(a.entity.ID(), row.Slug())
		}
		p.Rows = append(p.Rows, rec)
	}

	exhausted, err := s.uniqueExhausted(ctx, a)
	if err != nil {
		return nil, err
	}
	p.Frontend = map[string]any{"uniqueConstraint": exhausted}
	return p, nil
}

// Search filters the dashboard by the exposed representation.
func (s *Service) Search(ctx context.Context, entityID, q string) (*Page, error) {
	return s.Dashboard(ctx, entityID, map[string]any{entity_repo.CondExposed: q})
}

// Detail shows the record addressed by slug. A missing record redirects to
// the dashboard.
func (s *Service) Detail(ctx context.Context, entityID, slug string) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleDetail)
	if err != nil {
		return nil, err
	}
	p := s.page(a)
	row, err := a.repo.GetRecordBySlug(ctx, slug)
	if apperror.IsNotFound(err) {
		p.Redirect = a.dashboard()
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	p.Columns = a.columns()
	rec, err := s.record(ctx, a, row)
	if err != nil {
		return nil, err
	}
	p.Record = &rec
	return p, nil
}

// Form renders record pk for editing, or an empty record when pk is 0.
func (s *Service) Form(ctx context.Context, entityID string, pk int64) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleForm)
	if err != nil {
		return nil, err
	}
	p := s.page(a)
	p.Columns = a.columns()

	var rec Record
	if pk == 0 {
		rec = s.emptyRecord(a)
	} else {
		row, err := a.repo.GetRecord(ctx, pk)
		if err != nil {
			return nil, err
		}
		if rec, err = s.record(ctx, a, row); err != nil {
			return nil, err
		}
	}
	p.Record = &rec
	return p, nil
}

// Save persists values into record pk, 0 for a new record, and redirects
// to the dashboard.
func (s *Service) Save(ctx context.Context, entityID string, pk int64, values map[string]any) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleForm)
	if err != nil {
		return nil, err
	}
	saved, err := a.repo.Persist(ctx, pk, values)
	if err != nil {
		return nil, err
	}
	p := s.page(a)
	p.Record = &Record{PK: saved}
	p.Redirect = a.dashboard()
	return p, nil
}

// Delete removes the record named by id, or every record matching params.
// Failures are logged and the viewer is sent back to the dashboard.
func (s *Service) Delete(ctx context.Context, entityID string, params map[string]any) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleForm)
	if err != nil {
		return nil, err
	}

	if raw, ok := params[entity_repo.CondID]; ok && len(params) == 1 {
		pk, parseErr := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
		if parseErr != nil {
			err = apperror.NewValidation(fmt.Sprintf("invalid id %v", raw))
		} else {
			err = a.repo.DeleteRecord(ctx, pk)
		}
	} else {
		err = a.repo.DeleteBy(ctx, entity_repo.Conditions(params))
	}
	if err != nil {
		logger.Warn(ctx, "delete failed", "entity", entityID, "params", params, "error", err)
	}

	p := s.page(a)
	p.Redirect = a.dashboard()
	return p, nil
}

// Duplicate is not supported.
func (s *Service) Duplicate(ctx context.Context, entityID string, pk int64) (*Page, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleForm)
	if err != nil {
		return nil, err
	}
	if _, err := a.repo.Duplicate(ctx, pk); err != nil {
		return nil, err
	}
	return s.page(a), nil
}

// FieldOptions lists the choices of fieldID. Source fields offer the target
// records; a unique field hides values already used by other records.
func (s *Service) FieldOptions(ctx context.Context, entityID, fieldID string, current any) ([]metadata.Option, error) {
	a, err := s.Boot(ctx, entityID, metadata.ModuleForm)
	if err != nil {
		return nil, err
	}
	return s.fieldOptions(ctx, a, fieldID, current)
}

func (s *Service) fieldOptions(ctx context.Context, a *App, fieldID string, current any) ([]metadata.Option, error) {
	f, ok := a.entity.Field(fieldID)
	if !ok {
		return nil, apperror.NewNotFound("field", a.entity.ID()+"."+fieldID)
	}

	var (
		options []metadata.Option
		column  = f.Column()
	)
	if alias := f.SourceAlias(); alias != "" {
		rs, err := a.repo.ForeignData(ctx, alias)
		if err != nil {
			return nil, err
		}
		for _, row := range rs.Rows() {
			label := ""
			if v := row.Exposed(); v != nil {
				label = fmt.Sprint(v)
			}
			options = append(options, metadata.Option{Key: row.PK(), Label: label})
		}
		if fk, ok := a.repo.ForeignColumn(alias); ok {
			column = fk
		}
	} else {
		for _, o := range f.Options() {
			label := s.translator.Translate(metadata.ChoiceMessage(f.ID(), o.Label), nil, a.entity.Table())
			options = append(options, metadata.Option{Key: o.Key, Label: label})
		}
	}

	if f.Constraint() != metadata.ConstraintUnique || column == "" {
		return options, nil
	}
	used, err := a.repo.Distinct(ctx, column)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(used))
	for _, v := range used {
		taken[fmt.Sprint(v)] = true
	}
	if current != nil {
		delete(taken, fmt.Sprint(current))
	}
	free := options[:0:0]
	for _, o := range options {
		if !taken[fmt.Sprint(o.Key)] {
			free = append(free, o)
		}
	}
	return free, nil
}

// uniqueExhausted reports whether a unique field has no value left to assign.
func (s *Service) uniqueExhausted(ctx context.Context, a *App) (bool, error) {
	for _, id := range a.entity.Constraint(metadata.ConstraintUnique) {
		f, ok := a.entity.Field(id)
		if !ok || (f.SourceAlias() == "" && len(f.Options()) == 0) {
			continue
		}
		options, err := s.fieldOptions(ctx, a, id, nil)
		if err != nil {
			return false, err
		}
		if len(options) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// record binds every field of row. Fields hidden from the viewer are
// rendered invisible without reading their value.
func (s *Service) record(ctx context.Context, a *App, row entity_repo.Row) (Record, error) {
	rec := Record{PK: row.PK(), Slug: row.Slug(), Fields: make(map[string]metadata.Output)}
	values := make(map[string]value.Value)

	resolve := func(id string) (value.Value, error) {
		if v, ok := values[id]; ok {
			return v, nil
		}
		v, err := a.repo.Column(ctx, row, id)
		if err != nil {
			return nil, err
		}
		values[id] = v
		return v, nil
	}

	for _, f := range a.entity.Fields() {
		if !f.IsSlug() && !a.repo.Authorized(f.ID()) {
			rec.Fields[f.ID()] = f.Unbound(a.env).Output(a.env.Module)
			continue
		}
		v, err := resolve(f.ID())
		if err != nil {
			return rec, err
		}
		in := metadata.BindInput{Value: v, Reference: a.repo.Reference(row, f.ID())}
		if ptr := f.Pointer(); ptr != nil {
			in.PointerContext = make(map[string]any, len(ptr.Fields))
			for _, id := range ptr.Fields {
				pv, err := resolve(id)
				if apperror.IsNotFound(err) {
					continue
				}
				if err != nil {
					return rec, err
				}
				in.PointerContext[id] = pv.Scalar()
			}
		}
		fv, err := f.Bind(ctx, a.env, in)
		if err != nil {
			return rec, err
		}
		rec.Fields[f.ID()] = fv.Output(a.env.Module)
	}
	return rec, nil
}

func (s *Service) emptyRecord(a *App) Record {
	rec := Record{Fields: make(map[string]metadata.Output)}
	for _, f := range a.entity.Fields() {
		rec.Fields[f.ID()] = f.Unbound(a.env).Output(a.env.Module)
	}
	return rec
}

// Applications lists the entities the viewer may open, sorted by id.
func (s *Service) Applications(ctx context.Context) []*metadata.Link {
	authenticated := appctx.IsAuthenticated(ctx)
	router := metadata.NewRouter(s.registry, authenticated, appctx.GetLocale(ctx))
	ids := s.registry.IDs()
	sort.Strings(ids)
	var out []*metadata.Link
	for _, id := range ids {
		if l := router.Entity(id, nil); l != nil {
			out = append(out, l)
		}
	}
	return out
}
