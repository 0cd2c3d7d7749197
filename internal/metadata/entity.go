package metadata

import (
	"time"

	"unchained/internal/core/apperror"
)

// ModuleSettings toggles a presentation module of an entity.
type ModuleSettings struct {
	Enabled bool     `json:"enabled"`
	Public  bool     `json:"public"`
	Params  []string `json:"params,omitempty"`
}

// Meta is the presentation metadata of an entity.
type Meta struct {
	Title   string   `json:"title"`
	Icon    string   `json:"icon,omitempty"`
	Exposes []string `json:"exposes"`
	Slug    []string `json:"slug,omitempty"`
}

// Entity is the immutable, assembled configuration of one entity.
type Entity struct {
	id       string
	label    string
	public   bool
	category string
	routes   map[string]string

	fields      []*Field
	fieldIndex  map[string]int
	sources     []*Source
	sourceIndex map[string]*Source
	modules     map[Module]ModuleSettings
	meta        Meta
	sort        []SortKey
	constraints map[Constraint][]string
}

// NewEntity assembles the configuration of entity id.
// Source display types are resolved later by the registry link phase.
func NewEntity(id string, raw RawEntity, now time.Time) (*Entity, error) {
	e := &Entity{
		id:          id,
		label:       raw.Label,
		public:      boolOr(raw.Public, true),
		category:    raw.Category,
		routes:      map[string]string{"_default": id},
		fieldIndex:  make(map[string]int),
		sourceIndex: make(map[string]*Source),
		constraints: make(map[Constraint][]string),
	}
	if e.category == "" {
		e.category = "default"
	}
	for locale, route := range raw.Routes {
		e.routes[locale] = route
	}

	if err := e.setSources(raw.Sources); err != nil {
		return nil, err
	}
	e.setModules(raw.Modules)
	if err := e.setFields(raw.Fields, now); err != nil {
		return nil, err
	}
	if err := e.setMeta(raw); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Entity) setSources(raw Ordered[RawSource]) error {
	for _, alias := range raw.Keys {
		src, err := NewSource(e.id, alias, raw.Values[alias])
		if err != nil {
			return err
		}
		e.sources = append(e.sources, src)
		e.sourceIndex[alias] = src
	}
	return nil
}

func (e *Entity) setModules(raw map[string]RawModule) {
	e.modules = map[Module]ModuleSettings{
		ModuleDashboard: {Enabled: true, Public: true},
		ModuleDetail:    {Enabled: true, Public: true, Params: []string{"slug"}},
		ModuleCharts:    {Enabled: false, Public: true},
	}
	for name, m := range raw {
		mod := Module(name)
		cur := e.modules[mod]
		cur.Enabled = boolOr(m.Enabled, true)
		cur.Public = boolOr(m.Public, true)
		if m.Params != nil {
			cur.Params = m.Params
		}
		e.modules[mod] = cur
	}
	e.modules[ModuleForm] = ModuleSettings{Enabled: true}
}

func (e *Entity) setFields(raw Ordered[RawField], now time.Time) error {
	fc := FieldContext{Sources: e.sourceIndex, Now: now}
	for _, id := range raw.Keys {
		if id == SlugField {
			return apperror.NewConfigurationf("field id %s is reserved in %s", SlugField, e.id)
		}
		f, err := NewField(e.id, id, raw.Values[id], fc)
		if err != nil {
			return err
		}
		e.addField(f)
		if c := f.Constraint(); c != ConstraintNone {
			e.constraints[c] = append(e.constraints[c], id)
		}
	}
	return nil
}

func (e *Entity) addField(f *Field) {
	if i, ok := e.fieldIndex[f.ID()]; ok {
		e.fields[i] = f
		return
	}
	e.fieldIndex[f.ID()] = len(e.fields)
	e.fields = append(e.fields, f)
}

func (e *Entity) setMeta(raw RawEntity) error {
	e.meta = Meta{
		Title: raw.Meta.Title,
		Icon:  raw.Meta.Icon,
	}
	if e.meta.Title == "" {
		e.meta.Title = raw.Label
	}
	if e.meta.Title == "" {
		e.meta.Title = DisplayLabel(e.id, "title")
	}

	if len(raw.Meta.Exposes) > 0 {
		for _, id := range raw.Meta.Exposes {
			if id == "id" {
				continue
			}
			f, ok := e.Field(id)
			if !ok {
				return apperror.NewConfigurationf("exposed field %q of %s is not configured", id, e.id)
			}
			if !f.IsVisible(ModulePublic) {
				return apperror.NewConfigurationf("exposed field %q of %s is not visible", id, e.id)
			}
		}
		e.meta.Exposes = append([]string(nil), raw.Meta.Exposes...)
	} else {
		for _, f := range e.fields {
			if f.IsVisible(ModulePublic) {
				e.meta.Exposes = []string{f.ID()}
				break
			}
		}
		if len(e.meta.Exposes) == 0 {
			e.meta.Exposes = []string{"id"}
		}
	}

	slugFields := []string(raw.Meta.Slug)
	if len(slugFields) == 0 && !(len(e.meta.Exposes) == 1 && e.meta.Exposes[0] == "id") {
		slugFields = e.meta.Exposes
	}
	if len(slugFields) > 0 {
		for _, id := range slugFields {
			if _, ok := e.Field(id); !ok {
				return apperror.NewConfigurationf("slug field %q of %s is not configured", id, e.id)
			}
		}
		e.meta.Slug = append([]string(nil), slugFields...)
		hidden := false
		slug, err := NewField(e.id, SlugField, RawField{
			Type:      string(TypeText),
			Length:    100,
			Public:    &hidden,
			Detail:    &hidden,
			Dashboard: RawDashboard{Hidden: true},
			Pointer:   RawPointer{Set: true, Type: string(PointerSlug), Fields: e.meta.Slug},
		}, FieldContext{Sources: e.sourceIndex})
		if err != nil {
			return err
		}
		e.addField(slug)
	}

	keys := []SortKey(raw.Sort)
	if len(keys) == 0 {
		for _, id := range e.meta.Exposes {
			keys = append(keys, SortKey{Column: id})
		}
	}
	for _, k := range keys {
		if f, ok := e.Field(k.Column); ok && !f.StorageSchema().IsZero() {
			k.Column = f.StorageSchema().Column
		}
		e.sort = append(e.sort, k)
	}
	return nil
}

func (e *Entity) ID() string       { return e.id }
func (e *Entity) Label() string    { return e.label }
func (e *Entity) IsPublic() bool   { return e.public }
func (e *Entity) Category() string { return e.category }
func (e *Entity) Meta() Meta       { return e.meta }
func (e *Entity) Sort() []SortKey  { return e.sort }

// Table returns the backing table name.
func (e *Entity) Table() string { return TableName(e.id) }

// ForeignKey returns the column other entities use to reference this one.
func (e *Entity) ForeignKey() string { return ForeignKey(e.id) }

// Route returns the path segment for locale, falling back to the default route.
func (e *Entity) Route(locale string) string {
	if r, ok := e.routes[locale]; ok && locale != "" {
		return r
	}
	return e.routes["_default"]
}

// Fields returns the fields in declaration order, the slug pseudo-field last.
func (e *Entity) Fields() []*Field { return e.fields }

func (e *Entity) Field(id string) (*Field, bool) {
	i, ok := e.fieldIndex[id]
	if !ok {
		return nil, false
	}
	return e.fields[i], true
}

// SlugField returns the slug pseudo-field, or nil when records are addressed by id.
func (e *Entity) SlugField() *Field {
	f, _ := e.Field(SlugField)
	return f
}

func (e *Entity) Sources() []*Source { return e.sources }

func (e *Entity) Source(alias string) (*Source, bool) {
	s, ok := e.sourceIndex[alias]
	return s, ok
}

// Module returns the settings of an enabled module.
func (e *Entity) Module(m Module) (ModuleSettings, bool) {
	s, ok := e.modules[m]
	if !ok || !s.Enabled {
		return ModuleSettings{}, false
	}
	return s, true
}

// Constraint returns the ids of fields carrying constraint c.
func (e *Entity) Constraint(c Constraint) []string { return e.constraints[c] }

// ExposedColumns returns the stored columns of the exposed fields.
func (e *Entity) ExposedColumns() []string {
	var cols []string
	for _, id := range e.meta.Exposes {
		if id == "id" {
			cols = append(cols, "id")
			continue
		}
		if f, ok := e.Field(id); ok && f.Column() != "" {
			cols = append(cols, f.Column())
		}
	}
	return cols
}

// replaceField swaps a field during the link phase.
func (e *Entity) replaceField(f *Field) { e.addField(f) }
