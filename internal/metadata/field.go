package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"unchained/internal/core/apperror"
)

// ColumnType is a PostgreSQL column type.
type ColumnType string

const (
	ColumnVarchar   ColumnType = "varchar"
	ColumnText      ColumnType = "text"
	ColumnDate      ColumnType = "date"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnTime      ColumnType = "time"
	ColumnSmallint  ColumnType = "smallint"
	ColumnInteger   ColumnType = "integer"
	ColumnBigint    ColumnType = "bigint"
	ColumnDouble    ColumnType = "double precision"
	ColumnUUID      ColumnType = "uuid"
)

// TypeMetaArray marks a varchar column holding a JSON array.
const TypeMetaArray = "array"

// Schema is the storage definition of a field.
type Schema struct {
	Column   string     `json:"column"`
	Type     ColumnType `json:"type"`
	Length   int        `json:"length,omitempty"`
	TypeMeta string     `json:"type_meta,omitempty"`
	Nullable bool       `json:"nullable"`
	// Default is a literal value; DefaultExpr is raw SQL and wins over Default.
	Default     any    `json:"default,omitempty"`
	DefaultExpr string `json:"default_expr,omitempty"`
}

func (s Schema) IsZero() bool  { return s.Column == "" }
func (s Schema) IsArray() bool { return s.TypeMeta == TypeMetaArray }

// Visibility holds the per-module visibility flags.
type Visibility struct {
	Public    bool `json:"public"`
	Dashboard bool `json:"dashboard"`
	Detail    bool `json:"detail"`
	Form      bool `json:"form"`
}

// Labels are the translation keys of a field.
type Labels struct {
	Default  string `json:"default"`
	Enabled  string `json:"enabled,omitempty"`
	Disabled string `json:"disabled,omitempty"`
}

// FormConfig drives form rendering.
type FormConfig struct {
	Required bool           `json:"required"`
	Multiple bool           `json:"multiple,omitempty"`
	Expanded bool           `json:"expanded,omitempty"`
	Unique   bool           `json:"unique,omitempty"`
	Attr     map[string]any `json:"attr"`
	RowAttr  map[string]any `json:"row_attr,omitempty"`
	Options  map[string]any `json:"options"`
	Years    []int          `json:"years,omitempty"`
	Choices  []Option       `json:"choices,omitempty"`
}

// DashboardConfig drives dashboard columns.
type DashboardConfig struct {
	Class    string `json:"class"`
	Sortable bool   `json:"sortable"`
}

// FieldSource is the relation a field mirrors.
type FieldSource struct {
	Alias  string   `json:"alias"`
	Fields []string `json:"fields"`
}

var dashboardClasses = map[string]string{
	"all":       "all",
	"visible":   "all",
	"invisible": "never",
	"detail":    "none",
	"large":     "tablet-l desktop",
	"small":     "mobile-p mobile-l tablet-p",
	"desktop":   "desktop",
	"portrait":  "mobile-p tablet-p",
	"landscape": "mobile-l tablet-l",
	"mobile":    "mobile-p",
	"tablet":    "tablet-l tablet-p",
}

// FieldContext carries what a field needs from its entity while it is built.
type FieldContext struct {
	Sources map[string]*Source
	Now     time.Time
}

// Field is the immutable description of one entity attribute.
// Per-record state lives in FieldValue.
type Field struct {
	entityID    string
	id          string
	displayType DisplayType
	formType    FormType
	labels      Labels
	defaultVal  any
	options     []Option
	schema      Schema
	source      *FieldSource
	pointer     *Pointer
	ignored     bool
	constraint  Constraint
	transformer *Transformer
	visibility  Visibility
	sortable    bool
	form        FormConfig
	dashboard   DashboardConfig
}

// NewField normalizes the raw configuration of field fieldID of entity entityID.
func NewField(entityID, fieldID string, raw RawField, fc FieldContext) (*Field, error) {
	if fc.Now.IsZero() {
		fc.Now = time.Now()
	}
	f := &Field{entityID: entityID, id: fieldID}

	if err := f.configure(raw); err != nil {
		return nil, err
	}
	f.setSchema(raw)
	if err := f.setSource(raw, fc.Sources); err != nil {
		return nil, err
	}
	f.setModuleConfig(raw, fc.Now)
	if err := f.setExtra(raw); err != nil {
		return nil, err
	}
	f.setVisibility(raw)
	return f, nil
}

func (f *Field) configure(raw RawField) error {
	t := DisplayType(strings.ToLower(raw.Type))
	if t == "" {
		t = TypeText
		if raw.Source.Alias != "" {
			t = TypeChoice
		}
	}
	if !knownTypes[t] {
		return apperror.NewConfigurationf("unknown type %q for Field<%s.%s>", raw.Type, f.entityID, f.id)
	}
	f.displayType = t
	f.formType = FormType(t)
	if override, ok := formOverrides[t]; ok {
		f.formType = override
	}

	label := raw.Label
	if label == "" {
		label = f.id
	}
	f.labels = Labels{Default: DisplayLabel(label, "label")}
	f.defaultVal = raw.Default
	if t == TypeChoice {
		f.options = append([]Option(nil), raw.Options...)
	}
	return nil
}

func (f *Field) setSchema(raw RawField) {
	s := Schema{
		Column:   f.id,
		Length:   raw.Length,
		Nullable: !boolOr(raw.Required, false),
		Default:  scalarDefault(raw.Default),
	}

	switch f.displayType {
	case TypeText, TypeVarchar, TypeImage, TypeFile, TypeURL:
		s.Type = ColumnVarchar
		if s.Length == 0 {
			s.Length = 255
		}
	case TypeTags, TypeTextbox:
		s.Type = ColumnText
	case TypeDate:
		s.Type = ColumnDate
	case TypeDateTime:
		s.Type = ColumnTimestamp
	case TypeTime:
		s.Type = ColumnTime
	case TypeChoice:
		s.Type, s.Length = ColumnInteger, 0
		if raw.Multiple {
			s.Type, s.TypeMeta, s.Length = ColumnVarchar, TypeMetaArray, 255
			s.Default = nil
		}
	case TypeBoolean, TypeCheckbox:
		s.Type, s.Length = ColumnSmallint, 0
	case TypeNumber, TypeRating, TypeRange:
		s.Type, s.Length = integerColumn(raw.Max), 0
	case TypeFloat:
		s.Type = ColumnDouble
	case TypeUUID:
		s.Type, s.DefaultExpr, s.Default = ColumnUUID, "gen_random_uuid()", nil
	}

	if !s.Nullable && s.Default == nil && s.DefaultExpr == "" {
		switch s.Type {
		case ColumnVarchar, ColumnText:
			s.Default = ""
		case ColumnSmallint, ColumnInteger, ColumnBigint, ColumnDouble:
			s.Default = 0
		}
	}
	f.schema = s
}

// integerColumn sizes an integer column from the digit count of max.
func integerColumn(max *int64) ColumnType {
	if max == nil {
		return ColumnInteger
	}
	v := *max
	if v < 0 {
		v = -v
	}
	switch digits := len(strconv.FormatInt(v, 10)); {
	case digits <= 4:
		return ColumnSmallint
	case digits <= 9:
		return ColumnInteger
	}
	return ColumnBigint
}

func (f *Field) setSource(raw RawField, sources map[string]*Source) error {
	if raw.Source.Alias == "" {
		return nil
	}
	src, ok := sources[raw.Source.Alias]
	if !ok {
		return apperror.NewConfigurationf("unknown source alias <%s> for Field<%s.%s>", raw.Source.Alias, f.entityID, f.id)
	}
	f.schema.Column = src.ForeignColumn
	f.source = &FieldSource{Alias: src.Alias, Fields: append([]string(nil), raw.Source.Fields...)}

	if src.IsMultiple() && f.displayType == TypeChoice && !f.schema.IsArray() {
		f.schema.Type, f.schema.TypeMeta, f.schema.Length, f.schema.Default = ColumnVarchar, TypeMetaArray, 255, nil
	}
	if src.IsAggregate() || src.JoinSource != "" {
		f.ignored = true
	}
	return nil
}

func (f *Field) setModuleConfig(raw RawField, now time.Time) {
	f.sortable = raw.Sortable
	f.form = FormConfig{
		Required: boolOr(raw.Required, false),
		Attr:     map[string]any{},
		Options:  map[string]any{},
	}
	if f.ignored {
		return
	}

	switch f.formType {
	case FormDate, FormDateTime:
		year := now.Year()
		from, to := year-10, year+10
		if raw.YearMin != nil {
			from = relativeYear(*raw.YearMin, year, -1)
		}
		if raw.YearMax != nil {
			to = relativeYear(*raw.YearMax, year, 1)
		}
		for y := from; y <= to; y++ {
			f.form.Years = append(f.form.Years, y)
		}
	case FormFile, FormText:
		maxlength := raw.Maxlength
		if maxlength == 0 {
			maxlength = 255
		}
		f.form.Attr["maxlength"] = maxlength
	case FormRange, FormType(TypeRating):
		lo, hi := int64(1), int64(10)
		if len(raw.Options) > 0 {
			lo = optionNumber(raw.Options[0], lo)
			hi = optionNumber(raw.Options[len(raw.Options)-1], hi)
		}
		if raw.Min != nil {
			lo = *raw.Min
		}
		if raw.Max != nil {
			hi = *raw.Max
		}
		f.form.Attr["min"], f.form.Attr["max"] = lo, hi
		f.form.Required = boolOr(raw.Required, true)
		f.form.RowAttr = map[string]any{"min": lo, "max": hi}
		f.formType = FormRange
	case FormChoice:
		f.form.Required = boolOr(raw.Required, true)
		f.form.Multiple = raw.Multiple
		f.form.Expanded = raw.Expanded
		f.form.Choices = f.options
		f.form.Unique = raw.Unique
		f.form.Attr["data-live-search"] = strconv.FormatBool(raw.LiveSearch)
		if raw.Group {
			f.form.Options["group"] = "true"
		}
		if raw.GroupSource != "" {
			f.form.Options["group"] = map[string]any{"source": raw.GroupSource}
			f.form.Attr["data-group"] = "true"
			f.form.Attr["data-hide-disabled"] = "true"
		}
		if raw.Condition != "" {
			if _, grouped := f.form.Attr["data-group"]; grouped {
				f.form.Attr["data-group"] = raw.Condition
			} else {
				f.form.Attr["data-condition"] = raw.Condition
			}
		}
	case FormCheckbox:
		f.labels.Enabled = raw.LabelEnabled
		if f.labels.Enabled == "" {
			f.labels.Enabled = DisplayLabel(f.labels.Default+".enabled", "label")
		}
		f.labels.Disabled = raw.LabelDisabled
		if f.labels.Disabled == "" {
			f.labels.Disabled = DisplayLabel(f.labels.Default+".disabled", "label")
		}
	case FormNumber, FormFloat:
		lo, hi := int64(-math.MaxInt64), int64(math.MaxInt64)
		if raw.Min != nil {
			lo = *raw.Min
		}
		if raw.Max != nil {
			hi = *raw.Max
		}
		f.form.Attr["min"], f.form.Attr["max"] = lo, hi
	}
}

// relativeYear treats values of up to three digits as an offset from the current year.
func relativeYear(v, year, sign int) int {
	if len(strconv.Itoa(v)) <= 3 {
		return year + sign*v
	}
	return v
}

func optionNumber(o Option, def int64) int64 {
	if n, err := strconv.ParseInt(o.Label, 10, 64); err == nil {
		return n
	}
	return def
}

func (f *Field) setExtra(raw RawField) error {
	f.ignored = f.ignored || raw.Ignored

	if raw.Pointer.Set {
		f.ignored = true
		kind := PointerKind(strings.ToLower(raw.Pointer.Type))
		switch kind {
		case "":
			kind = PointerConcat
		case PointerConcat, PointerSlug, PointerExternal:
		default:
			return apperror.NewConfigurationf("unknown pointer type %q for Field<%s.%s>", raw.Pointer.Type, f.entityID, f.id)
		}
		if raw.Pointer.Expression != "" && kind != PointerExternal {
			return apperror.NewConfigurationf("pointer expression requires type external for Field<%s.%s>", f.entityID, f.id)
		}
		f.pointer = &Pointer{
			Kind:       kind,
			Fields:     append([]string(nil), raw.Pointer.Fields...),
			Expression: raw.Pointer.Expression,
		}
	}

	if raw.Unique {
		f.constraint = ConstraintUnique
	}

	if len(raw.Transform) > 0 {
		t, err := parseTransformer(f.entityID, f.id, raw.Transform)
		if err != nil {
			return err
		}
		f.transformer = t
	}
	return nil
}

func (f *Field) setVisibility(raw RawField) {
	f.visibility = Visibility{
		Public:    boolOr(raw.Public, true),
		Dashboard: !raw.Dashboard.Hidden,
		Detail:    boolOr(raw.Detail, true),
		Form:      !f.ignored,
	}
	class, ok := dashboardClasses[raw.Dashboard.Visibility]
	if !ok {
		class = "all"
	}
	f.dashboard = DashboardConfig{
		Class:    class,
		Sortable: f.displayType != TypeImage && f.displayType != TypeFile,
	}
}

func (f *Field) ID() string               { return f.id }
func (f *Field) EntityID() string         { return f.entityID }
func (f *Field) DisplayType() DisplayType { return f.displayType }
func (f *Field) FormType() FormType       { return f.formType }
func (f *Field) Labels() Labels           { return f.labels }
func (f *Field) Default() any             { return f.defaultVal }
func (f *Field) Options() []Option        { return f.options }
func (f *Field) Constraint() Constraint   { return f.constraint }
func (f *Field) Pointer() *Pointer        { return f.pointer }
func (f *Field) Transformer() *Transformer {
	return f.transformer
}

// IsSlug reports whether f is the synthesized slug pseudo-field.
func (f *Field) IsSlug() bool { return f.id == SlugField }

func (f *Field) IsIgnored() bool { return f.ignored }

// IsRequired reports whether the form requires a value.
func (f *Field) IsRequired() bool { return f.form.Required }

// IsMultipleChoice reports whether the field stores several choices.
func (f *Field) IsMultipleChoice() bool {
	return f.formType == FormChoice && f.form.Multiple
}

// Schema returns the storage definition, or the zero Schema for ignored fields.
// The slug pseudo-field is always stored.
func (f *Field) Schema() Schema {
	if f.ignored && !f.IsSlug() {
		return Schema{}
	}
	return f.schema
}

// StorageSchema returns the storage definition regardless of the ignored flag.
func (f *Field) StorageSchema() Schema { return f.schema }

// Column returns the stored column, or "" when the field is not stored.
func (f *Field) Column() string { return f.Schema().Column }

func (f *Field) Source() *FieldSource { return f.source }

// SourceAlias returns the source alias or "".
func (f *Field) SourceAlias() string {
	if f.source == nil {
		return ""
	}
	return f.source.Alias
}

// SourceFields returns the target fields the field displays.
func (f *Field) SourceFields() []string {
	if f.source == nil {
		return nil
	}
	return f.source.Fields
}

func (f *Field) Visibility() Visibility { return f.visibility }

// IsVisible reports static visibility in module; ModulePublic asks for the public flag.
func (f *Field) IsVisible(m Module) bool {
	switch m {
	case ModulePublic:
		return f.visibility.Public
	case ModuleDashboard:
		return f.visibility.Dashboard
	case ModuleDetail:
		return f.visibility.Detail
	case ModuleForm:
		return f.visibility.Form
	}
	return false
}

// VisibleFor applies the viewer downgrade: a non-public field visible in a
// module is only shown to authenticated viewers.
func (f *Field) VisibleFor(m Module, authenticated bool) bool {
	visible := f.IsVisible(m)
	if visible && m != ModulePublic && !f.visibility.Public {
		return authenticated
	}
	return visible
}

// Sortable reports the field-level sortable flag.
func (f *Field) Sortable() bool { return f.sortable }

func (f *Field) FormConfig() FormConfig           { return f.form }
func (f *Field) DashboardConfig() DashboardConfig { return f.dashboard }

// ModuleConfig returns the module options sent along with field output.
func (f *Field) ModuleConfig(m Module) map[string]any {
	switch m {
	case ModuleDashboard:
		return map[string]any{"class": f.dashboard.Class, "sortable": f.dashboard.Sortable}
	case ModuleForm:
		cfg := map[string]any{
			"required": f.form.Required,
			"attr":     f.form.Attr,
			"options":  f.form.Options,
			"label":    f.labels.Default,
		}
		if f.form.RowAttr != nil {
			cfg["row_attr"] = f.form.RowAttr
		}
		if f.formType == FormChoice {
			cfg["multiple"] = f.form.Multiple
			cfg["expanded"] = f.form.Expanded
			cfg["choices"] = f.form.Choices
			cfg["unique"] = f.form.Unique
		}
		if f.form.Years != nil {
			cfg["years"] = f.form.Years
		}
		return cfg
	}
	return map[string]any{}
}

// withDisplayType returns a copy of f shown as t; the form type is kept.
func (f *Field) withDisplayType(t DisplayType) *Field {
	clone := *f
	clone.displayType = t
	clone.dashboard.Sortable = t != TypeImage && t != TypeFile
	return &clone
}

func (f *Field) String() string {
	return fmt.Sprintf("Field<%s.%s>", f.entityID, f.id)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// scalarDefault keeps defaults that can be rendered as a column literal.
func scalarDefault(v any) any {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return v
	}
	return nil
}
