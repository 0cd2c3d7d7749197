package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"unchained/internal/core/apperror"
	"unchained/internal/core/types"
	"unchained/internal/domain/value"
)

// Unset marks a value that was deliberately left empty.
const Unset = "-"

var wordInitial = regexp.MustCompile(`\b[A-Za-z]`)

// HookResolver computes the value of external pointer fields.
type HookResolver interface {
	Resolve(ctx context.Context, entity, field string, args map[string]any) (any, error)
}

// BindEnv is the per-request environment fields are bound in.
type BindEnv struct {
	Entity        *Entity
	Module        Module
	Authenticated bool
	Translator    Translator
	Router        Router
	Directories   Directories
	Hooks         HookResolver
	Now           time.Time
}

func (env BindEnv) translate(message string, args map[string]any) string {
	if env.Translator == nil {
		return NopTranslator{}.Translate(message, args, "")
	}
	domain := ""
	if env.Entity != nil {
		domain = env.Entity.Table()
	}
	return env.Translator.Translate(message, args, domain)
}

func (env BindEnv) now() time.Time {
	if env.Now.IsZero() {
		return time.Now()
	}
	return env.Now
}

// BindInput is what a record supplies for one field.
type BindInput struct {
	Value     value.Value
	Reference *value.Reference
	// PointerContext holds the values of the pointer fields of the same record.
	PointerContext map[string]any
}

// FieldValue is a field bound to one record.
type FieldValue struct {
	Field       *Field
	Visible     bool
	Value       any
	Raw         value.Value
	Link        any
	Title       any
	Reference   *Link
	Transformed bool
	View        string
}

// Unbound returns the value of f when no record is selected.
func (f *Field) Unbound(env BindEnv) FieldValue {
	return FieldValue{Field: f, Visible: f.VisibleFor(env.Module, env.Authenticated)}
}

// Bind resolves v into a display value for env.Module.
func (f *Field) Bind(ctx context.Context, env BindEnv, in BindInput) (FieldValue, error) {
	fv := f.Unbound(env)
	fv.Raw = in.Value

	switch v := in.Value.(type) {
	case value.Column:
		fv.Value = v.Value
	case value.Junction:
		fv.Value = v.Value.Value
		fv.Link = linkOrNil(env, v.Entity, v.SlugValue())
		fv.Title = v.ExposedValue()
	case value.JunctionList:
		values := make([]any, 0, len(v.Junctions))
		links := make([]*Link, 0, len(v.Junctions))
		for _, j := range v.Junctions {
			values = append(values, j.Value.Value)
			links = append(links, linkOrNil(env, j.Entity, j.SlugValue()))
		}
		fv.Value, fv.Link = values, links
	}

	if in.Reference != nil && env.Router != nil {
		fv.Reference = env.Router.Entity(in.Reference.Entity, map[string]any{"reference": in.Reference.Value})
	}

	if p := f.pointer; p != nil {
		switch p.Kind {
		case PointerExternal:
			if env.Hooks == nil {
				return fv, apperror.NewConfigurationf("no hook resolver for %s", f)
			}
			out, err := env.Hooks.Resolve(ctx, f.entityID, f.id, in.PointerContext)
			if err != nil {
				return fv, err
			}
			if t, ok := out.(Translatable); ok {
				out = env.translate(t.Message, t.Args)
			}
			fv.Value = out
		case PointerConcat:
			values := make([]any, 0, len(p.Fields))
			for _, id := range p.Fields {
				values = append(values, in.PointerContext[id])
			}
			fv.Value = values
		}
	}

	f.convert(env, &fv)
	return fv, nil
}

func linkOrNil(env BindEnv, entity string, slug any) *Link {
	if env.Router == nil {
		return nil
	}
	s := ""
	if slug != nil {
		s = fmt.Sprint(slug)
	}
	return env.Router.Record(entity, s)
}

// convert applies the type specific post-processing of a bound value.
func (f *Field) convert(env BindEnv, fv *FieldValue) {
	v := fv.Value
	if v == nil || v == Unset {
		fv.Value = nil
		return
	}

	dirEntity := f.entityID
	if alias := f.SourceAlias(); alias != "" && env.Entity != nil {
		if src, ok := env.Entity.Source(alias); ok {
			dirEntity = src.Entity
		}
	}
	form := env.Module == ModuleForm

	switch f.displayType {
	case TypeBoolean:
		fv.Value = toInt(v)
	case TypeFile, TypeImage:
		dir := env.Directories.Files(dirEntity)
		if f.displayType == TypeImage {
			dir = env.Directories.Images(dirEntity)
		}
		name := fmt.Sprint(v)
		fv.View = dir + "/" + name
		if form {
			fv.Value = env.Directories.Public + dir + "/" + name
		} else {
			fv.Value = dir + "/" + name
		}
	case TypeChoice:
		keys := toList(v)
		if f.source != nil || len(keys) == 0 {
			return
		}
		if (env.Module == ModuleDashboard || env.Module == ModuleDetail) && len(f.options) > 0 {
			labels := make([]string, 0, len(keys))
			for _, k := range keys {
				labels = append(labels, env.translate(ChoiceMessage(f.id, f.optionLabel(k)), nil))
			}
			fv.Value = strings.Join(labels, ", ")
		} else if !f.form.Multiple {
			fv.Value = keys[0]
		} else {
			fv.Value = keys
		}
	case TypeDate, TypeDateTime:
		t, ok := ParseTime(v)
		if !ok {
			return
		}
		fv.Value = t
		if tr := f.transformer; !form && tr.AppliesTo(f.displayType) {
			fv.Transformed = true
			fv.Value = TimeElapsed(env.now(), t, tr.Round, tr.Suffix, tr.RoundTo, env.translate)
		}
	case TypeTime:
		if t, ok := ParseTime(v); ok {
			fv.Value = t
		}
	case TypeText, TypeVarchar:
		if _, multi := fv.Link.([]*Link); f.source != nil && multi {
			return
		}
		text := joinList(v)
		if tr := f.transformer; !form && tr.AppliesTo(f.displayType) {
			fv.Transformed = true
			if tr.Abbr {
				if initials := wordInitial.FindAllString(text, -1); len(initials) > 0 {
					text = strings.TrimSpace(strings.Join(append(initials, ""), ". "))
				}
			}
			if tr.Suffix != "" {
				text += " " + tr.Suffix
			}
		}
		fv.Value = text
	case TypeNumber:
		tr := f.transformer
		if form || !tr.AppliesTo(f.displayType) {
			return
		}
		d, ok := types.ToDecimal(v)
		if !ok {
			return
		}
		fv.Transformed = true
		if tr.Round != types.RoundNone && !types.IsIntegral(d) {
			d = types.Round(d, tr.Round, tr.Precision)
		}
		out := types.Cast(d, tr.Scalar)
		if tr.Suffix != "" {
			out = fmt.Sprint(out) + " " + tr.Suffix
		}
		fv.Value = out
	}
}

func (f *Field) optionLabel(key any) string {
	k, ok := toInt64(key)
	if ok {
		for _, o := range f.options {
			if o.Key == k {
				return o.Label
			}
		}
	}
	return fmt.Sprint(key)
}

// OptionLabel returns the label of option key, or the key itself.
func (f *Field) OptionLabel(key any) string { return f.optionLabel(key) }

func toList(v any) []any {
	switch t := value.DecodeArray(v).(type) {
	case []any:
		return t
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []any{t}
	default:
		return []any{t}
	}
}

func joinList(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(t, ", ")
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func toInt(v any) int {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	if n, ok := toInt64(v); ok {
		return int(n)
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), t == float64(int64(t))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"15:04:05",
	"15:04",
}

// ParseTime accepts time values and the textual layouts rows and forms use.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
