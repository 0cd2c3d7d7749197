package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unchained/internal/core/apperror"
	"unchained/internal/domain/value"
)

type hookFunc func(ctx context.Context, entity, field string, args map[string]any) (any, error)

func (h hookFunc) Resolve(ctx context.Context, entity, field string, args map[string]any) (any, error) {
	return h(ctx, entity, field, args)
}

func horsesEnv(t *testing.T, m Module, authenticated bool) (*Entity, BindEnv) {
	t.Helper()
	reg := loadFixtures(t)
	e, err := reg.Entity("horses")
	require.NoError(t, err)
	tr := NewMapTranslator().
		Add("app_horses", "choice.color.blue", "Blue").
		Add("app_horses", "choice.color.red", "Red")
	return e, BindEnv{
		Entity:        e,
		Module:        m,
		Authenticated: authenticated,
		Translator:    tr,
		Router:        NewRouter(reg, authenticated, ""),
		Directories:   Directories{Public: "/srv/public"},
		Now:           fixedNow,
	}
}

func bind(t *testing.T, e *Entity, env BindEnv, field string, in BindInput) FieldValue {
	t.Helper()
	f, ok := e.Field(field)
	require.True(t, ok, field)
	fv, err := f.Bind(context.Background(), env, in)
	require.NoError(t, err)
	return fv
}

func col(name string, v any) BindInput {
	return BindInput{Value: value.NewColumn(name, v)}
}

func TestBind_Choice(t *testing.T) {
	e, env := horsesEnv(t, ModuleDashboard, false)
	fv := bind(t, e, env, "color", col("color", int64(1)))
	assert.Equal(t, "Blue", fv.Value)
	assert.Equal(t, int64(1), RawScalar(fv.Raw))

	env.Module = ModuleForm
	fv = bind(t, e, env, "color", col("color", int64(1)))
	assert.Equal(t, int64(1), fv.Value)
}

func TestBind_NumberTransformer(t *testing.T) {
	e, env := horsesEnv(t, ModuleDetail, false)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "rounded", in: 12.34, want: "12.3 kg"},
		{name: "integral kept", in: int64(12), want: "12 kg"},
		{name: "string input", in: "7.25", want: "7.3 kg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := bind(t, e, env, "weight", col("weight", tt.in))
			assert.Equal(t, tt.want, fv.Value)
			assert.True(t, fv.Transformed)
		})
	}

	env.Module = ModuleForm
	fv := bind(t, e, env, "weight", col("weight", 12.34))
	assert.Equal(t, 12.34, fv.Value)
	assert.False(t, fv.Transformed)
}

func TestBind_BooleanAndUnset(t *testing.T) {
	e, env := horsesEnv(t, ModuleDashboard, false)
	assert.Equal(t, 1, bind(t, e, env, "champion", col("champion", true)).Value)
	assert.Equal(t, 0, bind(t, e, env, "champion", col("champion", int16(0))).Value)
	assert.Nil(t, bind(t, e, env, "name", col("name", Unset)).Value)
	assert.Nil(t, bind(t, e, env, "name", col("name", nil)).Value)
}

func TestBind_Image(t *testing.T) {
	e, env := horsesEnv(t, ModuleDashboard, false)
	fv := bind(t, e, env, "photo", col("photo", "x.png"))
	assert.Equal(t, "/media/images/apps/horses/x.png", fv.Value)
	assert.Equal(t, "/media/images/apps/horses/x.png", fv.View)

	env.Module = ModuleForm
	fv = bind(t, e, env, "photo", col("photo", "x.png"))
	assert.Equal(t, "/srv/public/media/images/apps/horses/x.png", fv.Value)
}

func TestBind_Junction(t *testing.T) {
	e, env := horsesEnv(t, ModuleDetail, false)
	j := value.Junction{
		Entity:     "owners",
		Source:     "owner",
		PrimaryKey: 7,
		Value:      value.NewColumn("owner__name", "Ann Smith"),
		Exposed:    value.NewColumn("owner___exposed", "Ann Smith"),
		Slug:       value.NewColumn("owner___slug", "ann-smith"),
	}
	fv := bind(t, e, env, "owner", BindInput{Value: j})

	assert.Equal(t, "Ann Smith", fv.Value)
	assert.Equal(t, "Ann Smith", fv.Title)
	assert.Equal(t, &Link{Route: RouteApp, Params: map[string]any{"app": "owners/ann-smith"}}, fv.Link)

	out := fv.Output(ModuleDashboard)
	assert.Equal(t, int64(7), out.Raw)
	require.NotNil(t, out.Field)
	assert.Equal(t, "owner", out.Field.Column)
	assert.Equal(t, "owner", out.Field.SourceID)
	assert.Equal(t, true, out.Field.Module["sortable"])
}

func TestBind_JunctionListHonorsAuthorization(t *testing.T) {
	list := value.JunctionList{
		Entity: "stables",
		Source: "stables",
		Junctions: []value.Junction{
			{Entity: "stables", Source: "stables", PrimaryKey: 1, Value: value.NewColumn("stables___exposed", "North")},
			{Entity: "stables", Source: "stables", PrimaryKey: 2, Value: value.NewColumn("stables___exposed", "South")},
		},
	}

	e, env := horsesEnv(t, ModuleDetail, false)
	fv := bind(t, e, env, "stables", BindInput{Value: list})
	assert.Equal(t, []any{"North", "South"}, fv.Value)
	assert.Equal(t, []*Link{nil, nil}, fv.Link)
	assert.Equal(t, []int64{1, 2}, RawScalar(fv.Raw))

	e, env = horsesEnv(t, ModuleDetail, true)
	fv = bind(t, e, env, "stables", BindInput{Value: list})
	links := fv.Link.([]*Link)
	require.Len(t, links, 2)
	assert.Equal(t, "stables", links[0].Params["app"])
}

func TestBind_Reference(t *testing.T) {
	e, env := horsesEnv(t, ModuleDetail, false)
	fv := bind(t, e, env, "races", BindInput{
		Value:     value.NewColumn("races", int64(3)),
		Reference: &value.Reference{Source: "races", Entity: "races", Value: int64(42)},
	})
	require.NotNil(t, fv.Reference)
	assert.Equal(t, "races", fv.Reference.Params["app"])
	assert.Equal(t, map[string]any{"reference": int64(42)}, fv.Reference.Params["?"])
}

func TestBind_ConcatPointer(t *testing.T) {
	e, env := horsesEnv(t, ModuleDetail, false)
	fv := bind(t, e, env, "title", BindInput{
		PointerContext: map[string]any{"name": "Star", "color": "blue"},
	})
	assert.Equal(t, "Star, blue", fv.Value)
}

func TestBind_ExternalPointer(t *testing.T) {
	e, err := ParseEntity("tips", []byte(`
application:
  fields:
    name: {}
    hint:
      pointer: {type: external, fields: [name]}
`), fixedNow)
	require.NoError(t, err)
	f, _ := e.Field("hint")

	env := BindEnv{
		Entity:     e,
		Module:     ModuleDetail,
		Translator: NewMapTranslator().Add("app_tips", "hint.for", "Try %name%"),
		Hooks: hookFunc(func(_ context.Context, entity, field string, args map[string]any) (any, error) {
			assert.Equal(t, "tips", entity)
			assert.Equal(t, "hint", field)
			return Translatable{Message: "hint.for", Args: args}, nil
		}),
	}
	fv, err := f.Bind(context.Background(), env, BindInput{PointerContext: map[string]any{"name": "oats"}})
	require.NoError(t, err)
	assert.Equal(t, "Try oats", fv.Value)

	env.Hooks = hookFunc(func(context.Context, string, string, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err = f.Bind(context.Background(), env, BindInput{})
	assert.EqualError(t, err, "boom")

	env.Hooks = nil
	_, err = f.Bind(context.Background(), env, BindInput{})
	assert.True(t, apperror.IsConfiguration(err))
}

func TestBind_TextTransformers(t *testing.T) {
	e, err := ParseEntity("races", []byte(`
application:
  fields:
    track:
      _transform:
        text: {abbr: true}
    distance:
      _transform:
        text: {suffix: furlongs}
`), fixedNow)
	require.NoError(t, err)
	env := BindEnv{Entity: e, Module: ModuleDashboard}

	track, _ := e.Field("track")
	fv, err := track.Bind(context.Background(), env, col("track", "Grand National Stakes"))
	require.NoError(t, err)
	assert.Equal(t, "G. N. S.", fv.Value)

	distance, _ := e.Field("distance")
	fv, err = distance.Bind(context.Background(), env, col("distance", "8"))
	require.NoError(t, err)
	assert.Equal(t, "8 furlongs", fv.Value)
}

func TestBind_DateTransformer(t *testing.T) {
	e, err := ParseEntity("events", []byte(`
application:
  fields:
    held:
      type: date
      _transform:
        date: {suffix: ago}
`), fixedNow)
	require.NoError(t, err)
	f, _ := e.Field("held")

	env := BindEnv{
		Entity: e,
		Module: ModuleDetail,
		Now:    time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC),
		Translator: NewMapTranslator().
			Add("", "value.time.week_plural.nn", "%nn% weeks").
			Add("", "value.time.day_plural.nn", "%nn% days"),
	}
	fv, err := f.Bind(context.Background(), env, col("held", "2024-05-20"))
	require.NoError(t, err)
	assert.Equal(t, "3 weeks,5 days ago", fv.Value)
	assert.True(t, fv.Transformed)

	env.Module = ModuleForm
	fv, err = f.Bind(context.Background(), env, col("held", "2024-05-20"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 20, 0, 0, 0, 0, time.UTC), fv.Value)
}

func TestBind_VisibilityDowngrade(t *testing.T) {
	e, env := horsesEnv(t, ModuleDetail, false)
	f, _ := e.Field("notes")
	assert.False(t, f.Unbound(env).Visible)

	env.Authenticated = true
	assert.True(t, f.Unbound(env).Visible)
}
