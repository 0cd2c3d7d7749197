package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unchained/internal/core/apperror"
)

func TestRegistry_LinkedFixtures(t *testing.T) {
	reg := loadFixtures(t)

	assert.Equal(t, []string{"horses", "owners", "races", "stables"}, reg.IDs())

	horses, err := reg.Entity("horses")
	require.NoError(t, err)
	assert.Equal(t, "app_horses", horses.Table())
	assert.Equal(t, "horses_id", horses.ForeignKey())
	assert.Equal(t, "Horses", horses.Meta().Title)
	assert.Equal(t, []string{"name"}, horses.Meta().Exposes)
	assert.Equal(t, []string{"name"}, horses.ExposedColumns())
	assert.Equal(t, []SortKey{{Column: "name"}, {Column: "born", Desc: true}}, horses.Sort())

	owner, ok := horses.Field("owner")
	require.True(t, ok)
	assert.Equal(t, TypeText, owner.DisplayType(), "single source field inherits the target type")
	assert.Equal(t, FormChoice, owner.FormType())
	assert.Equal(t, "owners_id", owner.Column())
	assert.Equal(t, []string{"name"}, owner.SourceFields())

	stables, _ := horses.Field("stables")
	assert.Equal(t, ColumnVarchar, stables.Schema().Type)
	assert.True(t, stables.Schema().IsArray())
	assert.Equal(t, "stables_id", stables.Column())
	assert.True(t, stables.IsMultipleChoice())

	races, _ := horses.Field("races")
	assert.True(t, races.IsIgnored())
	assert.True(t, races.Schema().IsZero())

	title, _ := horses.Field("title")
	require.NotNil(t, title.Pointer())
	assert.Equal(t, PointerConcat, title.Pointer().Kind)
	assert.True(t, title.IsIgnored())

	slug := horses.SlugField()
	require.NotNil(t, slug)
	assert.Equal(t, PointerSlug, slug.Pointer().Kind)
	assert.Equal(t, []string{"name", "born"}, slug.Pointer().Fields)
	assert.Equal(t, SlugField, slug.Column())
	assert.Equal(t, 100, slug.Schema().Length)
	assert.False(t, slug.IsVisible(ModuleDashboard))
	assert.Same(t, slug, horses.Fields()[len(horses.Fields())-1])
}

func TestRegistry_SourceEntity(t *testing.T) {
	reg := loadFixtures(t)

	target, src, err := reg.SourceEntity("horses", "races")
	require.NoError(t, err)
	assert.Equal(t, "races", target.ID())
	assert.Equal(t, FunctionCount, src.Function)
	assert.Equal(t, "horses_id", src.Column)
	assert.Equal(t, "races_id", src.ForeignColumn)
	assert.True(t, src.IsAggregate())

	_, _, err = reg.SourceEntity("horses", "nope")
	assert.True(t, apperror.IsConfiguration(err))

	_, err = reg.Entity("ghosts")
	assert.True(t, apperror.IsNotFound(err))
}

func TestRegistry_Authorization(t *testing.T) {
	reg := loadFixtures(t)

	assert.True(t, reg.Authorized("horses", false))
	assert.False(t, reg.Authorized("stables", false))
	assert.True(t, reg.Authorized("stables", true))
	assert.False(t, reg.Authorized("ghosts", true))

	assert.True(t, reg.AuthorizedModule("horses", ModuleDetail, false))
	assert.False(t, reg.AuthorizedModule("horses", ModuleCharts, true))
}

func TestEntity_Modules(t *testing.T) {
	e, err := ParseEntity("notes", []byte(`
application:
  modules:
    detail:
      enabled: false
    charts: {}
  fields:
    body: {type: textbox}
`), fixedNow)
	require.NoError(t, err)

	_, ok := e.Module(ModuleDetail)
	assert.False(t, ok)
	_, ok = e.Module(ModuleCharts)
	assert.True(t, ok)
	_, ok = e.Module(ModuleForm)
	assert.True(t, ok)
	assert.Equal(t, "title.notes", e.Meta().Title)
	assert.Equal(t, "notes", e.Route("de"))
}

func TestEntity_ExposesIDWithoutSlug(t *testing.T) {
	e, err := ParseEntity("secrets", []byte(`
application:
  fields:
    code: {public: false}
`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, e.Meta().Exposes)
	assert.Nil(t, e.SlugField())
	assert.Equal(t, []SortKey{{Column: "id"}}, e.Sort())
}

func TestEntity_UniqueConstraint(t *testing.T) {
	e, err := ParseEntity("users", []byte(`
application:
  fields:
    email: {unique: true}
    name: {}
`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, e.Constraint(ConstraintUnique))
}

func TestEntity_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "reserved slug id",
			doc:  "application:\n  fields:\n    _slug: {}\n",
		},
		{
			name: "unknown field type",
			doc:  "application:\n  fields:\n    x: {type: hologram}\n",
		},
		{
			name: "unknown exposed field",
			doc:  "application:\n  meta:\n    exposes: [missing]\n  fields:\n    x: {}\n",
		},
		{
			name: "non public exposed field",
			doc:  "application:\n  meta:\n    exposes: [x]\n  fields:\n    x: {public: false}\n",
		},
		{
			name: "unknown slug field",
			doc:  "application:\n  meta:\n    slug: [missing]\n  fields:\n    x: {}\n",
		},
		{
			name: "unknown source function",
			doc:  "application:\n  sources:\n    s: {application: other, function: sum}\n",
		},
		{
			name: "unknown cardinality",
			doc:  "application:\n  sources:\n    s: {application: other, cardinality: many}\n",
		},
		{
			name: "source without application",
			doc:  "application:\n  sources:\n    s: {fields: [x]}\n",
		},
		{
			name: "unknown source alias",
			doc:  "application:\n  fields:\n    x: {source: nowhere}\n",
		},
		{
			name: "invalid round",
			doc:  "application:\n  fields:\n    x: {type: number, _transform: {number: {round: sideways}}}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntity("broken", []byte(tt.doc), fixedNow)
			require.Error(t, err)
			assert.True(t, apperror.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestRegistry_LinkErrors(t *testing.T) {
	tests := []struct {
		name string
		docs map[string]string
	}{
		{
			name: "unknown target",
			docs: map[string]string{"a": "application:\n  sources:\n    b: {application: b}\n"},
		},
		{
			name: "join through aggregate",
			docs: map[string]string{
				"a": "application:\n  sources:\n    b: {application: b, function: count}\n    c: {application: b, join_source: b}\n",
				"b": "application:\n  fields:\n    x: {}\n",
			},
		},
		{
			name: "unknown target field",
			docs: map[string]string{
				"a": "application:\n  sources:\n    b: {application: b}\n  fields:\n    y: {source: b.missing}\n",
				"b": "application:\n  fields:\n    x: {}\n",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDocuments(tt.docs, fixedNow)
			require.Error(t, err)
			assert.True(t, apperror.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stock"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owners.yaml"), []byte(ownersYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stock", "feed.yml"), []byte("application:\n  fields:\n    brand: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	reg, err := LoadDir(dir, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"owners", "stock/feed"}, reg.IDs())

	feed, err := reg.Entity("stock/feed")
	require.NoError(t, err)
	assert.Equal(t, "app_stock_feed", feed.Table())
	assert.Equal(t, "stock_feed_id", feed.ForeignKey())
}

func TestLoadDir_Duplicate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(ownersYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(ownersYAML), 0o644))

	_, err := LoadDir(dir, fixedNow)
	assert.True(t, apperror.IsConfiguration(err))
}
