package application

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/storage/postgres/entity_repo"
	"unchained/internal/metadata"
)

const ownersDoc = `
application:
  fields:
    name:
      type: text
`

const horsesDoc = `
application:
  sources:
    owner:
      application: owners
      fields: [name]
  meta:
    slug: [name]
  fields:
    name:
      type: text
      required: true
    color:
      type: choice
      unique: true
      options: [bay, grey, black]
    owner:
      source: owner.name
    notes:
      type: textbox
      public: false
`

const stablesDoc = `
application:
  public: false
  fields:
    label:
      type: text
`

// answer returns rows to every statement containing match.
type answer struct {
	match string
	rows  []map[string]any
}

type fakeDB struct {
	mu      sync.Mutex
	answers []answer
	queries []string
}

func (db *fakeDB) Select(_ context.Context, dst any, sql string, _ ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	out := dst.(*[]map[string]any)
	*out = nil
	for _, a := range db.answers {
		if strings.Contains(sql, a.match) {
			*out = append(*out, a.rows...)
			return nil
		}
	}
	return nil
}

func (db *fakeDB) Get(_ context.Context, dst any, sql string, _ ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	*(dst.(*int64)) = 7
	return nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
	return 1, nil
}

func (db *fakeDB) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (db *fakeDB) ran(prefix string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, q := range db.queries {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func newService(t *testing.T, answers ...answer) (*Service, *fakeDB) {
	t.Helper()
	reg, err := metadata.LoadDocuments(map[string]string{
		"owners":  ownersDoc,
		"horses":  horsesDoc,
		"stables": stablesDoc,
	}, time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	store, err := cache.NewMemoryStorage()
	require.NoError(t, err)

	db := &fakeDB{answers: answers}
	svc := NewService(Config{
		Repos:     entity_repo.NewManager(db, reg, store),
		PublicURI: "/",
	})
	return svc, db
}

func authenticated() context.Context {
	return appctx.WithViewer(context.Background(), &appctx.Viewer{Subject: "admin", Authenticated: true})
}

var horseRows = []answer{
	{`FROM "app_horses" "_curr"`, []map[string]any{
		{"pk": int64(1), "_active": true, "name": "Bucephalus", "color": int64(0), "owners_id": nil,
			"notes": "bites", "_slug": "bucephalus", "_exposed": "Bucephalus", "owner__owner": nil},
		{"pk": int64(2), "_active": true, "name": "Marengo", "color": int64(1), "owners_id": nil,
			"notes": "", "_slug": "marengo", "_exposed": "Marengo", "owner__owner": nil},
	}},
	{`SELECT DISTINCT "color"`, []map[string]any{{"value": int64(0)}, {"value": int64(1)}}},
}

func TestBoot(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Boot(ctx, "unicorns", metadata.ModuleDashboard)
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.Boot(ctx, "stables", metadata.ModuleDashboard)
	assert.True(t, apperror.IsNotFound(err), "protected entities look missing")
	assert.False(t, apperror.HasCode(err, apperror.CodeUnauthorized))

	_, err = svc.Boot(ctx, "horses", metadata.ModuleForm)
	assert.True(t, apperror.IsNotFound(err), "forms are not public")

	_, err = svc.Boot(ctx, "horses", metadata.ModuleCharts)
	assert.True(t, apperror.IsNotFound(err), "charts are disabled by default")

	a, err := svc.Boot(authenticated(), "stables", metadata.ModuleDashboard)
	require.NoError(t, err)
	assert.Equal(t, "stables", a.entity.ID())
}

func TestDashboard(t *testing.T) {
	svc, _ := newService(t, horseRows...)

	p, err := svc.Dashboard(context.Background(), "horses", nil)
	require.NoError(t, err)

	assert.Equal(t, "horses", p.AppID)
	assert.Equal(t, "/", p.PublicURI)
	assert.NotContains(t, p.Columns, "notes")
	require.Len(t, p.Rows, 2)

	first := p.Rows[0]
	assert.Equal(t, int64(1), first.PK)
	assert.Equal(t, "Bucephalus", first.Fields["name"].Value)
	assert.Equal(t, "choice.color.bay", first.Fields["color"].Value)
	assert.False(t, first.Fields["notes"].Visible)
	assert.Nil(t, first.Fields["notes"].Value, "protected values are not read for public viewers")
	require.NotNil(t, first.Detail)
	assert.Equal(t, "horses/bucephalus", first.Detail.Params["app"])

	assert.Equal(t, false, p.Frontend["uniqueConstraint"], "black is still free")
}

func TestSearch(t *testing.T) {
	svc, db := newService(t, horseRows...)

	_, err := svc.Search(context.Background(), "horses", "buc")
	require.NoError(t, err)
	found := false
	for _, q := range db.queries {
		found = found || strings.Contains(q, "ILIKE")
	}
	assert.True(t, found)
}

func TestDetail(t *testing.T) {
	svc, _ := newService(t, horseRows...)

	p, err := svc.Detail(context.Background(), "horses", "bucephalus")
	require.NoError(t, err)
	require.NotNil(t, p.Record)
	assert.Nil(t, p.Redirect)
	assert.Equal(t, "Bucephalus", p.Record.Fields["name"].Value)
}

func TestDetail_MissingRedirects(t *testing.T) {
	svc, _ := newService(t)

	p, err := svc.Detail(context.Background(), "horses", "pegasus")
	require.NoError(t, err)
	assert.Nil(t, p.Record)
	require.NotNil(t, p.Redirect)
	assert.Equal(t, metadata.RouteApp, p.Redirect.Route)
	assert.Equal(t, "horses", p.Redirect.Params["app"])
}

func TestForm(t *testing.T) {
	svc, _ := newService(t, horseRows...)
	ctx := authenticated()

	p, err := svc.Form(ctx, "horses", 0)
	require.NoError(t, err)
	require.NotNil(t, p.Record)
	assert.Zero(t, p.Record.PK)
	assert.Nil(t, p.Record.Fields["name"].Value)
	require.NotNil(t, p.Record.Fields["name"].Field)
	assert.Equal(t, true, p.Record.Fields["name"].Field.Module["required"])

	p, err = svc.Form(ctx, "horses", 1)
	require.NoError(t, err)
	assert.Equal(t, "bites", p.Record.Fields["notes"].Value)
}

func TestSave(t *testing.T) {
	svc, db := newService(t)

	p, err := svc.Save(authenticated(), "horses", 0, map[string]any{"name": "Copenhagen"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.Record.PK)
	require.NotNil(t, p.Redirect)
	assert.True(t, db.ran(`INSERT INTO "app_horses"`))

	_, err = svc.Save(context.Background(), "horses", 0, map[string]any{"name": "Copenhagen"})
	assert.True(t, apperror.IsNotFound(err))
}

func TestDelete_SwallowsFailures(t *testing.T) {
	svc, db := newService(t)

	p, err := svc.Delete(authenticated(), "horses", map[string]any{"id": "9"})
	require.NoError(t, err)
	require.NotNil(t, p.Redirect)
	assert.False(t, db.ran("DELETE"), "missing records are not deleted")

	p, err = svc.Delete(authenticated(), "horses", map[string]any{"id": "nine"})
	require.NoError(t, err)
	assert.NotNil(t, p.Redirect)
}

func TestDelete_ByParams(t *testing.T) {
	svc, db := newService(t)

	_, err := svc.Delete(authenticated(), "horses", map[string]any{"color": 1})
	require.NoError(t, err)
	assert.True(t, db.ran(`DELETE FROM "app_horses"`))
}

func TestDuplicate(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Duplicate(authenticated(), "horses", 1)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotImplemented))
}

func TestFieldOptions_Unique(t *testing.T) {
	svc, _ := newService(t, horseRows...)
	ctx := authenticated()

	options, err := svc.FieldOptions(ctx, "horses", "color", nil)
	require.NoError(t, err)
	require.Len(t, options, 1)
	assert.Equal(t, int64(2), options[0].Key)

	options, err = svc.FieldOptions(ctx, "horses", "color", int64(1))
	require.NoError(t, err)
	assert.Len(t, options, 2, "the current value stays selectable")
}

func TestFieldOptions_Source(t *testing.T) {
	svc, _ := newService(t, answer{`FROM "app_owners" "_curr"`, []map[string]any{
		{"pk": int64(3), "_active": true, "name": "Alexander", "_slug": "alexander", "_exposed": "Alexander"},
	}})

	options, err := svc.FieldOptions(authenticated(), "horses", "owner", nil)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Option{{Key: 3, Label: "Alexander"}}, options)

	_, err = svc.FieldOptions(authenticated(), "horses", "mane", nil)
	assert.True(t, apperror.IsNotFound(err))
}

func TestApplications(t *testing.T) {
	svc, _ := newService(t)

	public := svc.Applications(context.Background())
	assert.Len(t, public, 2)
	assert.Len(t, svc.Applications(authenticated()), 3)
}
