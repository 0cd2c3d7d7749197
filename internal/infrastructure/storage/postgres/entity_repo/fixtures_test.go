package entity_repo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appctx "unchained/internal/core/context"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/files"
	"unchained/internal/metadata"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

const ownersYAML = `
application:
  label: Owners
  fields:
    name:
      type: text
      required: true
    since:
      type: date
    secret:
      type: text
      public: false
`

const horsesYAML = `
application:
  label: Horses
  sources:
    owner:
      application: owners
      fields: [name]
    stables:
      application: stables
      cardinality: multiple
    races:
      application: races
      function: count
    wins:
      application: races
      function: find_in
      column: winners
  meta:
    slug: [name, born]
  sort:
    name: asc
    born: desc
  fields:
    name:
      type: text
      required: true
    born:
      type: date
    color:
      type: choice
      options: [red, blue]
    owner:
      source: owner.name
    stables:
      source: stables
      multiple: true
    races:
      source: races
    wins:
      source: wins
    notes:
      type: textbox
      public: false
    champion:
      type: boolean
    photo:
      type: image
`

const stablesYAML = `
application:
  public: false
  fields:
    label:
      type: text
      public: false
`

const racesYAML = `
application:
  fields:
    track:
      type: text
    horses_id:
      type: number
    winners:
      type: text
`

func loadRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	reg, err := metadata.LoadDocuments(map[string]string{
		"owners":  ownersYAML,
		"horses":  horsesYAML,
		"stables": stablesYAML,
		"races":   racesYAML,
	}, fixedNow)
	require.NoError(t, err)
	return reg
}

// response answers the first statement containing match.
type response struct {
	match  string
	rows   []map[string]any
	handle func(args []any) []map[string]any
	err    error
}

// fakeDB records statements and answers them from canned responses.
type fakeDB struct {
	mu        sync.Mutex
	responses []response
	queries   []string
	args      [][]any
	nextID    int64
	affected  int64
	writeErr  error
	txs       int
}

func newFakeDB() *fakeDB {
	return &fakeDB{nextID: 1, affected: 1}
}

func (db *fakeDB) on(match string, rows ...map[string]any) *fakeDB {
	db.responses = append(db.responses, response{match: match, rows: rows})
	return db
}

func (db *fakeDB) onFunc(match string, handle func(args []any) []map[string]any) *fakeDB {
	db.responses = append(db.responses, response{match: match, handle: handle})
	return db
}

func (db *fakeDB) fail(match string, err error) *fakeDB {
	db.responses = append(db.responses, response{match: match, err: err})
	return db
}

// byPK answers record lookups by the first bound argument.
func byPK(rows ...map[string]any) func(args []any) []map[string]any {
	return func(args []any) []map[string]any {
		if len(args) == 0 {
			return rows
		}
		for _, row := range rows {
			if fmt.Sprint(row["pk"]) == fmt.Sprint(args[0]) {
				return []map[string]any{row}
			}
		}
		return nil
	}
}

func (db *fakeDB) record(sql string, args []any) {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
}

func (db *fakeDB) Select(_ context.Context, dst any, sql string, args ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.record(sql, args)

	out, ok := dst.(*[]map[string]any)
	if !ok {
		return fmt.Errorf("unsupported destination %T", dst)
	}
	*out = nil
	for _, r := range db.responses {
		if !strings.Contains(sql, r.match) {
			continue
		}
		if r.err != nil {
			return r.err
		}
		rows := r.rows
		if r.handle != nil {
			rows = r.handle(args)
		}
		for _, row := range rows {
			cp := make(map[string]any, len(row))
			for k, v := range row {
				cp[k] = v
			}
			*out = append(*out, cp)
		}
		return nil
	}
	return nil
}

func (db *fakeDB) Get(_ context.Context, dst any, sql string, args ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.record(sql, args)
	if db.writeErr != nil {
		return db.writeErr
	}
	out, ok := dst.(*int64)
	if !ok {
		return fmt.Errorf("unsupported destination %T", dst)
	}
	*out = db.nextID
	return nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.record(sql, args)
	if db.writeErr != nil {
		return 0, db.writeErr
	}
	return db.affected, nil
}

func (db *fakeDB) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	db.mu.Lock()
	db.txs++
	db.mu.Unlock()
	return fn(ctx)
}

// count returns how many recorded statements contain match.
func (db *fakeDB) count(match string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, q := range db.queries {
		if strings.Contains(q, match) {
			n++
		}
	}
	return n
}

// last returns the last statement containing match and its arguments.
func (db *fakeDB) last(match string) (string, []any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := len(db.queries) - 1; i >= 0; i-- {
		if strings.Contains(db.queries[i], match) {
			return db.queries[i], db.args[i]
		}
	}
	return "", nil
}

type fakeFiles struct {
	dirs  []string
	names []string
}

func (f *fakeFiles) Save(_ context.Context, dir string, up files.Upload) (string, error) {
	f.dirs = append(f.dirs, dir)
	f.names = append(f.names, up.Filename)
	return "0123abcd.png", nil
}

func newTestManager(t *testing.T, db DB, opts ...Option) *Manager {
	t.Helper()
	store, err := cache.NewMemoryStorage()
	require.NoError(t, err)
	return NewManager(db, loadRegistry(t), store, opts...)
}

func repo(t *testing.T, m *Manager, entity string, auth appctx.AuthClass) *Repository {
	t.Helper()
	r, err := m.Repository(entity, auth)
	require.NoError(t, err)
	return r
}

const (
	horsesFrom  = `FROM "app_horses" "_curr"`
	ownersFrom  = `FROM "app_owners" "_curr"`
	stablesFrom = `FROM "app_stables" "_curr"`
)

func horseRow(pk int64, name string) map[string]any {
	return map[string]any{
		"pk":           int32(pk),
		"_active":      true,
		"name":         name,
		"born":         time.Date(2020, time.May, 1, 0, 0, 0, 0, time.UTC),
		"color":        int32(1),
		"owners_id":    int32(3),
		"stables_id":   "[1,2]",
		"champion":     int16(1),
		"photo":        nil,
		"_slug":        strings.ToLower(name) + "-2020-05-01",
		"_exposed":     name,
		"owner__owner": "Alexander",
		"races__races": int64(4),
		"wins__wins":   nil,
	}
}
