// Package entity_repo provides the runtime data access of configured entities:
// viewer-specific queries, value resolution across sources, persistence and
// deletion, all backed by the result cache.
package entity_repo

import (
	"context"

	"go.opentelemetry.io/otel"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
	"unchained/internal/domain/extension"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/files"
	"unchained/internal/infrastructure/storage/postgres"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

var tracer = otel.Tracer("unchained/entity_repo")

// DB is what repositories need from the database. *postgres.TxManager
// implements it.
type DB interface {
	Select(ctx context.Context, dst any, sql string, args ...any) error
	Get(ctx context.Context, dst any, sql string, args ...any) error
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ DB = (*postgres.TxManager)(nil)

// FileStore persists uploads and returns the stored file name.
type FileStore interface {
	Save(ctx context.Context, dir string, up files.Upload) (string, error)
}

// Lifecycle runs record hooks around writes.
type Lifecycle interface {
	Run(ctx context.Context, event extension.Event, rec extension.Record) error
}

var _ Lifecycle = (*extension.Registry)(nil)

// Manager hands out repositories and owns what they share: the database,
// the result cache and the memoized query plans.
type Manager struct {
	db       DB
	registry *metadata.Registry
	store    *cache.Storage
	files    FileStore
	dirs     metadata.Directories
	hooks    Lifecycle

	plans *cache.Memo[planKey, *plan]
	repos *cache.Memo[planKey, *Repository]
}

type Option func(*Manager)

// WithFiles enables file and image uploads.
func WithFiles(fs FileStore, dirs metadata.Directories) Option {
	return func(m *Manager) {
		m.files = fs
		m.dirs = dirs
	}
}

// WithLifecycle runs hooks before and after every write.
func WithLifecycle(l Lifecycle) Option {
	return func(m *Manager) { m.hooks = l }
}

func NewManager(db DB, reg *metadata.Registry, store *cache.Storage, opts ...Option) *Manager {
	m := &Manager{
		db:       db,
		registry: reg,
		store:    store,
		plans:    cache.NewMemo[planKey, *plan](),
		repos:    cache.NewMemo[planKey, *Repository](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch drops memoized plans whenever a table changes. Plans read joined
// tables too, so every plan is dropped.
func (m *Manager) Watch(sc *cache.SchemaCache) {
	sc.OnInvalidation(func(table string) {
		m.plans.ForgetWhere(func(planKey) bool { return true })
		logger.Debug(context.Background(), "query plans dropped", "table", table)
	})
}

// Repository returns the repository of entityID for auth.
func (m *Manager) Repository(entityID string, auth appctx.AuthClass) (*Repository, error) {
	e, ok := m.registry.Get(entityID)
	if !ok {
		return nil, apperror.NewNotFound("entity", entityID)
	}
	return m.repos.Load(planKey{entity: entityID, auth: auth}, func() (*Repository, error) {
		return &Repository{m: m, entity: e, auth: auth}, nil
	})
}

// ForViewer returns the repository of entityID for the viewer bound to ctx.
func (m *Manager) ForViewer(ctx context.Context, entityID string) (*Repository, error) {
	return m.Repository(entityID, appctx.GetViewer(ctx).Class())
}

func (m *Manager) Registry() *metadata.Registry { return m.registry }

func (m *Manager) plan(e *metadata.Entity, auth appctx.AuthClass) (*plan, error) {
	return m.plans.Load(planKey{entity: e.ID(), auth: auth}, func() (*plan, error) {
		return buildPlan(m.registry, e, auth)
	})
}
