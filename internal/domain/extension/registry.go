// Package extension holds the code hooks entities can call into: resolvers for
// external pointer fields and record lifecycle hooks.
package extension

import (
	"context"
	"fmt"
	"sync"

	"unchained/internal/core/apperror"
)

// Hook computes the value of an external pointer field from the pointer
// fields of the current record.
type Hook func(ctx context.Context, args map[string]any) (any, error)

// Event is a record lifecycle point.
type Event string

const (
	BeforePersist Event = "before_persist"
	AfterPersist  Event = "after_persist"
	BeforeDelete  Event = "before_delete"
	AfterDelete   Event = "after_delete"
)

// Record is what lifecycle hooks receive. Values is nil for delete events.
type Record struct {
	Entity string
	PK     int64
	Values map[string]any
}

// RecordHook runs at a lifecycle point. Before-hooks may abort the operation.
type RecordHook func(ctx context.Context, rec Record) error

type fieldKey struct {
	entity string
	field  string
}

type eventKey struct {
	entity string
	event  Event
}

// Registry stores hooks keyed by entity and field, or entity and event.
// It is safe for concurrent use; registration normally happens at boot.
type Registry struct {
	mu      sync.RWMutex
	fields  map[fieldKey]Hook
	records map[eventKey][]RecordHook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		fields:  make(map[fieldKey]Hook),
		records: make(map[eventKey][]RecordHook),
	}
}

// Register binds hook to the external pointer field of entity. A later
// registration replaces an earlier one.
func (r *Registry) Register(entity, field string, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[fieldKey{entity, field}] = hook
}

// Has reports whether a hook is bound to entity.field.
func (r *Registry) Has(entity, field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[fieldKey{entity, field}]
	return ok
}

// Resolve runs the hook bound to entity.field.
func (r *Registry) Resolve(ctx context.Context, entity, field string, args map[string]any) (any, error) {
	r.mu.RLock()
	hook, ok := r.fields[fieldKey{entity, field}]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.NewConfigurationf("no extension registered for Field<%s.%s>", entity, field)
	}
	out, err := hook(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("extension %s.%s: %w", entity, field, err)
	}
	return out, nil
}

// On registers a lifecycle hook of entity for event.
func (r *Registry) On(entity string, event Event, hook RecordHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := eventKey{entity, event}
	r.records[k] = append(r.records[k], hook)
}

// Run executes the hooks of rec.Entity for event in registration order and
// stops at the first error.
func (r *Registry) Run(ctx context.Context, event Event, rec Record) error {
	r.mu.RLock()
	hooks := append([]RecordHook(nil), r.records[eventKey{rec.Entity, event}]...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
