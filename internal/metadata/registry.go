package metadata

import (
	"sort"
	"sync"

	"unchained/internal/core/apperror"
)

// Registry stores the entity configurations of the process.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
	}
}

// Register adds or replaces an entity. Call Link once all entities are registered.
func (r *Registry) Register(e *Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[e.ID()]; !ok {
		r.order = append(r.order, e.ID())
	}
	r.entities[e.ID()] = e
}

func (r *Registry) Get(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Entity returns the entity or a NotFound error.
func (r *Registry) Entity(id string) (*Entity, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, apperror.NewNotFound("entity", id)
	}
	return e, nil
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns the entities in registration order.
func (r *Registry) List() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Entity, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.entities[id])
	}
	return list
}

// IDs returns the sorted entity ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// Authorized reports whether a viewer may access entity id.
func (r *Registry) Authorized(id string, authenticated bool) bool {
	e, ok := r.Get(id)
	if !ok {
		return false
	}
	return e.IsPublic() || authenticated
}

// AuthorizedModule additionally requires module m to be enabled.
func (r *Registry) AuthorizedModule(id string, m Module, authenticated bool) bool {
	if !r.Authorized(id, authenticated) {
		return false
	}
	e, _ := r.Get(id)
	_, ok := e.Module(m)
	return ok
}

// SourceEntity returns the target entity of source alias of entity id.
func (r *Registry) SourceEntity(id, alias string) (*Entity, *Source, error) {
	e, err := r.Entity(id)
	if err != nil {
		return nil, nil, err
	}
	src, ok := e.Source(alias)
	if !ok {
		return nil, nil, apperror.NewConfigurationf("unconfigured source %s in application %s", alias, id)
	}
	target, err := r.Entity(src.Entity)
	if err != nil {
		return nil, nil, apperror.NewConfigurationf("source %s of %s targets unknown application %s", alias, id, src.Entity)
	}
	return target, src, nil
}

// Link validates cross-entity references and lets source fields inherit the
// display type of the single target field they show.
func (r *Registry) Link() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		e := r.entities[id]
		for _, src := range e.Sources() {
			if _, ok := r.entities[src.Entity]; !ok {
				return apperror.NewConfigurationf("source %s of %s targets unknown application %s", src.Alias, id, src.Entity)
			}
			if src.JoinSource != "" {
				via, ok := e.Source(src.JoinSource)
				if !ok || via.IsAggregate() {
					return apperror.NewConfigurationf("source %s of %s joins through unknown source %s", src.Alias, id, src.JoinSource)
				}
			}
		}
	}

	for _, id := range r.order {
		e := r.entities[id]
		for _, f := range e.Fields() {
			fs := f.Source()
			if fs == nil || f.IsIgnored() || len(fs.Fields) != 1 {
				continue
			}
			src, _ := e.Source(fs.Alias)
			target := r.entities[src.Entity]
			tf, ok := target.Field(fs.Fields[0])
			if !ok {
				return apperror.NewConfigurationf("%s shows unknown field %s of %s", f, fs.Fields[0], target.ID())
			}
			if tf.DisplayType() != f.DisplayType() {
				e.replaceField(f.withDisplayType(tf.DisplayType()))
			}
		}
	}
	return nil
}
