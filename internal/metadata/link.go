package metadata

import (
	"path"
	"path/filepath"
)

// Link is a navigation directive: a named route and its parameters.
type Link struct {
	Route  string         `json:"route"`
	Params map[string]any `json:"params"`
}

// RouteApp is the route serving entity dashboards and details.
const RouteApp = "dash_app"

// Router builds links to entities, honoring the viewer's authorization.
type Router interface {
	// Entity links to the dashboard of entity, or returns nil when not authorized.
	Entity(entity string, query map[string]any) *Link
	// Record links to the detail of a record, or returns nil when not authorized.
	Record(entity, slug string) *Link
}

// RegistryRouter resolves links against a registry.
type RegistryRouter struct {
	registry      *Registry
	authenticated bool
	locale        string
}

func NewRouter(reg *Registry, authenticated bool, locale string) *RegistryRouter {
	return &RegistryRouter{registry: reg, authenticated: authenticated, locale: locale}
}

func (r *RegistryRouter) Entity(entity string, query map[string]any) *Link {
	e, ok := r.registry.Get(entity)
	if !ok || !r.registry.Authorized(entity, r.authenticated) {
		return nil
	}
	l := &Link{Route: RouteApp, Params: map[string]any{"app": e.Route(r.locale)}}
	if len(query) > 0 {
		l.Params["?"] = query
	}
	return l
}

func (r *RegistryRouter) Record(entity, slug string) *Link {
	if slug == "" {
		return r.Entity(entity, nil)
	}
	if !r.registry.AuthorizedModule(entity, ModuleDetail, r.authenticated) {
		return nil
	}
	l := r.Entity(entity, nil)
	if l == nil {
		return nil
	}
	l.Params["app"] = path.Join(l.Params["app"].(string), slug)
	return l
}

// Directories locates uploaded media. Paths are public URL paths; FileSystem
// maps them under the public root.
type Directories struct {
	Public string
}

func (d Directories) Files(entity string) string  { return "/media/files/apps/" + entity }
func (d Directories) Images(entity string) string { return "/media/images/apps/" + entity }

func (d Directories) FileSystem(urlPath string) string {
	return filepath.Join(d.Public, filepath.FromSlash(urlPath))
}
