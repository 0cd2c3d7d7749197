package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	appctx "unchained/internal/core/context"
)

// Key is a cache key scoped to one entity and one viewer auth class.
type Key struct {
	Entity string
	Auth   appctx.AuthClass
	Name   string
}

// NewKey joins name parts with dots.
func NewKey(entity string, auth appctx.AuthClass, parts ...string) Key {
	return Key{Entity: entity, Auth: auth, Name: strings.Join(parts, ".")}
}

func (k Key) String() string {
	return "repo." + k.Entity + "." + k.Auth.String() + "." + k.Name
}

// ForAuth returns the same key for another auth class.
func (k Key) ForAuth(auth appctx.AuthClass) Key {
	k.Auth = auth
	return k
}

// AllClasses returns the key for every auth class. Writes use it since
// data changed by one viewer is stale for all of them.
func (k Key) AllClasses() []Key {
	return []Key{k.ForAuth(appctx.Public), k.ForAuth(appctx.Authenticated)}
}

// EntityDataTag groups every query result of an entity.
func EntityDataTag(entity string) string {
	return "entity:" + entity + ":data"
}

// Hash returns a stable md5 of v encoded as JSON with sorted map keys.
func Hash(v map[string]any) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]any, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]any{k, v[k]})
	}
	data, _ := json.Marshal(ordered)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
