// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// AuthClass partitions viewers for authorization and cache isolation.
type AuthClass int

const (
	// Public viewers see only public fields and entities.
	Public AuthClass = iota
	// Authenticated viewers additionally see protected fields.
	Authenticated
)

// String returns the cache-key form of the class.
func (a AuthClass) String() string {
	if a == Authenticated {
		return "auth"
	}
	return "public"
}

// Viewer describes who is reading or writing.
type Viewer struct {
	Subject       string
	Roles         []string
	Authenticated bool
	Locale        string
}

// Class returns the viewer's auth class.
func (v *Viewer) Class() AuthClass {
	if v != nil && v.Authenticated {
		return Authenticated
	}
	return Public
}

type viewerContextKey struct{}

// WithViewer adds Viewer to context.
func WithViewer(ctx context.Context, viewer *Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, viewer)
}

// GetViewer returns Viewer from context.
func GetViewer(ctx context.Context) *Viewer {
	if v, ok := ctx.Value(viewerContextKey{}).(*Viewer); ok {
		return v
	}
	return nil
}

// IsAuthenticated reports whether the context carries an authenticated viewer.
func IsAuthenticated(ctx context.Context) bool {
	return GetViewer(ctx).Class() == Authenticated
}

// GetLocale returns the viewer locale or an empty string.
func GetLocale(ctx context.Context) string {
	if v := GetViewer(ctx); v != nil {
		return v.Locale
	}
	return ""
}
