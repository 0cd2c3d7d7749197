package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"unchained/internal/core/apperror"
	appctx "unchained/internal/core/context"
)

// JWTValidator turns a bearer token into a viewer.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.Viewer, error)
}

// OptionalAuth attaches a viewer to every request. A valid bearer token
// yields an authenticated viewer; no token yields a public one. A malformed
// or invalid token is rejected rather than silently downgraded.
func OptionalAuth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer := &appctx.Viewer{Locale: locale(c)}

		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				abortUnauthorized(c, "invalid authorization header format")
				return
			}
			if validator == nil {
				abortUnauthorized(c, "authentication is not configured")
				return
			}
			v, err := validator.ValidateToken(parts[1])
			if err != nil {
				abortUnauthorized(c, "invalid token")
				return
			}
			if v.Locale == "" {
				v.Locale = viewer.Locale
			}
			viewer = v
		}

		c.Request = c.Request.WithContext(appctx.WithViewer(c.Request.Context(), viewer))
		c.Next()
	}
}

// RequireAuth rejects public viewers.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !appctx.IsAuthenticated(c.Request.Context()) {
			abortUnauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// locale takes the primary language of Accept-Language.
func locale(c *gin.Context) string {
	lang := c.GetHeader("Accept-Language")
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	if i := strings.IndexByte(lang, '-'); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(strings.TrimSpace(lang))
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
