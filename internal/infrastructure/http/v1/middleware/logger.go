package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"unchained/pkg/logger"
)

// Logger scopes log to the request context and logs every request once it
// has been served.
func Logger(log *logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		c.Next()

		entry := log.WithContext(c.Request.Context()).With(
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		if errs := c.Errors.String(); errs != "" {
			entry = entry.With("error", errs)
		}
		if c.Writer.Status() >= 500 {
			entry.Errorw("http request")
			return
		}
		entry.Infow("http request")
	}
}
