package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"costengine/pkg/logger"
)

// Logger puts log on the request context, so engine logs of the request
// go to it, and logs every request with its status and latency.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		// Process request
		c.Next()

		// Runs can take a while; latency is what operators watch.
		log.WithContext(c.Request.Context()).Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"error", c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}
