// Package middleware provides the gin middleware of the costing API.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/pkg/logger"
)

// Recovery turns a handler panic into an internal error response.
// The stack goes to the log only; ErrorHandler renders the response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// Full stack, so a panic inside a run lane can be traced.
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)
				_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", err)).
					WithDetail("request_id", c.GetString("request_id")))
				c.Abort()
			}
		}()
		c.Next()
	}
}
