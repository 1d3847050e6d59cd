package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "costengine/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace takes the caller's ids from the headers, or issues new ones, and
// echoes them back. A run started by the request logs under the same ids.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Blank headers get fresh ids.
		t := appctx.NewTraceContext(c.GetHeader(HeaderTraceID), c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(appctx.WithTrace(c.Request.Context(), t))

		// Handlers and ErrorHandler read the request id from the gin context.
		c.Set("trace_id", t.TraceID)
		c.Set("request_id", t.RequestID)

		// Echo back so callers can quote them when reporting a failed run.
		c.Header(HeaderRequestID, t.RequestID)
		c.Header(HeaderTraceID, t.TraceID)

		c.Next()
	}
}
