package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/pkg/logger"
)

// ErrorHandler renders the last handler error as {code, message, details}.
// Internal causes are logged, never returned.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		// Only the last error is rendered; earlier ones are already logged.
		err := c.Errors.Last().Err

		if appErr, ok := apperror.AsAppError(err); ok && appErr.Code != apperror.CodeInternal {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error", "code", appErr.Code, "cause", appErr.Err)
			}
			c.JSON(StatusOf(appErr.Code), gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			})
			return
		}

		// Never expose internal details to the client.
		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{"request_id": c.GetString("request_id")},
		})
	}
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code string) int {
	switch code {
	case apperror.CodeValidation:
		return http.StatusBadRequest
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeConcurrentModification, apperror.CodeSourceChanged:
		return http.StatusConflict
	case apperror.CodeInsufficientStock,
		apperror.CodeRecipeMissing,
		apperror.CodeUnitConversionError,
		apperror.CodeCycleDetected,
		apperror.CodeBlocked:
		return http.StatusUnprocessableEntity
	case apperror.CodeLedgerInconsistency, apperror.CodeDatabase:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
