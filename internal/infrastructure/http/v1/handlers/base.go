// Package handlers provides the HTTP handlers of the costing API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds the request body, reporting a validation error on failure.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the gin context and aborts the request.
// The response is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// OK sends a 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// PathID parses the :id path parameter.
func (h *BaseHandler) PathID(c *gin.Context) (id.ID, bool) {
	raw := c.Param("id")
	parsed, err := id.Parse(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid id").WithDetail("id", raw))
		return id.Nil(), false
	}
	return parsed, true
}

// QueryDate parses a required YYYY-MM-DD query parameter.
func (h *BaseHandler) QueryDate(c *gin.Context, key string) (types.Date, bool) {
	raw := c.Query(key)
	if raw == "" {
		h.Error(c, apperror.NewValidation("missing query parameter").WithDetail("param", key))
		return types.Date{}, false
	}
	d, err := types.ParseDate(raw)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid date").WithDetail(key, raw))
		return types.Date{}, false
	}
	return d, true
}
