package handlers

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/internal/domain/run"
	"costengine/internal/infrastructure/http/v1/dto"
)

// RunHandler triggers engine runs.
type RunHandler struct {
	*BaseHandler
	engine *run.Engine
}

func NewRunHandler(base *BaseHandler, engine *run.Engine) *RunHandler {
	return &RunHandler{BaseHandler: base, engine: engine}
}

// Run processes a date range synchronously and returns the run summary.
// POST /api/v1/runs
func (h *RunHandler) Run(c *gin.Context) {
	var req dto.RunRequest
	if !h.BindJSON(c, &req) {
		return
	}
	summary, err := h.engine.Run(c.Request.Context(), req.ToRequest())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}

// Retry reprocesses FAILED units.
// POST /api/v1/runs/retry
func (h *RunHandler) Retry(c *gin.Context) {
	var req dto.RetryRequest
	if !h.BindJSON(c, &req) {
		return
	}
	summary, err := h.engine.RetryFailed(c.Request.Context(), req.BranchIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}

// Reset clears the engine's output for a branch from a date onward.
// Without confirm=RESET only a dry run is allowed.
// POST /api/v1/branches/:id/reset
func (h *RunHandler) Reset(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.ResetRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if req.From.IsZero() {
		h.Error(c, apperror.NewValidation("from date is required"))
		return
	}
	dryRun := req.IsDryRun()
	if !dryRun && req.Confirm != dto.ResetConfirmation {
		h.Error(c, apperror.NewValidation("reset requires confirmation").
			WithDetail("confirm", dto.ResetConfirmation))
		return
	}

	report, err := h.engine.ResetFrom(c.Request.Context(), branchID, req.From, dryRun)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}
