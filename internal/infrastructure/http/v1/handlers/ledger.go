package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/movement"
	"costengine/internal/domain/run"
)

// AuditReader returns the allocation audits of a unit.
type AuditReader interface {
	UnitAudit(ctx context.Context, unit entity.UnitKey, limit int) ([]run.AllocationAudit, error)
}

// LedgerHandler serves read-only ledger reports.
type LedgerHandler struct {
	*BaseHandler
	costs  *movement.CostAggregator
	ledger *ledger.Service
	audit  AuditReader
}

func NewLedgerHandler(base *BaseHandler, costs *movement.CostAggregator, ledgerSvc *ledger.Service, audit AuditReader) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, costs: costs, ledger: ledgerSvc, audit: audit}
}

// DailyCost returns the recorded consumption cost of a branch on a date.
// GET /api/v1/branches/:id/cost?date=YYYY-MM-DD
func (h *LedgerHandler) DailyCost(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	date, ok := h.QueryDate(c, "date")
	if !ok {
		return
	}
	cost, err := h.costs.DailyCost(c.Request.Context(), branchID, date)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, cost)
}

// Consistency compares batch remainders with movement sums per ingredient.
// GET /api/v1/branches/:id/consistency
func (h *LedgerHandler) Consistency(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	rows, err := h.ledger.ConsistencyReport(c.Request.Context(), branchID)
	if err != nil {
		h.Error(c, err)
		return
	}
	consistent := true
	for _, r := range rows {
		consistent = consistent && r.Consistent
	}
	h.OK(c, gin.H{"consistent": consistent, "ingredients": rows})
}

// Audit returns the allocation plans recorded for one unit.
// GET /api/v1/branches/:id/audit?date=YYYY-MM-DD&ingredient=<id>&limit=N
func (h *LedgerHandler) Audit(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	date, ok := h.QueryDate(c, "date")
	if !ok {
		return
	}
	ingredientID, err := id.Parse(c.Query("ingredient"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid ingredient").WithDetail("ingredient", c.Query("ingredient")))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			h.Error(c, apperror.NewValidation("invalid limit").WithDetail("limit", raw))
			return
		}
	}
	audits, err := h.audit.UnitAudit(c.Request.Context(), entity.UnitKey{
		BranchID:     branchID,
		Date:         date,
		IngredientID: ingredientID,
	}, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, audits)
}
