package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/infrastructure/http/v1/dto"
)

// StockService books receipts and wastage in a branch's timezone.
type StockService interface {
	Receive(ctx context.Context, req ledger.ReceiveRequest) (*entity.StockBatch, error)
	Waste(ctx context.Context, req ledger.WasteRequest) ([]entity.StockMovement, error)
}

// StockQuery reports available stock.
type StockQuery interface {
	AvailableStock(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (types.Quantity, error)
}

// StockHandler serves the receiving and wastage side of the ledger.
type StockHandler struct {
	*BaseHandler
	stock StockService
	query StockQuery
}

func NewStockHandler(base *BaseHandler, stock StockService, query StockQuery) *StockHandler {
	return &StockHandler{BaseHandler: base, stock: stock, query: query}
}

// Receive books a receipt as a new batch and a PURCHASE movement.
// POST /api/v1/branches/:id/receipts
func (h *StockHandler) Receive(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.ReceiptRequest
	if !h.BindJSON(c, &req) {
		return
	}
	batch, err := h.stock.Receive(c.Request.Context(), req.ToRequest(branchID))
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

// Waste depletes batches FIFO with WASTAGE movements. Insufficient stock
// is refused, never backfilled.
// POST /api/v1/branches/:id/wastage
func (h *StockHandler) Waste(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.WastageRequest
	if !h.BindJSON(c, &req) {
		return
	}
	moves, err := h.stock.Waste(c.Request.Context(), req.ToRequest(branchID, time.Now()))
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, moves)
}

// Available returns the stock received on or before asOf (default now).
// GET /api/v1/branches/:id/stock?ingredient=<id>&asOf=<RFC3339>
func (h *StockHandler) Available(c *gin.Context) {
	branchID, ok := h.PathID(c)
	if !ok {
		return
	}
	ingredientID, err := id.Parse(c.Query("ingredient"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid ingredient").WithDetail("ingredient", c.Query("ingredient")))
		return
	}
	asOf := time.Now().UTC()
	if raw := c.Query("asOf"); raw != "" {
		if asOf, err = time.Parse(time.RFC3339, raw); err != nil {
			h.Error(c, apperror.NewValidation("invalid asOf").WithDetail("asOf", raw))
			return
		}
	}
	qty, err := h.query.AvailableStock(c.Request.Context(), branchID, ingredientID, asOf)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.StockResponse{IngredientID: ingredientID, AsOf: asOf, Available: qty})
}
