package dto

import (
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
)

// ReceiptRequest books a real receipt into a branch.
type ReceiptRequest struct {
	IngredientID id.ID          `json:"ingredientId" binding:"required"`
	Quantity     types.Quantity `json:"quantity" binding:"required"`
	UnitCost     types.Money    `json:"unitCost"`
	ReceivedAt   time.Time      `json:"receivedAt" binding:"required"`
	SourceRef    string         `json:"sourceRef"`
}

func (r ReceiptRequest) ToRequest(branchID id.ID) ledger.ReceiveRequest {
	return ledger.ReceiveRequest{
		BranchID:     branchID,
		IngredientID: r.IngredientID,
		Quantity:     r.Quantity,
		UnitCost:     r.UnitCost,
		ReceivedAt:   r.ReceivedAt,
		SourceRef:    r.SourceRef,
	}
}

// WastageRequest writes stock off. At defaults to now.
type WastageRequest struct {
	IngredientID id.ID          `json:"ingredientId" binding:"required"`
	Quantity     types.Quantity `json:"quantity" binding:"required"`
	At           *time.Time     `json:"at"`
	Reason       string         `json:"reason" binding:"required"`
}

func (r WastageRequest) ToRequest(branchID id.ID, now time.Time) ledger.WasteRequest {
	at := now
	if r.At != nil {
		at = *r.At
	}
	return ledger.WasteRequest{
		BranchID:     branchID,
		IngredientID: r.IngredientID,
		Quantity:     r.Quantity,
		At:           at,
		Reason:       r.Reason,
	}
}

// StockResponse is the stock of one ingredient received up to AsOf.
type StockResponse struct {
	IngredientID id.ID          `json:"ingredientId"`
	AsOf         time.Time      `json:"asOf"`
	Available    types.Quantity `json:"available"`
}
