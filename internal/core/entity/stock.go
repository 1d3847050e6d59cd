package entity

import (
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// MovementType classifies a stock movement. Closed enumeration.
type MovementType string

const (
	MovementPurchase        MovementType = "PURCHASE"
	MovementConsumption     MovementType = "CONSUMPTION"
	MovementWastage         MovementType = "WASTAGE"
	MovementBackfillReceipt MovementType = "BACKFILL_RECEIPT"
	MovementAdjustment      MovementType = "ADJUSTMENT"
)

// MovementTypes lists every valid movement type.
var MovementTypes = []MovementType{
	MovementPurchase,
	MovementConsumption,
	MovementWastage,
	MovementBackfillReceipt,
	MovementAdjustment,
}

func (t MovementType) Valid() bool {
	for _, v := range MovementTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsInbound reports whether the movement type adds stock.
// ADJUSTMENT is signed and may go either way.
func (t MovementType) IsInbound() bool {
	return t == MovementPurchase || t == MovementBackfillReceipt
}

// StockBatch is a lot of one ingredient at one branch.
//
// ReceivedQty and UnitCost never change after creation. RemainingQty only
// decreases and stays within [0, ReceivedQty]. Version is bumped on every
// depletion and guards concurrent commits.
type StockBatch struct {
	ID           id.ID          `db:"id" json:"id"`
	BranchID     id.ID          `db:"branch_id" json:"branchId"`
	IngredientID id.ID          `db:"ingredient_id" json:"ingredientId"`
	ReceivedQty  types.Quantity `db:"received_qty" json:"receivedQty"`
	RemainingQty types.Quantity `db:"remaining_qty" json:"remainingQty"`
	UnitCost     types.Money    `db:"unit_cost" json:"unitCost"`
	ReceivedAt   time.Time      `db:"received_at" json:"receivedAt"`
	ReceiptID    *id.ID         `db:"receipt_id" json:"receiptId,omitempty"`
	Synthetic    bool           `db:"synthetic" json:"synthetic"`
	Version      int            `db:"version" json:"version"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

// FIFOLess orders batches by (ReceivedAt, ID).
func FIFOLess(a, b *StockBatch) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID.String() < b.ID.String()
}

// StockMovement is an immutable ledger entry. Quantity is signed:
// inbound movements are positive, consumption and wastage negative.
type StockMovement struct {
	ID             id.ID          `db:"id" json:"id"`
	BranchID       id.ID          `db:"branch_id" json:"branchId"`
	IngredientID   id.ID          `db:"ingredient_id" json:"ingredientId"`
	Type           MovementType   `db:"movement_type" json:"type"`
	Quantity       types.Quantity `db:"quantity" json:"quantity"`
	UnitCost       types.Money    `db:"unit_cost" json:"unitCost"`
	BatchID        id.ID          `db:"batch_id" json:"batchId"`
	SourceRef      string         `db:"source_ref" json:"sourceRef"`
	IdempotencyKey string         `db:"idempotency_key" json:"idempotencyKey"`
	BusinessDate   types.Date     `db:"business_date" json:"businessDate"`
	LineNo         int            `db:"line_no" json:"lineNo"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}

// Cost returns |Quantity| × UnitCost.
func (m *StockMovement) Cost() types.Money {
	return m.Quantity.Abs().Cost(m.UnitCost)
}

// CostSource records where a backfill unit cost came from.
type CostSource string

const (
	CostSourceLastKnown CostSource = "LAST_KNOWN"
	CostSourceFallback  CostSource = "FALLBACK"
)

// BackfillReceipt is a synthetic receipt created to cover one shortfall.
// It always produces exactly one StockBatch.
type BackfillReceipt struct {
	ID           id.ID          `db:"id" json:"id"`
	Number       string         `db:"number" json:"number"`
	BranchID     id.ID          `db:"branch_id" json:"branchId"`
	IngredientID id.ID          `db:"ingredient_id" json:"ingredientId"`
	BusinessDate types.Date     `db:"business_date" json:"businessDate"`
	ReceivedAt   time.Time      `db:"received_at" json:"receivedAt"`
	Quantity     types.Quantity `db:"quantity" json:"quantity"`
	UnitCost     types.Money    `db:"unit_cost" json:"unitCost"`
	CostSource   CostSource     `db:"cost_source" json:"costSource"`
	Synthetic    bool           `db:"synthetic" json:"synthetic"`
	BatchID      id.ID          `db:"batch_id" json:"batchId"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}
