package entity

import (
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// UnitStatus is the state of one (branch, date, ingredient) unit of work.
//
//	PENDING -> ALLOCATED -> RECORDED
//	PENDING -> BACKFILLING -> ALLOCATED -> RECORDED
//	any -> FAILED (retriable)
type UnitStatus string

const (
	UnitPending     UnitStatus = "PENDING"
	UnitBackfilling UnitStatus = "BACKFILLING"
	UnitAllocated   UnitStatus = "ALLOCATED"
	UnitRecorded    UnitStatus = "RECORDED"
	UnitFailed      UnitStatus = "FAILED"
)

var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitPending:     {UnitAllocated, UnitBackfilling, UnitFailed},
	UnitBackfilling: {UnitAllocated, UnitFailed},
	UnitAllocated:   {UnitRecorded, UnitFailed},
	UnitFailed:      {UnitPending},
}

// CanTransition reports whether from -> to is a legal unit transition.
func (s UnitStatus) CanTransition(to UnitStatus) bool {
	for _, next := range unitTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// UnitKey identifies a unit of work.
type UnitKey struct {
	BranchID     id.ID      `db:"branch_id" json:"branchId"`
	Date         types.Date `db:"business_date" json:"date"`
	IngredientID id.ID      `db:"ingredient_id" json:"ingredientId"`
}

func (k UnitKey) String() string {
	return k.BranchID.String() + "/" + k.Date.String() + "/" + k.IngredientID.String()
}

// UnitRecord is the persisted outcome of the last attempt on a unit.
// Only RECORDED and FAILED are persisted; intermediate states live in memory.
type UnitRecord struct {
	UnitKey
	Status         UnitStatus     `db:"status" json:"status"`
	IdempotencyKey string         `db:"idempotency_key" json:"idempotencyKey"`
	Quantity       types.Quantity `db:"quantity" json:"quantity"`
	Cost           types.Money    `db:"cost" json:"cost"`
	Attempts       int            `db:"attempts" json:"attempts"`
	ErrorCode      string         `db:"error_code" json:"errorCode,omitempty"`
	LastError      string         `db:"last_error" json:"lastError,omitempty"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}
