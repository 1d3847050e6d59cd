package entity

import (
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// SaleLine is one sold item as delivered by the order capture system.
type SaleLine struct {
	ID       id.ID          `db:"id" json:"id"`
	OrderID  id.ID          `db:"order_id" json:"orderId"`
	BranchID id.ID          `db:"branch_id" json:"branchId"`
	ItemID   id.ID          `db:"item_id" json:"itemId"`
	Options  []id.ID        `db:"options" json:"options"`
	QtySold  types.Quantity `db:"qty_sold" json:"qtySold"`
	// SoldAt is the instant of sale; the business date is derived from it
	// in the branch timezone.
	SoldAt time.Time `db:"sold_at" json:"soldAt"`
	Status string    `db:"status" json:"status"`
}

// Ref is the stable source reference used in idempotency keys.
func (s *SaleLine) Ref() string {
	return s.OrderID.String() + "/" + s.ID.String()
}
