// Package movement records immutable consumption movements and aggregates
// their cost.
package movement

import (
	"context"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
)

// Repository defines data access for stock movements.
type Repository interface {
	ledger.MovementLedger

	// GetByKey returns the movement set stored under an idempotency key,
	// ordered by line number. Empty when the key is unknown.
	GetByKey(ctx context.Context, key string) ([]entity.StockMovement, error)

	// ListByDate returns the branch's movements on date, optionally
	// restricted to the given types, ordered by (ingredient_id, idempotency_key, line_no).
	ListByDate(ctx context.Context, branchID id.ID, date types.Date, movementTypes ...entity.MovementType) ([]entity.StockMovement, error)

	// ListFrom returns the branch's movements dated on or after from.
	ListFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.StockMovement, error)

	// DeleteByIDs removes movements (reset only).
	DeleteByIDs(ctx context.Context, ids []id.ID) error
}
