// Package ledger owns stock batches: FIFO allocation, the single depletion
// commit path, receiving and consistency checks.
package ledger

import (
	"context"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Repository defines data access for stock batches.
type Repository interface {
	// ListEligibleBatches returns batches with remaining stock received at or
	// before asOf, ordered by (received_at, id).
	ListEligibleBatches(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) ([]entity.StockBatch, error)

	// GetBatch returns apperror NotFound for unknown batches.
	GetBatch(ctx context.Context, batchID id.ID) (*entity.StockBatch, error)

	// SumRemaining returns Σ remaining_qty over all batches of (branch, ingredient).
	SumRemaining(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error)

	// CreateBatch inserts a new batch with version 1.
	CreateBatch(ctx context.Context, batch *entity.StockBatch) error

	// ApplyDepletion decrements remaining_qty by qty and bumps the version,
	// only if the stored version equals expectedVersion and enough stock
	// remains. Otherwise returns apperror CONCURRENT_MODIFICATION.
	ApplyDepletion(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int) error

	// RestoreDepletion adds qty back to remaining_qty (reset only).
	RestoreDepletion(ctx context.Context, batchID id.ID, qty types.Quantity) error

	// DeleteBatches removes batches (reset only).
	DeleteBatches(ctx context.Context, batchIDs []id.ID) error

	// LatestUnitCost returns the unit cost of the most recently received
	// non-synthetic batch at or before asOf, or nil when there is none.
	LatestUnitCost(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (*types.Money, error)

	// IngredientsWithBatches lists ingredient ids that have batches at the branch.
	IngredientsWithBatches(ctx context.Context, branchID id.ID) ([]id.ID, error)
}

// MovementLedger is the part of the movement store the ledger needs.
type MovementLedger interface {
	// InsertMovements writes a movement set sharing one idempotency key.
	// Returns false without writing when the key already exists.
	InsertMovements(ctx context.Context, movements []entity.StockMovement) (bool, error)

	// SumSigned returns Σ signed quantity over all movements of (branch, ingredient).
	SumSigned(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error)

	// IngredientsWithMovements lists ingredient ids that have movements at the branch.
	IngredientsWithMovements(ctx context.Context, branchID id.ID) ([]id.ID, error)
}
