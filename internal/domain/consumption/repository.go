// Package consumption aggregates a branch's qualifying sales for one business
// day into per-ingredient requirements.
package consumption

import (
	"context"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
)

// Repository provides read access to branches and sale lines.
type Repository interface {
	// GetBranch returns apperror NotFound for unknown branches.
	GetBranch(ctx context.Context, branchID id.ID) (*entity.Branch, error)

	// ListSaleLines returns the branch's sale lines sold within [from, to),
	// ordered by (sold_at, id).
	ListSaleLines(ctx context.Context, branchID id.ID, from, to time.Time) ([]entity.SaleLine, error)
}
