package app

import (
	"context"

	"costengine/internal/core/entity"
	"costengine/internal/domain/ledger"
)

// Receive books a real receipt. The PURCHASE movement is dated in the
// branch's timezone.
func (a *App) Receive(ctx context.Context, req ledger.ReceiveRequest) (*entity.StockBatch, error) {
	loc, err := a.Aggregator.BranchLocation(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	req.Location = loc
	return a.Ledger.Receive(ctx, req)
}

// Waste writes stock off FIFO, retrying version conflicts like a unit does.
func (a *App) Waste(ctx context.Context, req ledger.WasteRequest) ([]entity.StockMovement, error) {
	loc, err := a.Aggregator.BranchLocation(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	req.Location = loc
	return a.Ledger.Waste(ctx, req, a.maxConflictRetries)
}
