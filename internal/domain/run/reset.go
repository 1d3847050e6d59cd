package run

import (
	"context"
	"errors"
	"fmt"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/pkg/logger"
)

// errDryRun rolls back a reset that was only meant to be counted.
var errDryRun = errors.New("dry run")

// ResetReport describes what a reset removed (or would remove).
type ResetReport struct {
	BranchID         id.ID          `json:"branchId"`
	From             types.Date     `json:"from"`
	DryRun           bool           `json:"dryRun"`
	MovementsDeleted int            `json:"movementsDeleted"`
	BackfillsDeleted int            `json:"backfillsDeleted"`
	UnitsDeleted     int            `json:"unitsDeleted"`
	RestoredQty      types.Quantity `json:"restoredQty"`
}

// ResetFrom removes the engine's output for a branch from a date onward so
// the days can be reprocessed: consumption is restored into the batches it
// depleted, backfill receipts are removed together with their batches and
// movements, and unit records are cleared. Real receipts and wastage are
// left untouched. With dryRun the work is done and rolled back.
func (e *Engine) ResetFrom(ctx context.Context, branchID id.ID, from types.Date, dryRun bool) (*ResetReport, error) {
	lock, err := e.locker.Obtain(ctx, "costengine:lane:"+branchID.String(), e.cfg.LaneLockTTL)
	if err != nil {
		return nil, fmt.Errorf("obtain lane lock for branch %s: %w", branchID, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "release lane lock", "error", err)
		}
	}()

	report := &ResetReport{BranchID: branchID, From: from, DryRun: dryRun}
	err = e.deps.TxManager.RunInTransaction(ctx, func(ctx context.Context) error {
		receipts, err := e.deps.Receipts.ListReceiptsFrom(ctx, branchID, from)
		if err != nil {
			return fmt.Errorf("list backfill receipts: %w", err)
		}
		syntheticBatches := make(map[id.ID]bool, len(receipts))
		receiptIDs := make([]id.ID, 0, len(receipts))
		for _, r := range receipts {
			syntheticBatches[r.BatchID] = true
			receiptIDs = append(receiptIDs, r.ID)
		}

		movements, err := e.deps.Movements.ListFrom(ctx, branchID, from)
		if err != nil {
			return fmt.Errorf("list movements: %w", err)
		}

		var doomed []id.ID
		for _, m := range movements {
			switch {
			case m.Type == entity.MovementConsumption:
				if !syntheticBatches[m.BatchID] {
					if err := e.deps.Batches.RestoreDepletion(ctx, m.BatchID, m.Quantity.Abs()); err != nil {
						return fmt.Errorf("restore batch %s: %w", m.BatchID, err)
					}
					report.RestoredQty += m.Quantity.Abs()
				}
				doomed = append(doomed, m.ID)
			case m.Type == entity.MovementBackfillReceipt && syntheticBatches[m.BatchID]:
				doomed = append(doomed, m.ID)
			}
		}

		if err := e.deps.Movements.DeleteByIDs(ctx, doomed); err != nil {
			return fmt.Errorf("delete movements: %w", err)
		}
		if err := e.deps.Receipts.DeleteReceipts(ctx, receiptIDs); err != nil {
			return fmt.Errorf("delete backfill receipts: %w", err)
		}
		batchIDs := make([]id.ID, 0, len(syntheticBatches))
		for b := range syntheticBatches {
			batchIDs = append(batchIDs, b)
		}
		if err := e.deps.Batches.DeleteBatches(ctx, batchIDs); err != nil {
			return fmt.Errorf("delete backfill batches: %w", err)
		}
		units, err := e.deps.Units.DeleteUnitsFrom(ctx, branchID, from)
		if err != nil {
			return fmt.Errorf("delete units: %w", err)
		}

		report.MovementsDeleted = len(doomed)
		report.BackfillsDeleted = len(receiptIDs)
		report.UnitsDeleted = units

		ingredients, err := e.deps.Movements.IngredientsWithMovements(ctx, branchID)
		if err != nil {
			return fmt.Errorf("list ingredients: %w", err)
		}
		for _, ing := range ingredients {
			if err := e.deps.Ledger.CheckIngredient(ctx, branchID, ing); err != nil {
				return err
			}
		}

		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}

	logger.Info(ctx, "ledger reset",
		"branch_id", branchID,
		"from", from.String(),
		"dry_run", dryRun,
		"movements", report.MovementsDeleted,
		"backfills", report.BackfillsDeleted,
		"units", report.UnitsDeleted,
		"restored_qty", report.RestoredQty.String(),
	)
	return report, nil
}
