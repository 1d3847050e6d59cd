package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/pkg/logger"
)

// Service provides receiving, wastage and consistency operations.
type Service struct {
	repo      Repository
	movements MovementLedger
	allocator *Allocator
	txManager tx.Manager
}

// NewService creates a ledger service.
func NewService(repo Repository, movements MovementLedger, allocator *Allocator, txManager tx.Manager) *Service {
	return &Service{repo: repo, movements: movements, allocator: allocator, txManager: txManager}
}

// ReceiveRequest describes a real (non-synthetic) receipt.
type ReceiveRequest struct {
	BranchID     id.ID
	IngredientID id.ID
	Quantity     types.Quantity
	UnitCost     types.Money
	ReceivedAt   time.Time
	ReceiptID    *id.ID
	SourceRef    string
	// Location determines the business date of the PURCHASE movement.
	Location *time.Location
}

// Receive creates a batch and its PURCHASE movement atomically.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (*entity.StockBatch, error) {
	if !req.Quantity.IsPositive() {
		return nil, apperror.NewValidation("received quantity must be positive")
	}
	if req.UnitCost.IsNegative() {
		return nil, apperror.NewValidation("unit cost must not be negative")
	}

	batch := &entity.StockBatch{
		ID:           id.New(),
		BranchID:     req.BranchID,
		IngredientID: req.IngredientID,
		ReceivedQty:  req.Quantity,
		RemainingQty: req.Quantity,
		UnitCost:     req.UnitCost,
		ReceivedAt:   req.ReceivedAt,
		ReceiptID:    req.ReceiptID,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}
	sourceRef := req.SourceRef
	if sourceRef == "" {
		sourceRef = "purchase:" + batch.ID.String()
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		_, err := s.movements.InsertMovements(ctx, []entity.StockMovement{{
			ID:             id.New(),
			BranchID:       batch.BranchID,
			IngredientID:   batch.IngredientID,
			Type:           entity.MovementPurchase,
			Quantity:       batch.ReceivedQty,
			UnitCost:       batch.UnitCost,
			BatchID:        batch.ID,
			SourceRef:      sourceRef,
			IdempotencyKey: "purchase:" + batch.ID.String(),
			BusinessDate:   types.DateOf(batch.ReceivedAt, req.Location),
			LineNo:         1,
			CreatedAt:      batch.CreatedAt,
		}})
		if err != nil {
			return fmt.Errorf("insert purchase movement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "received stock batch",
		"batch_id", batch.ID,
		"ingredient_id", batch.IngredientID,
		"quantity", batch.ReceivedQty.String(),
		"unit_cost", batch.UnitCost.String(),
	)
	return batch, nil
}

// WasteRequest writes off stock FIFO. Wastage never triggers backfill.
type WasteRequest struct {
	BranchID     id.ID
	IngredientID id.ID
	Quantity     types.Quantity
	At           time.Time
	Reason       string
	Location     *time.Location
}

// Waste depletes batches FIFO and records WASTAGE movements. Fails with
// INSUFFICIENT_STOCK when not enough stock is available at At.
func (s *Service) Waste(ctx context.Context, req WasteRequest, maxRetries int) ([]entity.StockMovement, error) {
	wasteID := id.New()
	var out []entity.StockMovement
	for attempt := 0; ; attempt++ {
		err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			plan, err := s.allocator.TryAllocate(ctx, req.BranchID, req.IngredientID, req.Quantity, req.At)
			if err != nil {
				return err
			}
			if err := s.allocator.Commit(ctx, plan); err != nil {
				return err
			}
			now := time.Now().UTC()
			out = out[:0]
			for i, e := range plan.Entries {
				out = append(out, entity.StockMovement{
					ID:             id.New(),
					BranchID:       req.BranchID,
					IngredientID:   req.IngredientID,
					Type:           entity.MovementWastage,
					Quantity:       e.Quantity.Neg(),
					UnitCost:       e.UnitCost,
					BatchID:        e.BatchID,
					SourceRef:      req.Reason,
					IdempotencyKey: "wastage:" + wasteID.String(),
					BusinessDate:   types.DateOf(req.At, req.Location),
					LineNo:         i + 1,
					CreatedAt:      now,
				})
			}
			_, err = s.movements.InsertMovements(ctx, out)
			return err
		})
		if apperror.IsConcurrentModification(err) && attempt < maxRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// CheckIngredient verifies Σ remaining == Σ signed movements for one
// (branch, ingredient). Returns LEDGER_INCONSISTENCY on mismatch.
func (s *Service) CheckIngredient(ctx context.Context, branchID, ingredientID id.ID) error {
	remaining, err := s.repo.SumRemaining(ctx, branchID, ingredientID)
	if err != nil {
		return fmt.Errorf("sum remaining: %w", err)
	}
	signed, err := s.movements.SumSigned(ctx, branchID, ingredientID)
	if err != nil {
		return fmt.Errorf("sum movements: %w", err)
	}
	if remaining != signed {
		return apperror.NewLedgerInconsistency(ingredientID, remaining.String(), signed.String())
	}
	return nil
}

// ConsistencyRow is one line of a consistency report.
type ConsistencyRow struct {
	IngredientID id.ID          `json:"ingredientId"`
	Remaining    types.Quantity `json:"remaining"`
	Movements    types.Quantity `json:"movements"`
	Consistent   bool           `json:"consistent"`
}

// ConsistencyReport checks every ingredient of a branch. Batches and
// movements are read from one snapshot.
func (s *Service) ConsistencyReport(ctx context.Context, branchID id.ID) ([]ConsistencyRow, error) {
	var rows []ConsistencyRow
	err := tx.ReadOnly(ctx, s.txManager, func(ctx context.Context) error {
		var err error
		rows, err = s.consistencyReport(ctx, branchID)
		return err
	})
	return rows, err
}

func (s *Service) consistencyReport(ctx context.Context, branchID id.ID) ([]ConsistencyRow, error) {
	withBatches, err := s.repo.IngredientsWithBatches(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	withMovements, err := s.movements.IngredientsWithMovements(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}

	seen := make(map[id.ID]bool)
	var ids []id.ID
	for _, ing := range append(withBatches, withMovements...) {
		if !seen[ing] {
			seen[ing] = true
			ids = append(ids, ing)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	rows := make([]ConsistencyRow, 0, len(ids))
	for _, ing := range ids {
		remaining, err := s.repo.SumRemaining(ctx, branchID, ing)
		if err != nil {
			return nil, fmt.Errorf("sum remaining: %w", err)
		}
		signed, err := s.movements.SumSigned(ctx, branchID, ing)
		if err != nil {
			return nil, fmt.Errorf("sum movements: %w", err)
		}
		rows = append(rows, ConsistencyRow{
			IngredientID: ing,
			Remaining:    remaining,
			Movements:    signed,
			Consistent:   remaining == signed,
		})
	}
	return rows, nil
}
