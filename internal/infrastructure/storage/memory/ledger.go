package memory

import (
	"context"
	"sort"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/backfill"
	"costengine/internal/domain/ledger"
)

var (
	_ ledger.Repository          = (*Store)(nil)
	_ backfill.ReceiptRepository = (*Store)(nil)
)

func (s *Store) ListEligibleBatches(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) ([]entity.StockBatch, error) {
	var out []entity.StockBatch
	s.read(ctx, func(st *State) {
		for _, b := range st.Batches {
			if b.BranchID == branchID && b.IngredientID == ingredientID &&
				b.RemainingQty.IsPositive() && !b.ReceivedAt.After(asOf) {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return entity.FIFOLess(&out[i], &out[j]) })
	return out, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID id.ID) (*entity.StockBatch, error) {
	var (
		b  entity.StockBatch
		ok bool
	)
	s.read(ctx, func(st *State) { b, ok = st.Batches[batchID] })
	if !ok {
		return nil, apperror.NewNotFound("stock batch", batchID)
	}
	return &b, nil
}

func (s *Store) SumRemaining(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error) {
	var total types.Quantity
	s.read(ctx, func(st *State) {
		for _, b := range st.Batches {
			if b.BranchID == branchID && b.IngredientID == ingredientID {
				total += b.RemainingQty
			}
		}
	})
	return total, nil
}

// ListBatches returns all batches of (branch, ingredient) in FIFO order.
func (s *Store) ListBatches(ctx context.Context, branchID, ingredientID id.ID) ([]entity.StockBatch, error) {
	var out []entity.StockBatch
	s.read(ctx, func(st *State) {
		for _, b := range st.Batches {
			if b.BranchID == branchID && b.IngredientID == ingredientID {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return entity.FIFOLess(&out[i], &out[j]) })
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch *entity.StockBatch) error {
	if batch.RemainingQty < 0 || batch.RemainingQty > batch.ReceivedQty {
		return apperror.NewValidation("batch remaining quantity out of range")
	}
	return s.write(ctx, func(st *State) error {
		if _, exists := st.Batches[batch.ID]; exists {
			return apperror.NewValidation("stock batch already exists").WithDetail("id", batch.ID)
		}
		if batch.Version == 0 {
			batch.Version = 1
		}
		st.Batches[batch.ID] = *batch
		return nil
	})
}

func (s *Store) ApplyDepletion(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int) error {
	if !qty.IsPositive() {
		return apperror.NewValidation("depletion quantity must be positive")
	}
	return s.write(ctx, func(st *State) error {
		b, ok := st.Batches[batchID]
		if !ok {
			return apperror.NewNotFound("stock batch", batchID)
		}
		if b.Version != expectedVersion || b.RemainingQty < qty {
			return apperror.NewConcurrentModification("stock batch", batchID)
		}
		b.RemainingQty -= qty
		b.Version++
		st.Batches[batchID] = b
		return nil
	})
}

func (s *Store) RestoreDepletion(ctx context.Context, batchID id.ID, qty types.Quantity) error {
	return s.write(ctx, func(st *State) error {
		b, ok := st.Batches[batchID]
		if !ok {
			return apperror.NewNotFound("stock batch", batchID)
		}
		if b.RemainingQty+qty > b.ReceivedQty {
			return apperror.NewValidation("restore exceeds received quantity").WithDetail("batch_id", batchID)
		}
		b.RemainingQty += qty
		b.Version++
		st.Batches[batchID] = b
		return nil
	})
}

func (s *Store) DeleteBatches(ctx context.Context, batchIDs []id.ID) error {
	return s.write(ctx, func(st *State) error {
		for _, b := range batchIDs {
			delete(st.Batches, b)
		}
		return nil
	})
}

func (s *Store) LatestUnitCost(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (*types.Money, error) {
	var latest *entity.StockBatch
	s.read(ctx, func(st *State) {
		for _, b := range st.Batches {
			if b.BranchID != branchID || b.IngredientID != ingredientID || b.Synthetic || b.ReceivedAt.After(asOf) {
				continue
			}
			if latest == nil || entity.FIFOLess(latest, &b) {
				b := b
				latest = &b
			}
		}
	})
	if latest == nil {
		return nil, nil
	}
	cost := latest.UnitCost
	return &cost, nil
}

func (s *Store) IngredientsWithBatches(ctx context.Context, branchID id.ID) ([]id.ID, error) {
	seen := make(map[id.ID]bool)
	s.read(ctx, func(st *State) {
		for _, b := range st.Batches {
			if b.BranchID == branchID {
				seen[b.IngredientID] = true
			}
		}
	})
	return sortedIDs(seen), nil
}

func (s *Store) CreateReceipt(ctx context.Context, receipt *entity.BackfillReceipt) error {
	return s.write(ctx, func(st *State) error {
		st.Receipts[receipt.ID] = *receipt
		return nil
	})
}

func (s *Store) ListReceiptsFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.BackfillReceipt, error) {
	var out []entity.BackfillReceipt
	s.read(ctx, func(st *State) {
		for _, r := range st.Receipts {
			if r.BranchID == branchID && !r.BusinessDate.Before(from) {
				out = append(out, r)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) DeleteReceipts(ctx context.Context, receiptIDs []id.ID) error {
	return s.write(ctx, func(st *State) error {
		for _, r := range receiptIDs {
			delete(st.Receipts, r)
		}
		return nil
	})
}

func sortedIDs(set map[id.ID]bool) []id.ID {
	out := make([]id.ID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
