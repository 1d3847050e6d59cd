package ledger

import (
	"context"
	"fmt"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
)

// PlanEntry takes Quantity from one batch at its unit cost. Version is the
// batch version observed when the plan was computed.
type PlanEntry struct {
	BatchID    id.ID          `json:"batchId"`
	Quantity   types.Quantity `json:"quantity"`
	UnitCost   types.Money    `json:"unitCost"`
	Version    int            `json:"version"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Synthetic  bool           `json:"synthetic"`
}

// Plan is the read-only result of TryAllocate.
type Plan struct {
	BranchID     id.ID          `json:"branchId"`
	IngredientID id.ID          `json:"ingredientId"`
	Required     types.Quantity `json:"required"`
	AsOf         time.Time      `json:"asOf"`
	Entries      []PlanEntry    `json:"entries"`
	Shortfall    types.Quantity `json:"shortfall"`
}

// Allocated returns Σ entry quantities.
func (p *Plan) Allocated() types.Quantity {
	var total types.Quantity
	for _, e := range p.Entries {
		total += e.Quantity
	}
	return total
}

// TotalCost returns Σ quantity × unit cost.
func (p *Plan) TotalCost() types.Money {
	total := types.Zero()
	for _, e := range p.Entries {
		total = total.Add(e.Quantity.Cost(e.UnitCost))
	}
	return total
}

// Allocator selects batches oldest first and owns the only write path to
// remaining quantities.
type Allocator struct {
	repo      Repository
	txManager tx.Manager
}

// NewAllocator creates an allocator.
func NewAllocator(repo Repository, txManager tx.Manager) *Allocator {
	return &Allocator{repo: repo, txManager: txManager}
}

// AvailableStock sums remaining quantity over batches received on or before asOf.
func (a *Allocator) AvailableStock(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (types.Quantity, error) {
	batches, err := a.repo.ListEligibleBatches(ctx, branchID, ingredientID, asOf)
	if err != nil {
		return 0, fmt.Errorf("list eligible batches: %w", err)
	}
	var total types.Quantity
	for _, b := range batches {
		total += b.RemainingQty
	}
	return total, nil
}

// TryAllocate builds a FIFO plan for qty without writing anything.
// Unmet demand is returned as Shortfall.
func (a *Allocator) TryAllocate(ctx context.Context, branchID, ingredientID id.ID, qty types.Quantity, asOf time.Time) (*Plan, error) {
	if !qty.IsPositive() {
		return nil, apperror.NewValidation("allocation quantity must be positive").WithDetail("quantity", qty.String())
	}
	batches, err := a.repo.ListEligibleBatches(ctx, branchID, ingredientID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list eligible batches: %w", err)
	}

	plan := &Plan{BranchID: branchID, IngredientID: ingredientID, Required: qty, AsOf: asOf}
	need := qty
	for _, b := range batches {
		if need.IsZero() {
			break
		}
		if !b.RemainingQty.IsPositive() {
			continue
		}
		take := types.MinQuantity(need, b.RemainingQty)
		plan.Entries = append(plan.Entries, PlanEntry{
			BatchID:    b.ID,
			Quantity:   take,
			UnitCost:   b.UnitCost,
			Version:    b.Version,
			ReceivedAt: b.ReceivedAt,
			Synthetic:  b.Synthetic,
		})
		need -= take
	}
	plan.Shortfall = need
	return plan, nil
}

// Commit applies a fully satisfied plan in one transaction. A batch changed
// since the plan was computed aborts the commit with CONCURRENT_MODIFICATION;
// the caller recomputes the plan and retries.
func (a *Allocator) Commit(ctx context.Context, plan *Plan) error {
	if plan.Shortfall.IsPositive() {
		return apperror.NewInsufficientStock(plan.IngredientID.String(), plan.Required.String(), plan.Allocated().String())
	}
	return a.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, e := range plan.Entries {
			if err := a.repo.ApplyDepletion(ctx, e.BatchID, e.Quantity, e.Version); err != nil {
				return err
			}
		}
		return nil
	})
}
