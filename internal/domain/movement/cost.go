package movement

import (
	"context"
	"fmt"
	"sort"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// IngredientCost is the consumption of one ingredient on a day.
type IngredientCost struct {
	IngredientID   id.ID          `json:"ingredientId"`
	Quantity       types.Quantity `json:"quantity"`
	Cost           types.Money    `json:"cost"`
	BackfilledQty  types.Quantity `json:"backfilledQty"`
	BackfilledCost types.Money    `json:"backfilledCost"`
}

// DailyCost is the per-branch/day summary handed to reconciliation.
type DailyCost struct {
	BranchID       id.ID            `json:"branchId"`
	Date           types.Date       `json:"date"`
	Quantity       types.Quantity   `json:"qty"`
	Cost           types.Money      `json:"cost"`
	BackfilledQty  types.Quantity   `json:"backfilledQty"`
	BackfilledCost types.Money      `json:"backfilledCost"`
	Lines          []IngredientCost `json:"lines"`
}

// CostAggregator sums recorded consumption.
type CostAggregator struct {
	repo Repository
}

// NewCostAggregator creates a cost aggregator.
func NewCostAggregator(repo Repository) *CostAggregator {
	return &CostAggregator{repo: repo}
}

// DailyCost sums |quantity| × unit cost over the branch's CONSUMPTION
// movements on date. Consumption drawn from batches created by that day's
// backfill receipts is reported separately as backfilled.
func (a *CostAggregator) DailyCost(ctx context.Context, branchID id.ID, date types.Date) (*DailyCost, error) {
	movements, err := a.repo.ListByDate(ctx, branchID, date, entity.MovementConsumption, entity.MovementBackfillReceipt)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}

	synthetic := make(map[id.ID]bool)
	for _, m := range movements {
		if m.Type == entity.MovementBackfillReceipt {
			synthetic[m.BatchID] = true
		}
	}

	out := &DailyCost{BranchID: branchID, Date: date, Cost: types.Zero(), BackfilledCost: types.Zero()}
	lines := make(map[id.ID]*IngredientCost)
	for i := range movements {
		m := &movements[i]
		if m.Type != entity.MovementConsumption {
			continue
		}
		line, ok := lines[m.IngredientID]
		if !ok {
			line = &IngredientCost{IngredientID: m.IngredientID, Cost: types.Zero(), BackfilledCost: types.Zero()}
			lines[m.IngredientID] = line
		}
		qty := m.Quantity.Abs()
		cost := m.Cost()
		line.Quantity += qty
		line.Cost = line.Cost.Add(cost)
		out.Quantity += qty
		out.Cost = out.Cost.Add(cost)
		if synthetic[m.BatchID] {
			line.BackfilledQty += qty
			line.BackfilledCost = line.BackfilledCost.Add(cost)
			out.BackfilledQty += qty
			out.BackfilledCost = out.BackfilledCost.Add(cost)
		}
	}

	out.Lines = make([]IngredientCost, 0, len(lines))
	for _, l := range lines {
		out.Lines = append(out.Lines, *l)
	}
	sort.Slice(out.Lines, func(i, j int) bool {
		return out.Lines[i].IngredientID.String() < out.Lines[j].IngredientID.String()
	})
	return out, nil
}
