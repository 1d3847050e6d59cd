package backfill

import (
	"context"
	"fmt"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	corenumerator "costengine/internal/core/numerator"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/pkg/logger"
)

// Result is the output of one backfill.
type Result struct {
	Receipt entity.BackfillReceipt
	Batch   entity.StockBatch
	Flags   []entity.Flag
}

// Synthesizer creates one synthetic receipt and batch per shortfall.
type Synthesizer struct {
	batches      ledger.Repository
	movements    ledger.MovementLedger
	receipts     ReceiptRepository
	numerator    corenumerator.Generator
	fallbackCost types.Money
}

// NewSynthesizer creates a synthesizer. fallbackCost is used when the
// ingredient has no cost history at the branch.
func NewSynthesizer(
	batches ledger.Repository,
	movements ledger.MovementLedger,
	receipts ReceiptRepository,
	numerator corenumerator.Generator,
	fallbackCost types.Money,
) *Synthesizer {
	return &Synthesizer{
		batches:      batches,
		movements:    movements,
		receipts:     receipts,
		numerator:    numerator,
		fallbackCost: fallbackCost,
	}
}

// Backfill covers shortfall for (branch, ingredient) on date. The receipt is
// received at the start of the business day in loc so that it is eligible
// for every allocation of that day. Must run inside the unit transaction.
func (s *Synthesizer) Backfill(ctx context.Context, branchID, ingredientID id.ID, shortfall types.Quantity, date types.Date, loc *time.Location) (*Result, error) {
	if !shortfall.IsPositive() {
		return nil, apperror.NewValidation("backfill quantity must be positive").WithDetail("quantity", shortfall.String())
	}

	receivedAt := date.StartIn(loc)
	unitCost, source, err := s.unitCost(ctx, branchID, ingredientID, date.EndIn(loc))
	if err != nil {
		return nil, err
	}

	number, err := s.numerator.GetNextNumber(ctx, corenumerator.DefaultConfig(corenumerator.BackfillPrefix), nil, date.Time())
	if err != nil {
		return nil, fmt.Errorf("next backfill number: %w", err)
	}

	now := time.Now().UTC()
	receiptID := id.New()
	batch := entity.StockBatch{
		ID:           id.New(),
		BranchID:     branchID,
		IngredientID: ingredientID,
		ReceivedQty:  shortfall,
		RemainingQty: shortfall,
		UnitCost:     unitCost,
		ReceivedAt:   receivedAt,
		ReceiptID:    &receiptID,
		Synthetic:    true,
		Version:      1,
		CreatedAt:    now,
	}
	receipt := entity.BackfillReceipt{
		ID:           receiptID,
		Number:       number,
		BranchID:     branchID,
		IngredientID: ingredientID,
		BusinessDate: date,
		ReceivedAt:   receivedAt,
		Quantity:     shortfall,
		UnitCost:     unitCost,
		CostSource:   source,
		Synthetic:    true,
		BatchID:      batch.ID,
		CreatedAt:    now,
	}

	if err := s.batches.CreateBatch(ctx, &batch); err != nil {
		return nil, fmt.Errorf("create backfill batch: %w", err)
	}
	if err := s.receipts.CreateReceipt(ctx, &receipt); err != nil {
		return nil, fmt.Errorf("create backfill receipt: %w", err)
	}
	if _, err := s.movements.InsertMovements(ctx, []entity.StockMovement{{
		ID:             id.New(),
		BranchID:       branchID,
		IngredientID:   ingredientID,
		Type:           entity.MovementBackfillReceipt,
		Quantity:       shortfall,
		UnitCost:       unitCost,
		BatchID:        batch.ID,
		SourceRef:      number,
		IdempotencyKey: "backfill:" + receiptID.String(),
		BusinessDate:   date,
		LineNo:         1,
		CreatedAt:      now,
	}}); err != nil {
		return nil, fmt.Errorf("insert backfill movement: %w", err)
	}

	ing := ingredientID
	flags := []entity.Flag{{
		Code:         entity.FlagBackfillUsed,
		BranchID:     branchID,
		Date:         date,
		IngredientID: &ing,
		SourceRef:    number,
		Quantity:     shortfall,
		Message:      fmt.Sprintf("shortfall of %s covered by %s", shortfall, number),
	}}
	if source == entity.CostSourceFallback {
		flags = append(flags, entity.Flag{
			Code:         entity.FlagBackfillNoCostHistory,
			BranchID:     branchID,
			Date:         date,
			IngredientID: &ing,
			SourceRef:    number,
			Quantity:     shortfall,
			Message:      fmt.Sprintf("no cost history, fallback unit cost %s used", unitCost),
		})
	}

	logger.Info(ctx, "backfill receipt created",
		"number", number,
		"ingredient_id", ingredientID,
		"date", date.String(),
		"quantity", shortfall.String(),
		"unit_cost", unitCost.String(),
		"cost_source", string(source),
	)
	return &Result{Receipt: receipt, Batch: batch, Flags: flags}, nil
}

func (s *Synthesizer) unitCost(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (types.Money, entity.CostSource, error) {
	last, err := s.batches.LatestUnitCost(ctx, branchID, ingredientID, asOf)
	if err != nil {
		return types.Zero(), "", fmt.Errorf("latest unit cost: %w", err)
	}
	if last != nil {
		return *last, entity.CostSourceLastKnown, nil
	}
	return s.fallbackCost, entity.CostSourceFallback, nil
}
