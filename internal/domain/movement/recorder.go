package movement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/pkg/logger"
)

// IdempotencyKey is the deterministic key of a consumption unit:
// SHA-256 over branch, ingredient, date and the sorted source refs.
func IdempotencyKey(branchID, ingredientID id.ID, date types.Date, sourceRefs []string) string {
	refs := append([]string(nil), sourceRefs...)
	sort.Strings(refs)

	h := sha256.New()
	fmt.Fprintf(h, "consumption\x00%s\x00%s\x00%s", branchID, ingredientID, date)
	for _, r := range refs {
		h.Write([]byte{0})
		h.Write([]byte(r))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Recorder writes one CONSUMPTION movement per plan entry.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record writes the movement set for a committed plan. If the key already
// exists nothing is written and the stored rows are returned with created=false.
func (r *Recorder) Record(ctx context.Context, branchID, ingredientID id.ID, date types.Date, plan *ledger.Plan, sourceRefs []string) ([]entity.StockMovement, bool, error) {
	key := IdempotencyKey(branchID, ingredientID, date, sourceRefs)

	existing, err := r.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("get movements by key: %w", err)
	}
	if len(existing) > 0 {
		return existing, false, nil
	}
	if len(plan.Entries) == 0 {
		return nil, false, apperror.NewValidation("cannot record an empty plan")
	}

	sourceRef := strings.Join(sourceRefs, ",")
	now := time.Now().UTC()
	movements := make([]entity.StockMovement, 0, len(plan.Entries))
	for i, e := range plan.Entries {
		movements = append(movements, entity.StockMovement{
			ID:             id.New(),
			BranchID:       branchID,
			IngredientID:   ingredientID,
			Type:           entity.MovementConsumption,
			Quantity:       e.Quantity.Neg(),
			UnitCost:       e.UnitCost,
			BatchID:        e.BatchID,
			SourceRef:      sourceRef,
			IdempotencyKey: key,
			BusinessDate:   date,
			LineNo:         i + 1,
			CreatedAt:      now,
		})
	}

	created, err := r.repo.InsertMovements(ctx, movements)
	if err != nil {
		return nil, false, fmt.Errorf("insert movements: %w", err)
	}
	if !created {
		// Lost an insert race; the winner's rows are authoritative.
		existing, err := r.repo.GetByKey(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("get movements by key: %w", err)
		}
		return existing, false, nil
	}

	logger.Debug(ctx, "recorded consumption",
		"ingredient_id", ingredientID,
		"date", date.String(),
		"lines", len(movements),
		"idempotency_key", key,
	)
	return movements, true, nil
}
