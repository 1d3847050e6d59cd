package memory

import (
	"context"
	"sort"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/movement"
)

var _ movement.Repository = (*Store)(nil)

func (s *Store) InsertMovements(ctx context.Context, movements []entity.StockMovement) (bool, error) {
	if len(movements) == 0 {
		return false, apperror.NewValidation("no movements to insert")
	}
	key := movements[0].IdempotencyKey
	for _, m := range movements {
		if m.IdempotencyKey != key {
			return false, apperror.NewValidation("movement set must share one idempotency key")
		}
		if !m.Type.Valid() {
			return false, apperror.NewValidation("invalid movement type").WithDetail("type", m.Type)
		}
	}

	inserted := false
	err := s.write(ctx, func(st *State) error {
		for _, m := range st.Movements {
			if m.IdempotencyKey == key {
				return nil
			}
		}
		st.Movements = append(st.Movements, movements...)
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) SumSigned(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error) {
	var total types.Quantity
	s.read(ctx, func(st *State) {
		for _, m := range st.Movements {
			if m.BranchID == branchID && m.IngredientID == ingredientID {
				total += m.Quantity
			}
		}
	})
	return total, nil
}

func (s *Store) IngredientsWithMovements(ctx context.Context, branchID id.ID) ([]id.ID, error) {
	seen := make(map[id.ID]bool)
	s.read(ctx, func(st *State) {
		for _, m := range st.Movements {
			if m.BranchID == branchID {
				seen[m.IngredientID] = true
			}
		}
	})
	return sortedIDs(seen), nil
}

func (s *Store) GetByKey(ctx context.Context, key string) ([]entity.StockMovement, error) {
	var out []entity.StockMovement
	s.read(ctx, func(st *State) {
		for _, m := range st.Movements {
			if m.IdempotencyKey == key {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LineNo < out[j].LineNo })
	return out, nil
}

func (s *Store) ListByDate(ctx context.Context, branchID id.ID, date types.Date, movementTypes ...entity.MovementType) ([]entity.StockMovement, error) {
	wanted := make(map[entity.MovementType]bool, len(movementTypes))
	for _, t := range movementTypes {
		wanted[t] = true
	}
	var out []entity.StockMovement
	s.read(ctx, func(st *State) {
		for _, m := range st.Movements {
			if m.BranchID != branchID || !m.BusinessDate.Equal(date) {
				continue
			}
			if len(wanted) > 0 && !wanted[m.Type] {
				continue
			}
			out = append(out, m)
		}
	})
	sortMovements(out)
	return out, nil
}

func (s *Store) ListFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.StockMovement, error) {
	var out []entity.StockMovement
	s.read(ctx, func(st *State) {
		for _, m := range st.Movements {
			if m.BranchID == branchID && !m.BusinessDate.Before(from) {
				out = append(out, m)
			}
		}
	})
	sortMovements(out)
	return out, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []id.ID) error {
	if len(ids) == 0 {
		return nil
	}
	doomed := make(map[id.ID]bool, len(ids))
	for _, v := range ids {
		doomed[v] = true
	}
	return s.write(ctx, func(st *State) error {
		kept := st.Movements[:0:0]
		for _, m := range st.Movements {
			if !doomed[m.ID] {
				kept = append(kept, m)
			}
		}
		st.Movements = kept
		return nil
	})
}

// Movements returns every stored movement in insertion order.
func (s *Store) Movements(ctx context.Context) []entity.StockMovement {
	var out []entity.StockMovement
	s.read(ctx, func(st *State) {
		out = append(out, st.Movements...)
	})
	return out
}

func sortMovements(ms []entity.StockMovement) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.BusinessDate.Equal(b.BusinessDate) {
			return a.BusinessDate.Before(b.BusinessDate)
		}
		if a.IngredientID != b.IngredientID {
			return a.IngredientID.String() < b.IngredientID.String()
		}
		if a.IdempotencyKey != b.IdempotencyKey {
			return a.IdempotencyKey < b.IdempotencyKey
		}
		return a.LineNo < b.LineNo
	})
}
