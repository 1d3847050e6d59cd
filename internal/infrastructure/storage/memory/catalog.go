package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/recipe"
)

var (
	_ recipe.Repository      = (*Store)(nil)
	_ consumption.Repository = (*Store)(nil)
)

// PutBranch inserts or replaces a branch.
func (s *Store) PutBranch(ctx context.Context, b entity.Branch) error {
	return s.write(ctx, func(st *State) error {
		st.Branches[b.ID] = b
		return nil
	})
}

// PutIngredient inserts or replaces an ingredient.
func (s *Store) PutIngredient(ctx context.Context, ing entity.Ingredient) error {
	return s.write(ctx, func(st *State) error {
		st.Ingredients[ing.ID] = ing
		return nil
	})
}

// PutRecipe inserts or replaces a recipe after validating it.
func (s *Store) PutRecipe(ctx context.Context, r entity.Recipe) error {
	if err := r.Validate(ctx); err != nil {
		return err
	}
	r.Lines = append([]entity.RecipeLine(nil), r.Lines...)
	return s.write(ctx, func(st *State) error {
		st.Recipes[r.ID] = r
		return nil
	})
}

// PutConversion adds a unit conversion.
func (s *Store) PutConversion(ctx context.Context, c entity.UnitConversion) error {
	if !c.Factor.IsPositive() {
		return apperror.NewValidation("conversion factor must be positive")
	}
	c.FromUnit = strings.ToUpper(c.FromUnit)
	c.ToUnit = strings.ToUpper(c.ToUnit)
	return s.write(ctx, func(st *State) error {
		st.Conversions = append(st.Conversions, c)
		return nil
	})
}

// PutSaleLine inserts or replaces a sale line.
func (s *Store) PutSaleLine(ctx context.Context, l entity.SaleLine) error {
	l.Options = append([]id.ID(nil), l.Options...)
	return s.write(ctx, func(st *State) error {
		st.Sales[l.ID] = l
		return nil
	})
}

// SetSaleStatus changes the status of a sale line (e.g. a late void).
func (s *Store) SetSaleStatus(ctx context.Context, lineID id.ID, status string) error {
	return s.write(ctx, func(st *State) error {
		l, ok := st.Sales[lineID]
		if !ok {
			return apperror.NewNotFound("sale line", lineID)
		}
		l.Status = status
		st.Sales[lineID] = l
		return nil
	})
}

// ListBranches returns all branches ordered by code.
func (s *Store) ListBranches(ctx context.Context) ([]entity.Branch, error) {
	var out []entity.Branch
	s.read(ctx, func(st *State) {
		for _, b := range st.Branches {
			out = append(out, b)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetBranch(ctx context.Context, branchID id.ID) (*entity.Branch, error) {
	var (
		b  entity.Branch
		ok bool
	)
	s.read(ctx, func(st *State) { b, ok = st.Branches[branchID] })
	if !ok {
		return nil, apperror.NewNotFound("branch", branchID)
	}
	return &b, nil
}

func (s *Store) ListSaleLines(ctx context.Context, branchID id.ID, from, to time.Time) ([]entity.SaleLine, error) {
	var out []entity.SaleLine
	s.read(ctx, func(st *State) {
		for _, l := range st.Sales {
			if l.BranchID == branchID && !l.SoldAt.Before(from) && l.SoldAt.Before(to) {
				out = append(out, l)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SoldAt.Equal(out[j].SoldAt) {
			return out[i].SoldAt.Before(out[j].SoldAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetIngredient(ctx context.Context, ingredientID id.ID) (*entity.Ingredient, error) {
	var (
		ing entity.Ingredient
		ok  bool
	)
	s.read(ctx, func(st *State) { ing, ok = st.Ingredients[ingredientID] })
	if !ok {
		return nil, apperror.NewNotFound("ingredient", ingredientID)
	}
	return &ing, nil
}

// FindActiveRecipe picks the active recipe for target; ties go to the
// smallest id so the choice is stable.
func (s *Store) FindActiveRecipe(ctx context.Context, target entity.RecipeTarget) (*entity.Recipe, error) {
	var found *entity.Recipe
	s.read(ctx, func(st *State) {
		for _, r := range st.Recipes {
			if !r.Active || r.Target != target {
				continue
			}
			if found == nil || r.ID.String() < found.ID.String() {
				r := r
				found = &r
			}
		}
	})
	return found, nil
}

func (s *Store) FindConversion(ctx context.Context, ingredientID id.ID, from, to string) (*entity.UnitConversion, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	var scoped, global *entity.UnitConversion
	s.read(ctx, func(st *State) {
		for i := range st.Conversions {
			c := st.Conversions[i]
			if c.FromUnit != from || c.ToUnit != to {
				continue
			}
			switch {
			case c.IngredientID == nil:
				if global == nil {
					global = &c
				}
			case *c.IngredientID == ingredientID:
				if scoped == nil {
					scoped = &c
				}
			}
		}
	})
	if scoped != nil {
		return scoped, nil
	}
	return global, nil
}
