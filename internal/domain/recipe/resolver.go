package recipe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Component is one ingredient requirement in base units for a single unit sold.
type Component struct {
	IngredientID id.ID
	BaseQty      types.Quantity
}

// Issue is a recovered data-quality problem found while resolving.
type Issue struct {
	Code         entity.FlagCode
	IngredientID *id.ID
	Err          error
}

// Resolver maps a sold item plus options to ingredient components.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve merges the item recipe with option recipes.
//
// An option line for an ingredient present in the item recipe replaces that
// quantity, and the last such option wins. Any other option line is added. A missing item recipe yields no
// components and a single RECIPE_MISSING issue. Lines that cannot be
// normalized are dropped with an issue while the rest still resolve.
// Components are returned sorted by ingredient id.
func (r *Resolver) Resolve(ctx context.Context, itemID id.ID, options []id.ID) ([]Component, []Issue, error) {
	base, err := r.repo.FindActiveRecipe(ctx, entity.RecipeTarget{Kind: entity.TargetItem, ID: itemID})
	if err != nil {
		return nil, nil, fmt.Errorf("find item recipe: %w", err)
	}
	if base == nil {
		return nil, []Issue{{Code: entity.FlagRecipeMissing, Err: apperror.NewRecipeMissing(itemID)}}, nil
	}

	var issues []Issue
	totals := make(map[id.ID]types.Quantity)
	fromBase := make(map[id.ID]bool)
	add := func(m map[id.ID]types.Quantity, ingID id.ID, qty types.Quantity) {
		sum, err := m[ingID].Add(qty)
		if err != nil {
			issues = append(issues, Issue{Code: entity.FlagInvalidRecipeLine, IngredientID: &ingID, Err: err})
			return
		}
		m[ingID] = sum
	}

	if base.NeedsConfirmation {
		issues = append(issues, Issue{Code: entity.FlagRecipeUnconfirmed, Err: fmt.Errorf("recipe %s needs confirmation", base.ID)})
	}

	baseComps, baseIssues, err := r.expandRecipe(ctx, base)
	if err != nil {
		return nil, nil, err
	}
	issues = append(issues, baseIssues...)
	for _, c := range baseComps {
		add(totals, c.IngredientID, c.BaseQty)
		fromBase[c.IngredientID] = true
	}

	for _, optID := range options {
		opt, err := r.repo.FindActiveRecipe(ctx, entity.RecipeTarget{Kind: entity.TargetOption, ID: optID})
		if err != nil {
			return nil, nil, fmt.Errorf("find option recipe: %w", err)
		}
		if opt == nil {
			// Options without a recipe (e.g. "no ice") consume nothing.
			continue
		}
		if opt.NeedsConfirmation {
			issues = append(issues, Issue{Code: entity.FlagRecipeUnconfirmed, Err: fmt.Errorf("recipe %s needs confirmation", opt.ID)})
		}
		optComps, optIssues, err := r.expandRecipe(ctx, opt)
		if err != nil {
			return nil, nil, err
		}
		issues = append(issues, optIssues...)
		optTotals := make(map[id.ID]types.Quantity, len(optComps))
		for _, c := range optComps {
			add(optTotals, c.IngredientID, c.BaseQty)
		}
		for ingID, qty := range optTotals {
			if fromBase[ingID] {
				// Base quantity is replaced, so a later option replaces an earlier one.
				totals[ingID] = qty
				continue
			}
			add(totals, ingID, qty)
		}
	}

	out := make([]Component, 0, len(totals))
	for ingID, qty := range totals {
		if qty.IsZero() {
			continue
		}
		out = append(out, Component{IngredientID: ingID, BaseQty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngredientID.String() < out[j].IngredientID.String() })
	return out, issues, nil
}

// expandRecipe normalizes every line of rec, expanding composite ingredients.
// Lines of the same ingredient are summed.
func (r *Resolver) expandRecipe(ctx context.Context, rec *entity.Recipe) ([]Component, []Issue, error) {
	var (
		comps  []Component
		issues []Issue
	)
	for _, line := range rec.Lines {
		lineComps, err := r.expandLine(ctx, line, map[id.ID]bool{})
		if err != nil {
			issue, ok := toIssue(line.IngredientID, err)
			if !ok {
				return nil, nil, err
			}
			issues = append(issues, issue)
			continue
		}
		comps = append(comps, lineComps...)
	}
	return comps, issues, nil
}

// expandLine normalizes one line and, when the ingredient is composite,
// replaces it by its sub-recipe scaled by yield. The whole line fails if
// any sub-line fails, so a composite is never partially consumed.
func (r *Resolver) expandLine(ctx context.Context, line entity.RecipeLine, path map[id.ID]bool) ([]Component, error) {
	if path[line.IngredientID] {
		return nil, apperror.NewCycleDetected(line.IngredientID)
	}
	baseQty, err := r.Normalize(ctx, line)
	if err != nil {
		return nil, err
	}

	sub, err := r.repo.FindActiveRecipe(ctx, entity.RecipeTarget{Kind: entity.TargetIngredient, ID: line.IngredientID})
	if err != nil {
		return nil, fmt.Errorf("find composite recipe: %w", err)
	}
	if sub == nil {
		return []Component{{IngredientID: line.IngredientID, BaseQty: baseQty}}, nil
	}
	if !sub.YieldQty.IsPositive() {
		return nil, apperror.NewValidation("composite recipe requires positive yield").WithDetail("recipe_id", sub.ID)
	}

	path[line.IngredientID] = true
	defer delete(path, line.IngredientID)

	scale := baseQty.Decimal().DivRound(sub.YieldQty.Decimal(), 8)
	var out []Component
	for _, subLine := range sub.Lines {
		comps, err := r.expandLine(ctx, subLine, path)
		if err != nil {
			return nil, err
		}
		for _, c := range comps {
			qty, err := c.BaseQty.MulFactor(scale)
			if err != nil {
				return nil, overflow(subLine, err)
			}
			out = append(out, Component{IngredientID: c.IngredientID, BaseQty: qty})
		}
	}
	return out, nil
}

// Normalize converts a line quantity to the ingredient base unit.
// Tries the identity, then a direct conversion, then the inverse of the
// reverse conversion.
func (r *Resolver) Normalize(ctx context.Context, line entity.RecipeLine) (types.Quantity, error) {
	if !line.InputQty.IsPositive() {
		return 0, apperror.NewValidation("recipe line quantity must be positive").
			WithDetail("ingredient_id", line.IngredientID).
			WithDetail("line_no", line.LineNo)
	}
	ing, err := r.repo.GetIngredient(ctx, line.IngredientID)
	if err != nil {
		return 0, err
	}

	from := strings.ToUpper(strings.TrimSpace(line.InputUnit))
	to := strings.ToUpper(strings.TrimSpace(ing.BaseUnit))
	if from == "" || from == to {
		return line.InputQty, nil
	}

	conv, err := r.repo.FindConversion(ctx, ing.ID, from, to)
	if err != nil {
		return 0, fmt.Errorf("find conversion: %w", err)
	}
	if conv != nil && conv.Factor.IsPositive() {
		q, err := line.InputQty.MulFactor(conv.Factor)
		if err != nil {
			return 0, overflow(line, err)
		}
		return checkPositive(line, q)
	}

	inv, err := r.repo.FindConversion(ctx, ing.ID, to, from)
	if err != nil {
		return 0, fmt.Errorf("find conversion: %w", err)
	}
	if inv != nil && inv.Factor.IsPositive() {
		q, err := line.InputQty.DivFactor(inv.Factor)
		if err != nil {
			return 0, overflow(line, err)
		}
		return checkPositive(line, q)
	}

	return 0, apperror.NewUnitConversion(ing.ID, from, to)
}

// checkPositive rejects conversions that round a positive input down to zero.
func checkPositive(line entity.RecipeLine, q types.Quantity) (types.Quantity, error) {
	if !q.IsPositive() {
		return 0, apperror.NewValidation("normalized quantity rounds to zero").
			WithDetail("ingredient_id", line.IngredientID).
			WithDetail("line_no", line.LineNo)
	}
	return q, nil
}

func overflow(line entity.RecipeLine, err error) error {
	return apperror.NewValidation("normalized quantity out of range").
		WithDetail("ingredient_id", line.IngredientID).
		WithDetail("line_no", line.LineNo).
		WithCause(err)
}

func toIssue(ingredientID id.ID, err error) (Issue, bool) {
	ing := ingredientID
	switch apperror.CodeOf(err) {
	case apperror.CodeUnitConversionError:
		return Issue{Code: entity.FlagUnitConversionError, IngredientID: &ing, Err: err}, true
	case apperror.CodeCycleDetected:
		return Issue{Code: entity.FlagCycleDetected, IngredientID: &ing, Err: err}, true
	case apperror.CodeValidation, apperror.CodeNotFound:
		return Issue{Code: entity.FlagInvalidRecipeLine, IngredientID: &ing, Err: err}, true
	}
	return Issue{}, false
}
