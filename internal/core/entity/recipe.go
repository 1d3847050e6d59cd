package entity

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// TargetKind is what a recipe produces.
type TargetKind string

const (
	TargetItem       TargetKind = "ITEM"
	TargetOption     TargetKind = "OPTION"
	TargetIngredient TargetKind = "INGREDIENT" // composite (prepared) ingredient
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetItem, TargetOption, TargetIngredient:
		return true
	}
	return false
}

// RecipeTarget identifies the sellable item, option or composite ingredient.
type RecipeTarget struct {
	Kind TargetKind `db:"target_kind" json:"kind"`
	ID   id.ID      `db:"target_id" json:"id"`
}

func (t RecipeTarget) String() string { return fmt.Sprintf("%s:%s", t.Kind, t.ID) }

// Recipe is a bill of materials for one target.
type Recipe struct {
	ID     id.ID        `db:"id" json:"id"`
	Target RecipeTarget `json:"target"`
	Name   string       `db:"name" json:"name"`
	Active bool         `db:"active" json:"active"`

	// YieldQty is how many base units of a composite ingredient one run of
	// the recipe produces. Ignored for items and options.
	YieldQty types.Quantity `db:"yield_qty" json:"yieldQty"`

	// NeedsConfirmation marks generic mappings that an operator should review.
	NeedsConfirmation bool `db:"needs_confirmation" json:"needsConfirmation"`

	Lines []RecipeLine `json:"lines"`
}

// RecipeLine is one ingredient requirement expressed in its input unit.
type RecipeLine struct {
	LineNo       int            `db:"line_no" json:"lineNo"`
	IngredientID id.ID          `db:"ingredient_id" json:"ingredientId"`
	InputQty     types.Quantity `db:"input_qty" json:"inputQty"`
	InputUnit    string         `db:"input_unit" json:"inputUnit"`
	// BaseQty is InputQty normalized to the ingredient base unit.
	// Filled by the resolver; always > 0 once normalized.
	BaseQty types.Quantity `db:"base_qty" json:"baseQty"`
}

// Validate checks recipe structure.
func (r *Recipe) Validate(_ context.Context) error {
	if !r.Target.Kind.Valid() {
		return apperror.NewValidation("invalid recipe target kind").WithDetail("kind", string(r.Target.Kind))
	}
	if r.Target.Kind == TargetIngredient && !r.YieldQty.IsPositive() {
		return apperror.NewValidation("composite recipe requires positive yield").WithDetail("recipe_id", r.ID)
	}
	for _, l := range r.Lines {
		if !l.InputQty.IsPositive() {
			return apperror.NewValidation("recipe line quantity must be positive").
				WithDetail("recipe_id", r.ID).
				WithDetail("line_no", l.LineNo)
		}
	}
	return nil
}

// UnitConversion converts FromUnit to ToUnit: qty(to) = qty(from) × Factor.
// IngredientID narrows the conversion to one ingredient (e.g. PCS → G).
type UnitConversion struct {
	IngredientID *id.ID          `db:"ingredient_id" json:"ingredientId,omitempty"`
	FromUnit     string          `db:"from_unit" json:"fromUnit"`
	ToUnit       string          `db:"to_unit" json:"toUnit"`
	Factor       decimal.Decimal `db:"factor" json:"factor"`
}
