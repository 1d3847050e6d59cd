// Package recipe resolves sold items and their options into base-unit
// ingredient requirements.
package recipe

import (
	"context"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
)

// Repository provides read access to recipe definitions.
type Repository interface {
	// GetIngredient returns apperror NotFound when the ingredient is unknown.
	GetIngredient(ctx context.Context, ingredientID id.ID) (*entity.Ingredient, error)

	// FindActiveRecipe returns the active recipe for target, or nil when none exists.
	FindActiveRecipe(ctx context.Context, target entity.RecipeTarget) (*entity.Recipe, error)

	// FindConversion returns a direct from -> to conversion, preferring one
	// scoped to ingredientID over a global one. Nil when none exists.
	FindConversion(ctx context.Context, ingredientID id.ID, from, to string) (*entity.UnitConversion, error)
}
