package entity

import (
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// FlagCode identifies a data-quality or audit condition. Closed enumeration.
type FlagCode string

const (
	FlagRecipeMissing         FlagCode = "RECIPE_MISSING"
	FlagUnitConversionError   FlagCode = "UNIT_CONVERSION_ERROR"
	FlagCycleDetected         FlagCode = "CYCLE_DETECTED"
	FlagInvalidRecipeLine     FlagCode = "INVALID_RECIPE_LINE"
	FlagRecipeUnconfirmed     FlagCode = "RECIPE_UNCONFIRMED"
	FlagBackfillUsed          FlagCode = "BACKFILL_USED"
	FlagBackfillNoCostHistory FlagCode = "BACKFILL_NO_COST_HISTORY"
)

// Severity is informational for audit flags and warning for data problems.
func (c FlagCode) Severity() string {
	switch c {
	case FlagBackfillUsed, FlagRecipeUnconfirmed:
		return "info"
	}
	return "warning"
}

// Flag is a structured data-quality record surfaced in run summaries.
type Flag struct {
	Code         FlagCode       `json:"code"`
	BranchID     id.ID          `json:"branchId"`
	Date         types.Date     `json:"date"`
	ItemID       *id.ID         `json:"itemId,omitempty"`
	IngredientID *id.ID         `json:"ingredientId,omitempty"`
	SourceRef    string         `json:"sourceRef,omitempty"`
	Quantity     types.Quantity `json:"quantity,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// ForIngredient returns a copy of f scoped to ingredientID.
func (f Flag) ForIngredient(ingredientID id.ID) Flag {
	f.IngredientID = &ingredientID
	return f
}
