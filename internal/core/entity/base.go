// Package entity provides the costing engine's persisted records.
//
// Every enumeration here is closed: values outside the declared constants
// are rejected by Valid and by the storage layer.
package entity

import (
	"context"
	"time"

	"costengine/internal/core/id"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without database access).
type Validatable interface {
	// Validate checks entity invariants.
	// Returns nil if valid, AppError with details otherwise.
	Validate(ctx context.Context) error
}

// Branch is a selling location. Business dates are evaluated in its timezone.
type Branch struct {
	ID             id.ID  `db:"id" json:"id"`
	OrganizationID id.ID  `db:"organization_id" json:"organizationId"`
	Code           string `db:"code" json:"code"`
	Name           string `db:"name" json:"name"`
	Timezone       string `db:"timezone" json:"timezone"`
}

// Location resolves the branch timezone, falling back to fallback (or UTC).
func (b *Branch) Location(fallback *time.Location) *time.Location {
	if b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

// Ingredient is a stock-keeping input measured in BaseUnit.
type Ingredient struct {
	ID             id.ID  `db:"id" json:"id"`
	OrganizationID id.ID  `db:"organization_id" json:"organizationId"`
	// BranchID is nil for organization-wide ingredients.
	BranchID *id.ID `db:"branch_id" json:"branchId,omitempty"`
	Code     string `db:"code" json:"code"`
	Name     string `db:"name" json:"name"`
	BaseUnit string `db:"base_unit" json:"baseUnit"`
	Active   bool   `db:"active" json:"active"`
}
