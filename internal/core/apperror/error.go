// Package apperror provides structured error handling for the costing engine.
// Every domain failure that callers branch on is an AppError with a stable Code.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Infrastructure errors
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Validation errors
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"

	// Data quality (recovered per sale line)
	CodeRecipeMissing       = "RECIPE_MISSING"
	CodeUnitConversionError = "UNIT_CONVERSION_ERROR"
	CodeCycleDetected       = "CYCLE_DETECTED"

	// Ledger errors (unit-scoped)
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeLedgerInconsistency    = "LEDGER_INCONSISTENCY"
	CodeSourceChanged          = "SOURCE_CHANGED"
	CodeBlocked                = "BLOCKED_BY_EARLIER_FAILURE"
)

// AppError is the standard error type for the engine.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (ids, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error
func NewValidation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewNotFound creates a not found error
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewRecipeMissing reports a sold item without an active recipe.
func NewRecipeMissing(itemID any) *AppError {
	return &AppError{
		Code:    CodeRecipeMissing,
		Message: "no active recipe for item",
		Details: map[string]any{"item_id": itemID},
	}
}

// NewUnitConversion reports a recipe line whose unit cannot be normalized.
func NewUnitConversion(ingredientID any, from, to string) *AppError {
	return &AppError{
		Code:    CodeUnitConversionError,
		Message: fmt.Sprintf("no conversion from %q to %q", from, to),
		Details: map[string]any{"ingredient_id": ingredientID, "from_unit": from, "to_unit": to},
	}
}

// NewCycleDetected reports a composite recipe that refers back to itself.
func NewCycleDetected(ingredientID any) *AppError {
	return &AppError{
		Code:    CodeCycleDetected,
		Message: "composite recipe cycle detected",
		Details: map[string]any{"ingredient_id": ingredientID},
	}
}

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(ingredientID string, requested, available string) *AppError {
	return &AppError{
		Code:    CodeInsufficientStock,
		Message: "Insufficient stock",
		Details: map[string]any{
			"ingredient_id": ingredientID,
			"requested":     requested,
			"available":     available,
		},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeConcurrentModification,
		Message: "record was modified concurrently",
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewLedgerInconsistency is raised when batch remaining quantities no longer
// match the signed movement sum after a commit.
func NewLedgerInconsistency(ingredientID any, remaining, movements string) *AppError {
	return &AppError{
		Code:    CodeLedgerInconsistency,
		Message: "batch remaining quantity does not match movement ledger",
		Details: map[string]any{
			"ingredient_id": ingredientID,
			"sum_remaining": remaining,
			"sum_movements": movements,
		},
	}
}

// NewSourceChanged is returned when a recorded unit is reprocessed with
// different contributing sale lines. The day must be reset first.
func NewSourceChanged(recordedKey, currentKey string) *AppError {
	return &AppError{
		Code:    CodeSourceChanged,
		Message: "sale lines changed since the unit was recorded; reset the day to reprocess",
		Details: map[string]any{"recorded_key": recordedKey, "current_key": currentKey},
	}
}

// NewBlocked marks a unit skipped because an earlier date of the same
// ingredient failed in this run.
func NewBlocked(failedDate string) *AppError {
	return &AppError{
		Code:    CodeBlocked,
		Message: "blocked by failure on an earlier date",
		Details: map[string]any{"failed_date": failedDate},
	}
}

// NewInternal creates an internal error
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code of err, or CodeInternal.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool { return Is(err, CodeConcurrentModification) }

// IsLedgerInconsistency checks if error is CodeLedgerInconsistency
func IsLedgerInconsistency(err error) bool { return Is(err, CodeLedgerInconsistency) }
