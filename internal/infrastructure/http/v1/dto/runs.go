// Package dto provides the request bodies of the costing API.
package dto

import (
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/run"
)

// RunRequest starts a run over branches and an inclusive date range.
type RunRequest struct {
	BranchIDs []id.ID    `json:"branchIds" binding:"required,min=1"`
	From      types.Date `json:"from"`
	To        types.Date `json:"to"`
}

// ToRequest converts to the engine request; the engine validates the range.
func (r RunRequest) ToRequest() run.Request {
	return run.Request{BranchIDs: r.BranchIDs, From: r.From, To: r.To}
}

// RetryRequest retries FAILED units. No branches means all branches.
type RetryRequest struct {
	BranchIDs []id.ID `json:"branchIds"`
}

// ResetConfirmation must be sent to perform a reset that is not a dry run.
const ResetConfirmation = "RESET"

// ResetRequest resets a branch from a date. DryRun defaults to true.
type ResetRequest struct {
	From    types.Date `json:"from"`
	DryRun  *bool      `json:"dryRun"`
	Confirm string     `json:"confirm"`
}

// IsDryRun reports whether the reset must only be counted.
func (r ResetRequest) IsDryRun() bool {
	return r.DryRun == nil || *r.DryRun
}
