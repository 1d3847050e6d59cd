package app

import (
	"context"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/domain/run"
)

const defaultAuditLimit = 20

// UnitAudit returns the allocation audits of a unit, newest first. A
// limit of zero or less means defaultAuditLimit.
func (a *App) UnitAudit(ctx context.Context, unit entity.UnitKey, limit int) ([]run.AllocationAudit, error) {
	h, ok := a.Stores.Audit.(run.AuditHistory)
	if !ok {
		return nil, apperror.NewValidation("audit history is not kept by this backend")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	return h.History(ctx, unit, limit)
}
