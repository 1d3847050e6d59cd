// Package run orchestrates units of work: one lane per branch, dates in
// ascending order, ingredients in ascending id order.
package run

import (
	"context"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
)

// UnitStore persists unit outcomes.
type UnitStore interface {
	// GetUnit returns nil when the unit has never been attempted.
	GetUnit(ctx context.Context, key entity.UnitKey) (*entity.UnitRecord, error)
	// SaveUnit inserts or replaces the record for rec.UnitKey.
	SaveUnit(ctx context.Context, rec *entity.UnitRecord) error
	// ListFailed returns FAILED units for the given branches (all when empty),
	// ordered by (branch_id, business_date, ingredient_id).
	ListFailed(ctx context.Context, branchIDs []id.ID) ([]entity.UnitRecord, error)
	// DeleteUnit removes one unit record.
	DeleteUnit(ctx context.Context, key entity.UnitKey) error
	// DeleteUnitsFrom removes the branch's unit records dated on or after from.
	DeleteUnitsFrom(ctx context.Context, branchID id.ID, from types.Date) (int, error)
}

// Outbox publishes domain events in the caller's transaction.
type Outbox interface {
	Publish(ctx context.Context, events ...entity.DomainEvent) error
}

// AuditLog keeps the allocation plan of every recorded unit.
type AuditLog interface {
	SaveAllocation(ctx context.Context, entry AllocationAudit) error
}

// AuditHistory reads back the audit trail of a unit, newest first.
type AuditHistory interface {
	History(ctx context.Context, unit entity.UnitKey, limit int) ([]AllocationAudit, error)
}

// AllocationAudit is the audit payload of one recorded unit.
type AllocationAudit struct {
	RunID          string                  `json:"runId"`
	Unit           entity.UnitKey          `json:"unit"`
	IdempotencyKey string                  `json:"idempotencyKey"`
	SourceRefs     []string                `json:"sourceRefs"`
	Plan           *ledger.Plan            `json:"plan"`
	Backfill       *entity.BackfillReceipt `json:"backfill,omitempty"`
	Attempts       int                     `json:"attempts"`
	RecordedAt     time.Time               `json:"recordedAt"`
}

// Lock is a held lane lock.
type Lock interface {
	Release(ctx context.Context) error
}

// LaneLocker serializes lanes of the same branch across processes.
type LaneLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Metrics receives engine counters.
type Metrics interface {
	UnitFinished(status entity.UnitStatus, d time.Duration)
	UnitSkipped()
	BackfillCreated()
	ConflictRetried()
	FlagRaised(code entity.FlagCode)
}

type nopMetrics struct{}

func (nopMetrics) UnitFinished(entity.UnitStatus, time.Duration) {}
func (nopMetrics) UnitSkipped()                                  {}
func (nopMetrics) BackfillCreated()                              {}
func (nopMetrics) ConflictRetried()                              {}
func (nopMetrics) FlagRaised(entity.FlagCode)                    {}

type nopOutbox struct{}

func (nopOutbox) Publish(context.Context, ...entity.DomainEvent) error { return nil }

type nopAudit struct{}

func (nopAudit) SaveAllocation(context.Context, AllocationAudit) error { return nil }

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

type nopLocker struct{}

func (nopLocker) Obtain(context.Context, string, time.Duration) (Lock, error) { return nopLock{}, nil }
