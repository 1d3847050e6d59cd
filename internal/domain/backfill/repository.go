// Package backfill synthesizes receipts that cover stock shortfalls so that
// consumption never drives a batch negative.
package backfill

import (
	"context"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// ReceiptRepository stores synthetic backfill receipts.
type ReceiptRepository interface {
	CreateReceipt(ctx context.Context, receipt *entity.BackfillReceipt) error

	// ListReceiptsFrom returns the branch's receipts dated on or after from.
	ListReceiptsFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.BackfillReceipt, error)

	// DeleteReceipts removes receipts (reset only).
	DeleteReceipts(ctx context.Context, receiptIDs []id.ID) error
}
