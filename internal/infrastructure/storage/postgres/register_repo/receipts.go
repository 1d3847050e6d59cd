package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/backfill"
	"costengine/internal/infrastructure/storage/postgres"
)

const backfillReceiptsTable = "backfill_receipts"

var receiptColumns = postgres.ExtractDBColumns[entity.BackfillReceipt]()

// ReceiptRepo implements backfill.ReceiptRepository.
type ReceiptRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ backfill.ReceiptRepository = (*ReceiptRepo)(nil)

// NewReceiptRepo creates a new backfill receipt repository.
func NewReceiptRepo(txManager *postgres.TxManager) *ReceiptRepo {
	return &ReceiptRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *ReceiptRepo) CreateReceipt(ctx context.Context, receipt *entity.BackfillReceipt) error {
	values := postgres.StructToMap(receipt)
	values["quantity"] = receipt.Quantity.Int64Scaled()
	sql, args, err := r.builder.Insert(backfillReceiptsTable).SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert backfill receipt: %w", err)
	}
	return nil
}

func (r *ReceiptRepo) ListReceiptsFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.BackfillReceipt, error) {
	sql, args, err := r.builder.Select(receiptColumns...).From(backfillReceiptsTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		Where(squirrel.GtOrEq{"business_date": from}).
		OrderBy("number").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var receipts []entity.BackfillReceipt
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &receipts, sql, args...); err != nil {
		return nil, fmt.Errorf("list backfill receipts: %w", err)
	}
	return receipts, nil
}

func (r *ReceiptRepo) DeleteReceipts(ctx context.Context, receiptIDs []id.ID) error {
	if len(receiptIDs) == 0 {
		return nil
	}
	sql, args, err := r.builder.Delete(backfillReceiptsTable).Where(squirrel.Eq{"id": receiptIDs}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete backfill receipts: %w", err)
	}
	return nil
}
