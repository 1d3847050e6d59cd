// Package register_repo provides the PostgreSQL stock register: batches,
// movements and backfill receipts.
package register_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/infrastructure/storage/postgres"
)

const stockBatchesTable = "stock_batches"

var batchColumns = postgres.ExtractDBColumns[entity.StockBatch]()

// BatchRepo implements ledger.Repository.
type BatchRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ ledger.Repository = (*BatchRepo)(nil)

// NewBatchRepo creates a new stock batch repository.
func NewBatchRepo(txManager *postgres.TxManager) *BatchRepo {
	return &BatchRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// eligibleQuery selects batches with stock in FIFO order. No row locks:
// the version check in ApplyDepletion catches concurrent commits.
func (r *BatchRepo) eligibleQuery(branchID, ingredientID id.ID, asOf time.Time) squirrel.SelectBuilder {
	return r.builder.Select(batchColumns...).From(stockBatchesTable).
		Where(squirrel.Eq{"branch_id": branchID, "ingredient_id": ingredientID}).
		Where(squirrel.Gt{"remaining_qty": 0}).
		Where(squirrel.LtOrEq{"received_at": asOf}).
		OrderBy("received_at", "id")
}

func (r *BatchRepo) ListEligibleBatches(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) ([]entity.StockBatch, error) {
	sql, args, err := r.eligibleQuery(branchID, ingredientID, asOf).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var batches []entity.StockBatch
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("list eligible batches: %w", err)
	}
	return batches, nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, batchID id.ID) (*entity.StockBatch, error) {
	sql, args, err := r.builder.Select(batchColumns...).From(stockBatchesTable).
		Where(squirrel.Eq{"id": batchID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var batch entity.StockBatch
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &batch, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock batch", batchID)
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &batch, nil
}

func (r *BatchRepo) SumRemaining(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error) {
	sql, args, err := r.builder.Select("COALESCE(SUM(remaining_qty), 0)").From(stockBatchesTable).
		Where(squirrel.Eq{"branch_id": branchID, "ingredient_id": ingredientID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var total int64
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum remaining: %w", err)
	}
	return types.NewQuantityFromInt64Scaled(total), nil
}

func (r *BatchRepo) CreateBatch(ctx context.Context, batch *entity.StockBatch) error {
	if batch.RemainingQty < 0 || batch.RemainingQty > batch.ReceivedQty {
		return apperror.NewValidation("batch remaining quantity out of range")
	}
	if batch.Version == 0 {
		batch.Version = 1
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	values := postgres.StructToMap(batch)
	values["received_qty"] = batch.ReceivedQty.Int64Scaled()
	values["remaining_qty"] = batch.RemainingQty.Int64Scaled()

	sql, args, err := r.builder.Insert(stockBatchesTable).SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// depletionQuery is the compare-and-set update behind ApplyDepletion.
func (r *BatchRepo) depletionQuery(batchID id.ID, qty types.Quantity, expectedVersion int) squirrel.UpdateBuilder {
	return r.builder.Update(stockBatchesTable).
		Set("remaining_qty", squirrel.Expr("remaining_qty - ?", qty.Int64Scaled())).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": batchID, "version": expectedVersion}).
		Where(squirrel.GtOrEq{"remaining_qty": qty.Int64Scaled()})
}

func (r *BatchRepo) ApplyDepletion(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int) error {
	if !qty.IsPositive() {
		return apperror.NewValidation("depletion quantity must be positive")
	}
	sql, args, err := r.depletionQuery(batchID, qty, expectedVersion).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deplete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetBatch(ctx, batchID); err != nil {
			return err
		}
		return apperror.NewConcurrentModification("stock batch", batchID)
	}
	return nil
}

func (r *BatchRepo) RestoreDepletion(ctx context.Context, batchID id.ID, qty types.Quantity) error {
	sql, args, err := r.builder.Update(stockBatchesTable).
		Set("remaining_qty", squirrel.Expr("remaining_qty + ?", qty.Int64Scaled())).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": batchID}).
		Where(squirrel.Expr("remaining_qty + ? <= received_qty", qty.Int64Scaled())).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("restore batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetBatch(ctx, batchID); err != nil {
			return err
		}
		return apperror.NewValidation("restored quantity exceeds received quantity").WithDetail("batch_id", batchID)
	}
	return nil
}

func (r *BatchRepo) DeleteBatches(ctx context.Context, batchIDs []id.ID) error {
	if len(batchIDs) == 0 {
		return nil
	}
	sql, args, err := r.builder.Delete(stockBatchesTable).Where(squirrel.Eq{"id": batchIDs}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete batches: %w", err)
	}
	return nil
}

// latestCostQuery picks the FIFO-latest real batch received by asOf.
func (r *BatchRepo) latestCostQuery(branchID, ingredientID id.ID, asOf time.Time) squirrel.SelectBuilder {
	return r.builder.Select("unit_cost").From(stockBatchesTable).
		Where(squirrel.Eq{"branch_id": branchID, "ingredient_id": ingredientID, "synthetic": false}).
		Where(squirrel.LtOrEq{"received_at": asOf}).
		OrderBy("received_at DESC", "id DESC").
		Limit(1)
}

func (r *BatchRepo) LatestUnitCost(ctx context.Context, branchID, ingredientID id.ID, asOf time.Time) (*types.Money, error) {
	sql, args, err := r.latestCostQuery(branchID, ingredientID, asOf).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var cost types.Money
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&cost); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest unit cost: %w", err)
	}
	return &cost, nil
}

func (r *BatchRepo) IngredientsWithBatches(ctx context.Context, branchID id.ID) ([]id.ID, error) {
	sql, args, err := r.builder.Select("DISTINCT ingredient_id").From(stockBatchesTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		OrderBy("ingredient_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var ids []id.ID
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &ids, sql, args...); err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	return ids, nil
}

// ListBatches returns every batch of (branch, ingredient) in FIFO order.
func (r *BatchRepo) ListBatches(ctx context.Context, branchID, ingredientID id.ID) ([]entity.StockBatch, error) {
	sql, args, err := r.builder.Select(batchColumns...).From(stockBatchesTable).
		Where(squirrel.Eq{"branch_id": branchID, "ingredient_id": ingredientID}).
		OrderBy("received_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var batches []entity.StockBatch
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}
