package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/movement"
	"costengine/internal/infrastructure/storage/postgres"
)

const stockMovementsTable = "stock_movements"

var movementColumns = postgres.ExtractDBColumns[entity.StockMovement]()

// MovementRepo implements movement.Repository.
type MovementRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var _ movement.Repository = (*MovementRepo)(nil)

// NewMovementRepo creates a new stock movement repository.
func NewMovementRepo(txManager *postgres.TxManager) *MovementRepo {
	return &MovementRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// InsertMovements writes the set with COPY. A transaction-scoped advisory
// lock on the key serializes racing writers, so the loser sees the winner's
// committed rows and reports false.
func (r *MovementRepo) InsertMovements(ctx context.Context, movements []entity.StockMovement) (bool, error) {
	if len(movements) == 0 {
		return false, apperror.NewValidation("no movements to insert")
	}
	key := movements[0].IdempotencyKey
	for _, m := range movements {
		if m.IdempotencyKey != key {
			return false, apperror.NewValidation("movement set must share one idempotency key")
		}
		if !m.Type.Valid() {
			return false, apperror.NewValidation("invalid movement type").WithDetail("type", m.Type)
		}
	}

	inserted := false
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txManager.GetQuerier(ctx)
		if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return fmt.Errorf("lock idempotency key: %w", err)
		}
		var exists bool
		if err := q.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM stock_movements WHERE idempotency_key = $1)", key,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if exists {
			return nil
		}

		rows := make([][]any, 0, len(movements))
		for _, m := range movements {
			rows = append(rows, movementRow(m))
		}
		if _, err := r.txManager.CopyRows(ctx, stockMovementsTable, movementColumns, rows); err != nil {
			return fmt.Errorf("copy movements: %w", err)
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// movementRow orders values like movementColumns. COPY encodes binary, so
// decimals travel as text and dates as time.Time.
func movementRow(m entity.StockMovement) []any {
	return postgres.StructToRow(m, movementColumns, map[string]any{
		"quantity":      m.Quantity.Int64Scaled(),
		"unit_cost":     m.UnitCost.String(),
		"business_date": m.BusinessDate.Time(),
	})
}

func (r *MovementRepo) SumSigned(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error) {
	sql, args, err := r.builder.Select("COALESCE(SUM(quantity), 0)").From(stockMovementsTable).
		Where(squirrel.Eq{"branch_id": branchID, "ingredient_id": ingredientID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var total int64
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum movements: %w", err)
	}
	return types.NewQuantityFromInt64Scaled(total), nil
}

func (r *MovementRepo) IngredientsWithMovements(ctx context.Context, branchID id.ID) ([]id.ID, error) {
	sql, args, err := r.builder.Select("DISTINCT ingredient_id").From(stockMovementsTable).
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

func (r *MovementRepo) GetByKey(ctx context.Context, key string) ([]entity.StockMovement, error) {
	return r.selectMovements(ctx, r.builder.Select(movementColumns...).From(stockMovementsTable).
		Where(squirrel.Eq{"idempotency_key": key}).
		OrderBy("line_no"))
}

// byDateQuery lists a branch's movements of one day.
func (r *MovementRepo) byDateQuery(branchID id.ID, date types.Date, movementTypes []entity.MovementType) squirrel.SelectBuilder {
	q := r.builder.Select(movementColumns...).From(stockMovementsTable).
		Where(squirrel.Eq{"branch_id": branchID, "business_date": date}).
		OrderBy("ingredient_id", "idempotency_key", "line_no")
	if len(movementTypes) > 0 {
		names := make([]string, len(movementTypes))
		for i, t := range movementTypes {
			names[i] = string(t)
		}
		q = q.Where(squirrel.Eq{"movement_type": names})
	}
	return q
}

func (r *MovementRepo) ListByDate(ctx context.Context, branchID id.ID, date types.Date, movementTypes ...entity.MovementType) ([]entity.StockMovement, error) {
	return r.selectMovements(ctx, r.byDateQuery(branchID, date, movementTypes))
}

func (r *MovementRepo) ListFrom(ctx context.Context, branchID id.ID, from types.Date) ([]entity.StockMovement, error) {
	return r.selectMovements(ctx, r.builder.Select(movementColumns...).From(stockMovementsTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		Where(squirrel.GtOrEq{"business_date": from}).
		OrderBy("business_date", "ingredient_id", "idempotency_key", "line_no"))
}

func (r *MovementRepo) DeleteByIDs(ctx context.Context, ids []id.ID) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args, err := r.builder.Delete(stockMovementsTable).Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete movements: %w", err)
	}
	return nil
}

func (r *MovementRepo) selectMovements(ctx context.Context, q squirrel.SelectBuilder) ([]entity.StockMovement, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var movements []entity.StockMovement
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return movements, nil
}
