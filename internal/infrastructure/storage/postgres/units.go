package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/run"
)

const unitsTable = "consumption_units"

var unitColumns = ExtractDBColumns[entity.UnitRecord]()

// UnitStore keeps the outcome of every attempted unit of work.
type UnitStore struct {
	txManager *TxManager
	builder   squirrel.StatementBuilderType
}

var _ run.UnitStore = (*UnitStore)(nil)

// NewUnitStore creates a unit store.
func NewUnitStore(txManager *TxManager) *UnitStore {
	return &UnitStore{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func unitWhere(key entity.UnitKey) squirrel.Eq {
	return squirrel.Eq{
		"branch_id":     key.BranchID,
		"business_date": key.Date,
		"ingredient_id": key.IngredientID,
	}
}

func (s *UnitStore) GetUnit(ctx context.Context, key entity.UnitKey) (*entity.UnitRecord, error) {
	sql, args, err := s.builder.Select(unitColumns...).From(unitsTable).Where(unitWhere(key)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rec entity.UnitRecord
	if err := pgxscan.Get(ctx, s.txManager.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get unit %s: %w", key, err)
	}
	return &rec, nil
}

// saveUnitQuery upserts rec by its unit key.
func (s *UnitStore) saveUnitQuery(rec *entity.UnitRecord) squirrel.InsertBuilder {
	values := StructToMap(rec)
	values["quantity"] = rec.Quantity.Int64Scaled()
	return s.builder.Insert(unitsTable).
		SetMap(values).
		Suffix(`ON CONFLICT (branch_id, business_date, ingredient_id) DO UPDATE SET
			status = EXCLUDED.status,
			idempotency_key = EXCLUDED.idempotency_key,
			quantity = EXCLUDED.quantity,
			cost = EXCLUDED.cost,
			attempts = EXCLUDED.attempts,
			error_code = EXCLUDED.error_code,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`)
}

func (s *UnitStore) SaveUnit(ctx context.Context, rec *entity.UnitRecord) error {
	if rec.Status != entity.UnitRecorded && rec.Status != entity.UnitFailed {
		return errors.New("only RECORDED and FAILED units are persisted")
	}
	sql, args, err := s.saveUnitQuery(rec).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("save unit %s: %w", rec.UnitKey, err)
	}
	return nil
}

// listFailedQuery selects FAILED units, optionally restricted to branches.
func (s *UnitStore) listFailedQuery(branchIDs []id.ID) squirrel.SelectBuilder {
	q := s.builder.Select(unitColumns...).From(unitsTable).
		Where(squirrel.Eq{"status": entity.UnitFailed}).
		OrderBy("branch_id", "business_date", "ingredient_id")
	if len(branchIDs) > 0 {
		q = q.Where(squirrel.Eq{"branch_id": branchIDs})
	}
	return q
}

func (s *UnitStore) ListFailed(ctx context.Context, branchIDs []id.ID) ([]entity.UnitRecord, error) {
	sql, args, err := s.listFailedQuery(branchIDs).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.UnitRecord
	if err := pgxscan.Select(ctx, s.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list failed units: %w", err)
	}
	return out, nil
}

func (s *UnitStore) DeleteUnit(ctx context.Context, key entity.UnitKey) error {
	sql, args, err := s.builder.Delete(unitsTable).Where(unitWhere(key)).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete unit %s: %w", key, err)
	}
	return nil
}

func (s *UnitStore) DeleteUnitsFrom(ctx context.Context, branchID id.ID, from types.Date) (int, error) {
	sql, args, err := s.builder.Delete(unitsTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		Where(squirrel.GtOrEq{"business_date": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete units: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
