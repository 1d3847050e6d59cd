// Package catalog_repo provides the PostgreSQL master data and sales
// repository: branches, ingredients, recipes, unit conversions, sale lines.
package catalog_repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/recipe"
	"costengine/internal/infrastructure/storage/postgres"
)

const (
	branchesTable    = "branches"
	ingredientsTable = "ingredients"
	recipesTable     = "recipes"
	recipeLinesTable = "recipe_lines"
	conversionsTable = "unit_conversions"
	saleLinesTable   = "sale_lines"
)

var (
	branchColumns     = postgres.ExtractDBColumns[entity.Branch]()
	ingredientColumns = postgres.ExtractDBColumns[entity.Ingredient]()
	conversionColumns = postgres.ExtractDBColumns[entity.UnitConversion]()
	recipeColumns     = postgres.ExtractDBColumns[recipeRow]()
	saleColumns       = postgres.ExtractDBColumns[saleRow]()
)

// recipeRow flattens entity.Recipe's target into columns.
type recipeRow struct {
	ID                id.ID             `db:"id"`
	TargetKind        entity.TargetKind `db:"target_kind"`
	TargetID          id.ID             `db:"target_id"`
	Name              string            `db:"name"`
	Active            bool              `db:"active"`
	YieldQty          types.Quantity    `db:"yield_qty"`
	NeedsConfirmation bool              `db:"needs_confirmation"`
}

type lineRow struct {
	LineNo       int            `db:"line_no"`
	IngredientID id.ID          `db:"ingredient_id"`
	InputQty     types.Quantity `db:"input_qty"`
	InputUnit    string         `db:"input_unit"`
}

// saleRow keeps options as text[].
type saleRow struct {
	ID       id.ID          `db:"id"`
	OrderID  id.ID          `db:"order_id"`
	BranchID id.ID          `db:"branch_id"`
	ItemID   id.ID          `db:"item_id"`
	Options  []string       `db:"options"`
	QtySold  types.Quantity `db:"qty_sold"`
	SoldAt   time.Time      `db:"sold_at"`
	Status   string         `db:"status"`
}

func (s saleRow) entity() (entity.SaleLine, error) {
	line := entity.SaleLine{
		ID:       s.ID,
		OrderID:  s.OrderID,
		BranchID: s.BranchID,
		ItemID:   s.ItemID,
		QtySold:  s.QtySold,
		SoldAt:   s.SoldAt,
		Status:   s.Status,
	}
	for _, o := range s.Options {
		optionID, err := id.Parse(o)
		if err != nil {
			return entity.SaleLine{}, fmt.Errorf("parse option of sale line %s: %w", s.ID, err)
		}
		line.Options = append(line.Options, optionID)
	}
	return line, nil
}

// CatalogRepo implements recipe.Repository and consumption.Repository and
// the master data writers used by seeding.
type CatalogRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

var (
	_ recipe.Repository      = (*CatalogRepo)(nil)
	_ consumption.Repository = (*CatalogRepo)(nil)
)

// NewCatalogRepo creates a new catalog repository.
func NewCatalogRepo(txManager *postgres.TxManager) *CatalogRepo {
	return &CatalogRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *CatalogRepo) exec(ctx context.Context, q squirrel.Sqlizer, what string) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", what, err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// upsert inserts values or overwrites the row with the same id.
func (r *CatalogRepo) upsert(table string, values map[string]any) squirrel.InsertBuilder {
	sets := make([]string, 0, len(values))
	for col := range values {
		if col != "id" {
			sets = append(sets, col+" = EXCLUDED."+col)
		}
	}
	// Deterministic SQL for statement caching.
	sort.Strings(sets)
	return r.builder.Insert(table).SetMap(values).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", "))
}

func (r *CatalogRepo) PutBranch(ctx context.Context, b entity.Branch) error {
	if b.Code == "" {
		return apperror.NewValidation("branch code is required")
	}
	return r.exec(ctx, r.upsert(branchesTable, postgres.StructToMap(b)), "upsert branch")
}

func (r *CatalogRepo) PutIngredient(ctx context.Context, ing entity.Ingredient) error {
	if ing.BaseUnit == "" {
		return apperror.NewValidation("ingredient base unit is required").WithDetail("code", ing.Code)
	}
	ing.BaseUnit = strings.ToUpper(ing.BaseUnit)
	return r.exec(ctx, r.upsert(ingredientsTable, postgres.StructToMap(ing)), "upsert ingredient")
}

// PutRecipe replaces the recipe and all its lines atomically.
func (r *CatalogRepo) PutRecipe(ctx context.Context, rec entity.Recipe) error {
	if err := rec.Validate(ctx); err != nil {
		return err
	}
	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		values := postgres.StructToMap(recipeRow{
			ID:                rec.ID,
			TargetKind:        rec.Target.Kind,
			TargetID:          rec.Target.ID,
			Name:              rec.Name,
			Active:            rec.Active,
			YieldQty:          rec.YieldQty,
			NeedsConfirmation: rec.NeedsConfirmation,
		})
		values["yield_qty"] = rec.YieldQty.Int64Scaled()
		if err := r.exec(ctx, r.upsert(recipesTable, values), "upsert recipe"); err != nil {
			return err
		}
		if err := r.exec(ctx, r.builder.Delete(recipeLinesTable).Where(squirrel.Eq{"recipe_id": rec.ID}), "delete recipe lines"); err != nil {
			return err
		}
		if len(rec.Lines) == 0 {
			return nil
		}
		q := r.builder.Insert(recipeLinesTable).Columns("recipe_id", "line_no", "ingredient_id", "input_qty", "input_unit")
		for i, l := range rec.Lines {
			lineNo := l.LineNo
			if lineNo == 0 {
				lineNo = i + 1
			}
			q = q.Values(rec.ID, lineNo, l.IngredientID, l.InputQty.Int64Scaled(), strings.ToUpper(l.InputUnit))
		}
		return r.exec(ctx, q, "insert recipe lines")
	})
}

func (r *CatalogRepo) PutConversion(ctx context.Context, c entity.UnitConversion) error {
	if !c.Factor.IsPositive() {
		return apperror.NewValidation("conversion factor must be positive")
	}
	q := r.builder.Insert(conversionsTable).
		Columns(conversionColumns...).
		Values(c.IngredientID, strings.ToUpper(c.FromUnit), strings.ToUpper(c.ToUnit), c.Factor).
		Suffix(`ON CONFLICT (COALESCE(ingredient_id, '00000000-0000-0000-0000-000000000000'::uuid), from_unit, to_unit)
			DO UPDATE SET factor = EXCLUDED.factor`)
	return r.exec(ctx, q, "upsert conversion")
}

func (r *CatalogRepo) PutSaleLine(ctx context.Context, l entity.SaleLine) error {
	if !l.QtySold.IsPositive() {
		return apperror.NewValidation("sold quantity must be positive").WithDetail("line_id", l.ID)
	}
	options := make([]string, len(l.Options))
	for i, o := range l.Options {
		options[i] = o.String()
	}
	values := postgres.StructToMap(saleRow{
		ID: l.ID, OrderID: l.OrderID, BranchID: l.BranchID, ItemID: l.ItemID,
		Options: options, SoldAt: l.SoldAt, Status: l.Status,
	})
	values["qty_sold"] = l.QtySold.Int64Scaled()
	return r.exec(ctx, r.upsert(saleLinesTable, values), "upsert sale line")
}

func (r *CatalogRepo) SetSaleStatus(ctx context.Context, lineID id.ID, status string) error {
	sql, args, err := r.builder.Update(saleLinesTable).Set("status", status).
		Where(squirrel.Eq{"id": lineID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update sale status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("sale line", lineID)
	}
	return nil
}

func (r *CatalogRepo) ListBranches(ctx context.Context) ([]entity.Branch, error) {
	sql, args, err := r.builder.Select(branchColumns...).From(branchesTable).OrderBy("code").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var branches []entity.Branch
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &branches, sql, args...); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

func (r *CatalogRepo) GetBranch(ctx context.Context, branchID id.ID) (*entity.Branch, error) {
	sql, args, err := r.builder.Select(branchColumns...).From(branchesTable).
		Where(squirrel.Eq{"id": branchID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var b entity.Branch
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("branch", branchID)
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return &b, nil
}

// saleLinesQuery selects the half-open window [from, to).
func (r *CatalogRepo) saleLinesQuery(branchID id.ID, from, to time.Time) squirrel.SelectBuilder {
	return r.builder.Select(saleColumns...).From(saleLinesTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		Where(squirrel.GtOrEq{"sold_at": from}).
		Where(squirrel.Lt{"sold_at": to}).
		OrderBy("sold_at", "id")
}

func (r *CatalogRepo) ListSaleLines(ctx context.Context, branchID id.ID, from, to time.Time) ([]entity.SaleLine, error) {
	sql, args, err := r.saleLinesQuery(branchID, from, to).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []saleRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list sale lines: %w", err)
	}
	lines := make([]entity.SaleLine, 0, len(rows))
	for _, row := range rows {
		line, err := row.entity()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *CatalogRepo) GetIngredient(ctx context.Context, ingredientID id.ID) (*entity.Ingredient, error) {
	sql, args, err := r.builder.Select(ingredientColumns...).From(ingredientsTable).
		Where(squirrel.Eq{"id": ingredientID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var ing entity.Ingredient
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &ing, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("ingredient", ingredientID)
		}
		return nil, fmt.Errorf("get ingredient: %w", err)
	}
	return &ing, nil
}

// activeRecipeQuery picks the active recipe of a target; ties go to the
// smallest id.
func (r *CatalogRepo) activeRecipeQuery(target entity.RecipeTarget) squirrel.SelectBuilder {
	return r.builder.Select(recipeColumns...).From(recipesTable).
		Where(squirrel.Eq{"target_kind": string(target.Kind), "target_id": target.ID, "active": true}).
		OrderBy("id").
		Limit(1)
}

func (r *CatalogRepo) FindActiveRecipe(ctx context.Context, target entity.RecipeTarget) (*entity.Recipe, error) {
	sql, args, err := r.activeRecipeQuery(target).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	q := r.txManager.GetQuerier(ctx)
	var row recipeRow
	if err := pgxscan.Get(ctx, q, &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find recipe for %s: %w", target, err)
	}

	sql, args, err = r.builder.Select("line_no", "ingredient_id", "input_qty", "input_unit").
		From(recipeLinesTable).
		Where(squirrel.Eq{"recipe_id": row.ID}).
		OrderBy("line_no").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var lines []lineRow
	if err := pgxscan.Select(ctx, q, &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("list recipe lines: %w", err)
	}

	rec := &entity.Recipe{
		ID:                row.ID,
		Target:            entity.RecipeTarget{Kind: row.TargetKind, ID: row.TargetID},
		Name:              row.Name,
		Active:            row.Active,
		YieldQty:          row.YieldQty,
		NeedsConfirmation: row.NeedsConfirmation,
		Lines:             make([]entity.RecipeLine, 0, len(lines)),
	}
	for _, l := range lines {
		rec.Lines = append(rec.Lines, entity.RecipeLine{
			LineNo:       l.LineNo,
			IngredientID: l.IngredientID,
			InputQty:     l.InputQty,
			InputUnit:    l.InputUnit,
		})
	}
	return rec, nil
}

// conversionQuery prefers an ingredient-scoped conversion over a global one.
func (r *CatalogRepo) conversionQuery(ingredientID id.ID, from, to string) squirrel.SelectBuilder {
	return r.builder.Select(conversionColumns...).From(conversionsTable).
		Where(squirrel.Eq{"from_unit": strings.ToUpper(from), "to_unit": strings.ToUpper(to)}).
		Where(squirrel.Or{
			squirrel.Eq{"ingredient_id": ingredientID},
			squirrel.Eq{"ingredient_id": nil},
		}).
		OrderBy("ingredient_id NULLS LAST").
		Limit(1)
}

func (r *CatalogRepo) FindConversion(ctx context.Context, ingredientID id.ID, from, to string) (*entity.UnitConversion, error) {
	sql, args, err := r.conversionQuery(ingredientID, from, to).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var c entity.UnitConversion
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &c, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conversion %s->%s: %w", from, to, err)
	}
	return &c, nil
}
