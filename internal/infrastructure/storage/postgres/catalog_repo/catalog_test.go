package catalog_repo

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
)

func TestConversionQuery_PrefersScoped(t *testing.T) {
	repo := NewCatalogRepo(nil)

	sql, args, err := repo.conversionQuery(id.New(), "cup", "ml").ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT ingredient_id, from_unit, to_unit, factor FROM unit_conversions "+
			"WHERE from_unit = $1 AND to_unit = $2 AND (ingredient_id = $3 OR ingredient_id IS NULL) "+
			"ORDER BY ingredient_id NULLS LAST LIMIT 1",
		sql)
	require.Len(t, args, 3)
	assert.Equal(t, "CUP", args[0])
	assert.Equal(t, "ML", args[1])
}

func TestActiveRecipeQuery(t *testing.T) {
	repo := NewCatalogRepo(nil)
	target := entity.RecipeTarget{Kind: entity.TargetItem, ID: id.New()}

	sql, args, err := repo.activeRecipeQuery(target).ToSql()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "SELECT id, target_kind, target_id, name, active, yield_qty, needs_confirmation FROM recipes"))
	assert.True(t, strings.HasSuffix(sql, "WHERE active = $1 AND target_id = $2 AND target_kind = $3 ORDER BY id LIMIT 1"))
	require.Len(t, args, 3)
	assert.Equal(t, true, args[0])
	assert.Equal(t, "ITEM", args[2])
}

func TestSaleLinesQuery_HalfOpenWindow(t *testing.T) {
	repo := NewCatalogRepo(nil)
	from := time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	sql, args, err := repo.saleLinesQuery(id.New(), from, to).ToSql()
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(sql, "WHERE branch_id = $1 AND sold_at >= $2 AND sold_at < $3 ORDER BY sold_at, id"))
	assert.Equal(t, []any{args[0], from, to}, args)
}

func TestUpsert_UpdatesEveryColumnButID(t *testing.T) {
	repo := NewCatalogRepo(nil)

	sql, _, err := repo.upsert("branches", map[string]any{
		"id":       id.New(),
		"code":     "MAIN",
		"timezone": "Asia/Jakarta",
	}).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO branches (code,id,timezone) VALUES ($1,$2,$3) "+
			"ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, timezone = EXCLUDED.timezone",
		sql)
}

func TestSaleRow_ParsesOptions(t *testing.T) {
	opt := id.New()
	row := saleRow{ID: id.New(), Options: []string{opt.String()}, Status: "COMPLETED"}

	line, err := row.entity()
	require.NoError(t, err)
	assert.Equal(t, []id.ID{opt}, line.Options)

	row.Options = []string{"not-a-uuid"}
	_, err = row.entity()
	assert.Error(t, err)
}
