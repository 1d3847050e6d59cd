package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

func TestExtractDBColumns_EmbeddedKey(t *testing.T) {
	cols := ExtractDBColumns[entity.UnitRecord]()

	assert.Equal(t, []string{"branch_id", "business_date", "ingredient_id"}, cols[:3])
	for _, expected := range []string{"status", "idempotency_key", "quantity", "cost", "attempts", "error_code", "last_error", "updated_at"} {
		assert.Contains(t, cols, expected)
	}
}

func TestExtractDBColumns_SkipsUntaggedFields(t *testing.T) {
	cols := ExtractDBColumns[entity.Recipe]()

	assert.Contains(t, cols, "yield_qty")
	assert.NotContains(t, cols, "target")
	assert.NotContains(t, cols, "lines")
}

func TestStructToMap_UnitRecord(t *testing.T) {
	now := time.Now().UTC()
	rec := entity.UnitRecord{
		UnitKey: entity.UnitKey{
			BranchID:     id.New(),
			Date:         types.MustDate("2026-03-14"),
			IngredientID: id.New(),
		},
		Status:    entity.UnitFailed,
		Attempts:  3,
		Cost:      types.MustMoney("12.50"),
		UpdatedAt: now,
	}

	m := StructToMap(&rec)

	assert.Equal(t, rec.BranchID, m["branch_id"])
	assert.Equal(t, rec.Date, m["business_date"])
	assert.Equal(t, entity.UnitFailed, m["status"])
	assert.Equal(t, 3, m["attempts"])
	assert.Equal(t, now, m["updated_at"])
	assert.Nil(t, StructToMap(42))
}

func TestStructToRow_OverridesInColumnOrder(t *testing.T) {
	rec := entity.UnitRecord{
		UnitKey:  entity.UnitKey{BranchID: id.New(), Date: types.MustDate("2026-03-14")},
		Attempts: 2,
		Cost:     types.MustMoney("1.5"),
	}

	row := StructToRow(rec, []string{"attempts", "cost", "business_date"}, map[string]any{
		"cost":          rec.Cost.String(),
		"business_date": rec.Date.Time(),
	})

	assert.Equal(t, []any{2, "1.5", rec.Date.Time()}, row)
}
