package movement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/movement"
)

func TestIdempotencyKey_IgnoresRefOrder(t *testing.T) {
	branch, ing := id.New(), id.New()
	date := types.MustDate("2026-03-14")

	a := movement.IdempotencyKey(branch, ing, date, []string{"o1/l1", "o2/l1"})
	b := movement.IdempotencyKey(branch, ing, date, []string{"o2/l1", "o1/l1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, movement.IdempotencyKey(branch, ing, date.AddDays(1), []string{"o1/l1", "o2/l1"}))
	assert.NotEqual(t, a, movement.IdempotencyKey(branch, ing, date, []string{"o1/l1"}))
	// Separators keep ref boundaries apart.
	assert.NotEqual(t,
		movement.IdempotencyKey(branch, ing, date, []string{"ab", "c"}),
		movement.IdempotencyKey(branch, ing, date, []string{"a", "bc"}),
	)
}

func TestRecord_IsIdempotent(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	b1 := f.Receive(f.Branch, beans, "10", "1", apptest.At("2026-03-01", 8, 0))
	b2 := f.Receive(f.Branch, beans, "10", "2", apptest.At("2026-03-02", 8, 0))
	date := types.MustDate("2026-03-14")
	refs := []string{"order-1/line-1", "order-2/line-1"}

	plan := &ledger.Plan{
		BranchID:     f.Branch.ID,
		IngredientID: beans,
		Required:     types.MustQuantity("12"),
		Entries: []ledger.PlanEntry{
			{BatchID: b1.ID, Quantity: types.MustQuantity("10"), UnitCost: types.MustMoney("1")},
			{BatchID: b2.ID, Quantity: types.MustQuantity("2"), UnitCost: types.MustMoney("2")},
		},
	}

	first, created, err := f.App.Recorder.Record(f.Ctx, f.Branch.ID, beans, date, plan, refs)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, first, 2)
	for i, m := range first {
		assert.Equal(t, entity.MovementConsumption, m.Type)
		assert.Equal(t, i+1, m.LineNo)
		assert.True(t, m.Quantity.IsNegative())
		assert.Equal(t, "order-1/line-1,order-2/line-1", m.SourceRef)
	}

	again, created, err := f.App.Recorder.Record(f.Ctx, f.Branch.ID, beans, date, plan, []string{refs[1], refs[0]})
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, again, 2)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Len(t, f.Store.Movements(f.Ctx), 4)
}

func TestRecord_EmptyPlan(t *testing.T) {
	f := apptest.New(t)
	_, _, err := f.App.Recorder.Record(f.Ctx, f.Branch.ID, id.New(), types.MustDate("2026-03-14"), &ledger.Plan{}, []string{"x"})
	require.Error(t, err)
}
