package movement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/types"
)

func TestDailyCost_SplitsBackfilledConsumption(t *testing.T) {
	f := apptest.New(t, apptest.WithFallbackCost("3"))
	beans := f.Ingredient("BEANS", "G")
	milk := f.Ingredient("MILK", "ML")
	f.Receive(f.Branch, beans, "30", "2", apptest.At("2026-03-01", 8, 0))
	latte := f.ItemRecipe(apptest.Line(beans, "25", "G"), apptest.Line(milk, "100", "ML"))
	f.Sell(f.Branch, latte, "2", apptest.At("2026-03-14", 9, 0))

	s := f.MustRun("2026-03-14", "2026-03-14")
	require.Zero(t, s.UnitsFailed)
	assert.Equal(t, 2, s.BackfillsCreated)

	dc, err := f.App.Costs.DailyCost(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	// beans: 30 @2 real + 20 @2 backfilled (last known); milk: 200 @3 fallback.
	assert.Equal(t, types.MustQuantity("250"), dc.Quantity)
	assert.Equal(t, "700", dc.Cost.String())
	assert.Equal(t, types.MustQuantity("220"), dc.BackfilledQty)
	assert.Equal(t, "640", dc.BackfilledCost.String())
	require.Len(t, dc.Lines, 2)
	assert.True(t, s.TotalCost.Equal(dc.Cost))

	empty, err := f.App.Costs.DailyCost(f.Ctx, f.Branch.ID, types.MustDate("2026-03-15"))
	require.NoError(t, err)
	assert.True(t, empty.Cost.IsZero())
	assert.Empty(t, empty.Lines)
}
