package consumption_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

func TestComputeDailyConsumption_ConvertsAndMultiplies(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	f.Conversion(&milk, "CUP", "ML", "240")
	latte := f.ItemRecipe(apptest.Line(milk, "2", "CUP"))

	line := f.Sell(f.Branch, latte, "3", apptest.At("2026-03-14", 9, 30))

	dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	require.Len(t, dc.Requirements, 1)
	req := dc.Requirements[0]
	assert.Equal(t, milk, req.IngredientID)
	assert.Equal(t, types.MustQuantity("1440"), req.Quantity)
	assert.Equal(t, []string{line.Ref()}, req.SourceRefs)
	assert.Equal(t, 1, dc.LinesQualified)
	assert.Empty(t, dc.Flags)
}

func TestComputeDailyConsumption_MissingRecipeFlagPerLine(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	espresso := f.ItemRecipe(apptest.Line(beans, "18", "G"))
	unknown := id.New()

	f.Sell(f.Branch, espresso, "2", apptest.At("2026-03-14", 8, 0))
	a := f.Sell(f.Branch, unknown, "1", apptest.At("2026-03-14", 8, 5))
	b := f.Sell(f.Branch, unknown, "4", apptest.At("2026-03-14", 8, 10))

	dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	require.Len(t, dc.Requirements, 1)
	assert.Equal(t, types.MustQuantity("36"), dc.Requirements[0].Quantity)

	require.Len(t, dc.Flags, 2)
	refs := []string{dc.Flags[0].SourceRef, dc.Flags[1].SourceRef}
	assert.ElementsMatch(t, []string{a.Ref(), b.Ref()}, refs)
	for _, fl := range dc.Flags {
		assert.Equal(t, entity.FlagRecipeMissing, fl.Code)
		require.NotNil(t, fl.ItemID)
		assert.Equal(t, unknown, *fl.ItemID)
	}
}

func TestComputeDailyConsumption_OverflowingLineIsFlagged(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	milk := f.Ingredient("MILK", "ML")
	bulk := f.ItemRecipe(apptest.Line(beans, "1000000", "G"))
	latte := f.ItemRecipe(apptest.Line(milk, "200", "ML"))

	huge := f.Sell(f.Branch, bulk, "1000000000000", apptest.At("2026-03-14", 9, 0))
	f.Sell(f.Branch, latte, "1", apptest.At("2026-03-14", 9, 5))

	dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	require.Len(t, dc.Requirements, 1)
	assert.Equal(t, milk, dc.Requirements[0].IngredientID)
	assert.Equal(t, types.MustQuantity("200"), dc.Requirements[0].Quantity)

	require.Len(t, dc.Flags, 1)
	assert.Equal(t, entity.FlagInvalidRecipeLine, dc.Flags[0].Code)
	assert.Equal(t, huge.Ref(), dc.Flags[0].SourceRef)
	require.NotNil(t, dc.Flags[0].IngredientID)
	assert.Equal(t, beans, *dc.Flags[0].IngredientID)
}

func TestComputeDailyConsumption_OnlyCompletedSales(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	espresso := f.ItemRecipe(apptest.Line(beans, "18", "G"))

	f.Sell(f.Branch, espresso, "1", apptest.At("2026-03-14", 10, 0))
	f.SellWithStatus(f.Branch, espresso, "5", apptest.At("2026-03-14", 10, 1), "CANCELLED")
	f.SellWithStatus(f.Branch, espresso, "5", apptest.At("2026-03-14", 10, 2), "open")
	f.SellWithStatus(f.Branch, espresso, "1", apptest.At("2026-03-14", 10, 3), "paid")
	f.Sell(f.Branch, espresso, "0", apptest.At("2026-03-14", 10, 4))

	dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	assert.Equal(t, 5, dc.LinesSeen)
	assert.Equal(t, 2, dc.LinesQualified)
	require.Len(t, dc.Requirements, 1)
	assert.Equal(t, types.MustQuantity("36"), dc.Requirements[0].Quantity)
	assert.Len(t, dc.Requirements[0].SourceRefs, 2)
}

func TestComputeDailyConsumption_BranchTimezone(t *testing.T) {
	f := apptest.New(t)
	jakarta := f.AddBranch("JKT", "Asia/Jakarta")
	beans := f.Ingredient("BEANS", "G")
	espresso := f.ItemRecipe(apptest.Line(beans, "10", "G"))

	// 2026-03-13 18:30 UTC is 2026-03-14 01:30 in Jakarta (UTC+7).
	f.Sell(jakarta, espresso, "1", time.Date(2026, 3, 13, 18, 30, 0, 0, time.UTC))
	// 2026-03-14 17:30 UTC is already 2026-03-15 in Jakarta.
	f.Sell(jakarta, espresso, "1", time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC))

	for date, want := range map[string]string{"2026-03-13": "", "2026-03-14": "10", "2026-03-15": "10"} {
		dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, jakarta.ID, types.MustDate(date))
		require.NoError(t, err)
		if want == "" {
			assert.Empty(t, dc.Requirements, date)
			continue
		}
		require.Len(t, dc.Requirements, 1, date)
		assert.Equal(t, types.MustQuantity(want), dc.Requirements[0].Quantity, date)
	}
}

func TestComputeDailyConsumption_SortedByIngredient(t *testing.T) {
	f := apptest.New(t)
	var ings []id.ID
	var lines []entity.RecipeLine
	for _, code := range []string{"A", "B", "C", "D"} {
		ing := f.Ingredient(code, "G")
		ings = append(ings, ing)
		lines = append(lines, apptest.Line(ing, "1", "G"))
	}
	item := f.ItemRecipe(lines...)
	f.Sell(f.Branch, item, "1", apptest.At("2026-03-14", 12, 0))

	dc, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, f.Branch.ID, types.MustDate("2026-03-14"))
	require.NoError(t, err)
	require.Len(t, dc.Requirements, len(ings))
	for i := 1; i < len(dc.Requirements); i++ {
		assert.Less(t, dc.Requirements[i-1].IngredientID.String(), dc.Requirements[i].IngredientID.String())
	}
}

func TestComputeDailyConsumption_UnknownBranch(t *testing.T) {
	f := apptest.New(t)
	_, err := f.App.Aggregator.ComputeDailyConsumption(f.Ctx, id.New(), types.MustDate("2026-03-14"))
	require.Error(t, err)
}
