package recipe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

func TestNormalize(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	beans := f.Ingredient("BEANS", "G")
	syrup := f.Ingredient("SYRUP", "ML")
	f.Conversion(&milk, "CUP", "ML", "240")
	f.Conversion(nil, "KG", "G", "1000")
	f.Conversion(&syrup, "ML", "BTL", "0.001")

	tests := []struct {
		name    string
		line    entity.RecipeLine
		want    string
		wantErr string
	}{
		{name: "ingredient conversion", line: apptest.Line(milk, "2", "cup"), want: "480"},
		{name: "global conversion", line: apptest.Line(beans, "0.018", "KG"), want: "18"},
		{name: "identity", line: apptest.Line(beans, "18", "g"), want: "18"},
		{name: "empty unit is base", line: apptest.Line(beans, "7", ""), want: "7"},
		{name: "inverse conversion", line: apptest.Line(syrup, "0.5", "BTL"), want: "500"},
		{name: "unknown unit", line: apptest.Line(milk, "1", "GALLON"), wantErr: apperror.CodeUnitConversionError},
		{name: "zero quantity", line: apptest.Line(milk, "0", "ML"), wantErr: apperror.CodeValidation},
		{name: "unknown ingredient", line: apptest.Line(id.New(), "1", "ML"), wantErr: apperror.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.App.Resolver.Normalize(f.Ctx, tt.line)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.MustQuantity(tt.want), got)
		})
	}
}

func TestResolve_MissingRecipe(t *testing.T) {
	f := apptest.New(t)

	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, id.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, comps)
	require.Len(t, issues, 1)
	assert.Equal(t, entity.FlagRecipeMissing, issues[0].Code)
}

func TestResolve_OptionsOverrideAndAdd(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	oat := f.Ingredient("OAT", "ML")
	beans := f.Ingredient("BEANS", "G")
	syrup := f.Ingredient("SYRUP", "ML")

	latte := f.ItemRecipe(apptest.Line(beans, "18", "G"), apptest.Line(milk, "200", "ML"))

	large := id.New()
	f.Recipe(entity.TargetOption, large, "", apptest.Line(milk, "300", "ML"))
	vanilla := id.New()
	f.Recipe(entity.TargetOption, vanilla, "", apptest.Line(syrup, "10", "ML"))
	oatSwap := id.New()
	f.Recipe(entity.TargetOption, oatSwap, "", apptest.Line(oat, "200", "ML"))
	noIce := id.New()

	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, latte, []id.ID{large, vanilla, noIce})
	require.NoError(t, err)
	assert.Empty(t, issues)

	got := map[id.ID]types.Quantity{}
	for _, c := range comps {
		got[c.IngredientID] = c.BaseQty
	}
	assert.Equal(t, map[id.ID]types.Quantity{
		beans: types.MustQuantity("18"),
		milk:  types.MustQuantity("300"),
		syrup: types.MustQuantity("10"),
	}, got)

	comps, _, err = f.App.Resolver.Resolve(f.Ctx, latte, []id.ID{oatSwap})
	require.NoError(t, err)
	assert.Len(t, comps, 3)
	for i := 1; i < len(comps); i++ {
		assert.Less(t, comps[i-1].IngredientID.String(), comps[i].IngredientID.String())
	}
}

func TestResolve_LastOverrideWins(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	item := f.ItemRecipe(apptest.Line(milk, "200", "ML"))

	small, large := id.New(), id.New()
	f.Recipe(entity.TargetOption, small, "", apptest.Line(milk, "150", "ML"))
	f.Recipe(entity.TargetOption, large, "", apptest.Line(milk, "300", "ML"))

	comps, _, err := f.App.Resolver.Resolve(f.Ctx, item, []id.ID{small, large})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, types.MustQuantity("300"), comps[0].BaseQty)
}

func TestResolve_OverrideThenAddition(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	beans := f.Ingredient("BEANS", "G")
	syrup := f.Ingredient("SYRUP", "ML")
	item := f.ItemRecipe(apptest.Line(beans, "18", "G"), apptest.Line(milk, "200", "ML"))

	small, large, vanilla, extraVanilla := id.New(), id.New(), id.New(), id.New()
	f.Recipe(entity.TargetOption, small, "", apptest.Line(milk, "150", "ML"))
	f.Recipe(entity.TargetOption, large, "", apptest.Line(milk, "300", "ML"))
	f.Recipe(entity.TargetOption, vanilla, "", apptest.Line(syrup, "10", "ML"))
	f.Recipe(entity.TargetOption, extraVanilla, "", apptest.Line(syrup, "5", "ML"))

	tests := []struct {
		name    string
		options []id.ID
		want    map[id.ID]types.Quantity
	}{
		{
			name:    "override then addition",
			options: []id.ID{large, vanilla},
			want: map[id.ID]types.Quantity{
				beans: types.MustQuantity("18"),
				milk:  types.MustQuantity("300"),
				syrup: types.MustQuantity("10"),
			},
		},
		{
			name:    "addition then two overrides",
			options: []id.ID{vanilla, large, small},
			want: map[id.ID]types.Quantity{
				beans: types.MustQuantity("18"),
				milk:  types.MustQuantity("150"),
				syrup: types.MustQuantity("10"),
			},
		},
		{
			name:    "additions accumulate",
			options: []id.ID{vanilla, extraVanilla},
			want: map[id.ID]types.Quantity{
				beans: types.MustQuantity("18"),
				milk:  types.MustQuantity("200"),
				syrup: types.MustQuantity("15"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comps, issues, err := f.App.Resolver.Resolve(f.Ctx, item, tt.options)
			require.NoError(t, err)
			assert.Empty(t, issues)

			got := map[id.ID]types.Quantity{}
			for _, c := range comps {
				got[c.IngredientID] = c.BaseQty
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_BadLineIsDroppedWithIssue(t *testing.T) {
	f := apptest.New(t)
	milk := f.Ingredient("MILK", "ML")
	beans := f.Ingredient("BEANS", "G")
	item := f.ItemRecipe(apptest.Line(beans, "18", "G"), apptest.Line(milk, "1", "PINT"))

	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, item, nil)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, beans, comps[0].IngredientID)
	require.Len(t, issues, 1)
	assert.Equal(t, entity.FlagUnitConversionError, issues[0].Code)
	require.NotNil(t, issues[0].IngredientID)
	assert.Equal(t, milk, *issues[0].IngredientID)
}

func TestResolve_CompositeScaledByYield(t *testing.T) {
	f := apptest.New(t)
	sugar := f.Ingredient("SUGAR", "G")
	water := f.Ingredient("WATER", "ML")
	simple := f.Ingredient("SIMPLE_SYRUP", "ML")
	// 1000 ml of syrup takes 500 g sugar and 600 ml water.
	f.Recipe(entity.TargetIngredient, simple, "1000", apptest.Line(sugar, "500", "G"), apptest.Line(water, "600", "ML"))

	item := f.ItemRecipe(apptest.Line(simple, "20", "ML"))
	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, item, nil)
	require.NoError(t, err)
	assert.Empty(t, issues)

	got := map[id.ID]types.Quantity{}
	for _, c := range comps {
		got[c.IngredientID] = c.BaseQty
	}
	assert.Equal(t, types.MustQuantity("10"), got[sugar])
	assert.Equal(t, types.MustQuantity("12"), got[water])
	assert.NotContains(t, got, simple)
}

func TestResolve_CycleFailsTheLine(t *testing.T) {
	f := apptest.New(t)
	a := f.Ingredient("A", "G")
	b := f.Ingredient("B", "G")
	salt := f.Ingredient("SALT", "G")
	f.Recipe(entity.TargetIngredient, a, "1", apptest.Line(b, "1", "G"))
	f.Recipe(entity.TargetIngredient, b, "1", apptest.Line(a, "1", "G"))

	item := f.ItemRecipe(apptest.Line(a, "5", "G"), apptest.Line(salt, "1", "G"))
	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, item, nil)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, salt, comps[0].IngredientID)
	require.Len(t, issues, 1)
	assert.Equal(t, entity.FlagCycleDetected, issues[0].Code)
}

func TestResolve_NeedsConfirmation(t *testing.T) {
	f := apptest.New(t)
	rum := f.Ingredient("RUM", "ML")
	item := id.New()
	r := entity.Recipe{
		ID:                id.New(),
		Target:            entity.RecipeTarget{Kind: entity.TargetItem, ID: item},
		Active:            true,
		NeedsConfirmation: true,
		Lines:             []entity.RecipeLine{apptest.Line(rum, "45", "ML")},
	}
	require.NoError(t, f.Store.PutRecipe(f.Ctx, r))

	comps, issues, err := f.App.Resolver.Resolve(f.Ctx, item, nil)
	require.NoError(t, err)
	assert.Len(t, comps, 1)
	require.Len(t, issues, 1)
	assert.Equal(t, entity.FlagRecipeUnconfirmed, issues[0].Code)
	assert.Equal(t, "info", issues[0].Code.Severity())
}
