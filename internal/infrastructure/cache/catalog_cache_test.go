package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

type countingRepo struct {
	ingredients map[id.ID]*entity.Ingredient
	recipes     map[entity.RecipeTarget]*entity.Recipe
	calls       map[string]int
}

func newCountingRepo() *countingRepo {
	return &countingRepo{
		ingredients: map[id.ID]*entity.Ingredient{},
		recipes:     map[entity.RecipeTarget]*entity.Recipe{},
		calls:       map[string]int{},
	}
}

func (r *countingRepo) GetIngredient(_ context.Context, ingredientID id.ID) (*entity.Ingredient, error) {
	r.calls["ingredient"]++
	ing, ok := r.ingredients[ingredientID]
	if !ok {
		return nil, apperror.NewNotFound("ingredient", ingredientID)
	}
	return ing, nil
}

func (r *countingRepo) FindActiveRecipe(_ context.Context, target entity.RecipeTarget) (*entity.Recipe, error) {
	r.calls["recipe"]++
	return r.recipes[target], nil
}

func (r *countingRepo) FindConversion(_ context.Context, _ id.ID, _, _ string) (*entity.UnitConversion, error) {
	r.calls["conversion"]++
	return nil, nil
}

func TestCatalogCache_HitsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	target := entity.RecipeTarget{Kind: entity.TargetItem, ID: id.New()}
	repo.recipes[target] = &entity.Recipe{
		ID:     id.New(),
		Target: target,
		Active: true,
		Lines:  []entity.RecipeLine{{LineNo: 1, IngredientID: id.New(), InputQty: types.MustQuantity("5"), InputUnit: "G"}},
	}
	c := NewCatalogCache(repo)

	first, err := c.FindActiveRecipe(ctx, target)
	require.NoError(t, err)
	first.Lines[0].BaseQty = types.MustQuantity("5")

	second, err := c.FindActiveRecipe(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls["recipe"])
	assert.True(t, second.Lines[0].BaseQty.IsZero(), "cached recipe must not be shared")

	c.Invalidate()
	_, err = c.FindActiveRecipe(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls["recipe"])
}

func TestCatalogCache_CachesAbsence(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	c := NewCatalogCache(repo)
	ing := id.New()

	for i := 0; i < 3; i++ {
		conv, err := c.FindConversion(ctx, ing, "PCS", "G")
		require.NoError(t, err)
		assert.Nil(t, conv)
		r, err := c.FindActiveRecipe(ctx, entity.RecipeTarget{Kind: entity.TargetIngredient, ID: ing})
		require.NoError(t, err)
		assert.Nil(t, r)
	}
	assert.Equal(t, 1, repo.calls["conversion"])
	assert.Equal(t, 1, repo.calls["recipe"])
}

func TestCatalogCache_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	c := NewCatalogCache(repo)
	ingID := id.New()

	_, err := c.GetIngredient(ctx, ingID)
	assert.True(t, apperror.IsNotFound(err))

	repo.ingredients[ingID] = &entity.Ingredient{ID: ingID, Code: "MILK", BaseUnit: "ML", Active: true}
	ing, err := c.GetIngredient(ctx, ingID)
	require.NoError(t, err)
	assert.Equal(t, "ML", ing.BaseUnit)

	_, err = c.GetIngredient(ctx, ingID)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls["ingredient"])
}

func TestCatalogCache_StaleLoadIsDropped(t *testing.T) {
	c := NewCatalogCache(newCountingRepo())
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	c.Invalidate()
	c.store(gen, func() { c.ingredients[id.New()] = &entity.Ingredient{} })
	assert.Empty(t, c.ingredients)
}
