package app

import (
	"context"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/recipe"
	"costengine/internal/infrastructure/cache"
	"costengine/internal/infrastructure/storage/postgres"
	"costengine/internal/infrastructure/storage/postgres/catalog_repo"
	"costengine/internal/infrastructure/storage/postgres/register_repo"
	"costengine/pkg/numerator"
)

// PostgresStores connects to dsn, applies the schema and wires every
// repository over one transaction manager.
func PostgresStores(ctx context.Context, dsn string, workers int) (Stores, error) {
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn, workers))
	if err != nil {
		return Stores{}, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return Stores{}, err
	}

	txm := postgres.NewTxManager(pool)
	audit, err := postgres.NewUnitAuditLog(txm)
	if err != nil {
		pool.Close()
		return Stores{}, err
	}
	catalog := catalog_repo.NewCatalogRepo(txm)
	recipes := cache.NewCatalogCache(catalog)
	recipes.Listen(context.WithoutCancel(ctx), pool.Pool)

	return Stores{
		Tx:        txm,
		Catalog:   cachedCatalog{Repository: catalog, recipes: recipes},
		Admin:     catalog,
		Batches:   register_repo.NewBatchRepo(txm),
		Movements: register_repo.NewMovementRepo(txm),
		Receipts:  register_repo.NewReceiptRepo(txm),
		Units:     postgres.NewUnitStore(txm),
		Outbox:    postgres.NewOutboxPublisher(txm),
		Audit:     audit,
		Ping:      pool.Ping,
		// Numbers are reserved in the unit's transaction and roll back with it.
		Sequences: numerator.NewSQLBackendFunc(func(ctx context.Context) numerator.Querier {
			return txm.GetQuerier(ctx)
		}),
		Close: func(ctx context.Context) error {
			recipes.Stop()
			postgres.LogPoolStats(ctx, pool)
			pool.Close()
			return nil
		},
	}, nil
}

// cachedCatalog serves recipe lookups from the cache and sales directly.
type cachedCatalog struct {
	consumption.Repository
	recipes recipe.Repository
}

func (c cachedCatalog) GetIngredient(ctx context.Context, ingredientID id.ID) (*entity.Ingredient, error) {
	return c.recipes.GetIngredient(ctx, ingredientID)
}

func (c cachedCatalog) FindActiveRecipe(ctx context.Context, target entity.RecipeTarget) (*entity.Recipe, error) {
	return c.recipes.FindActiveRecipe(ctx, target)
}

func (c cachedCatalog) FindConversion(ctx context.Context, ingredientID id.ID, from, to string) (*entity.UnitConversion, error) {
	return c.recipes.FindConversion(ctx, ingredientID, from, to)
}
