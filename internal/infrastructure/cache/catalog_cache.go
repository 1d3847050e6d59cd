// Package cache memoizes catalog lookups with invalidation through
// PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/domain/recipe"
	"costengine/pkg/logger"
)

// Channel is the NOTIFY channel fired by the catalog tables' triggers.
const Channel = "catalog_changed"

type conversionKey struct {
	ingredientID id.ID
	from, to     string
}

// CatalogCache sits in front of a recipe.Repository. Misses, including
// "no such recipe", are cached until the next invalidation. Callers get
// copies, so the cached values are never shared.
type CatalogCache struct {
	next recipe.Repository

	mu sync.RWMutex
	// gen is bumped by Invalidate; a lookup that raced an invalidation
	// does not store its result.
	gen         uint64
	ingredients map[id.ID]*entity.Ingredient
	recipes     map[entity.RecipeTarget]*entity.Recipe
	conversions map[conversionKey]*entity.UnitConversion

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var _ recipe.Repository = (*CatalogCache)(nil)

// NewCatalogCache wraps next.
func NewCatalogCache(next recipe.Repository) *CatalogCache {
	c := &CatalogCache{next: next}
	c.Invalidate()
	return c
}

// Invalidate drops every cached entry.
func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.ingredients = make(map[id.ID]*entity.Ingredient)
	c.recipes = make(map[entity.RecipeTarget]*entity.Recipe)
	c.conversions = make(map[conversionKey]*entity.UnitConversion)
}

func (c *CatalogCache) store(gen uint64, put func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		put()
	}
}

func (c *CatalogCache) GetIngredient(ctx context.Context, ingredientID id.ID) (*entity.Ingredient, error) {
	c.mu.RLock()
	ing, ok := c.ingredients[ingredientID]
	gen := c.gen
	c.mu.RUnlock()
	if !ok {
		var err error
		// NotFound is not cached: the ingredient may be created any moment.
		if ing, err = c.next.GetIngredient(ctx, ingredientID); err != nil {
			return nil, err
		}
		c.store(gen, func() { c.ingredients[ingredientID] = ing })
	}
	out := *ing
	return &out, nil
}

func (c *CatalogCache) FindActiveRecipe(ctx context.Context, target entity.RecipeTarget) (*entity.Recipe, error) {
	c.mu.RLock()
	r, ok := c.recipes[target]
	gen := c.gen
	c.mu.RUnlock()
	if !ok {
		var err error
		if r, err = c.next.FindActiveRecipe(ctx, target); err != nil {
			return nil, err
		}
		c.store(gen, func() { c.recipes[target] = r })
	}
	if r == nil {
		return nil, nil
	}
	out := *r
	out.Lines = append([]entity.RecipeLine(nil), r.Lines...)
	return &out, nil
}

func (c *CatalogCache) FindConversion(ctx context.Context, ingredientID id.ID, from, to string) (*entity.UnitConversion, error) {
	key := conversionKey{ingredientID: ingredientID, from: from, to: to}
	c.mu.RLock()
	conv, ok := c.conversions[key]
	gen := c.gen
	c.mu.RUnlock()
	if !ok {
		var err error
		if conv, err = c.next.FindConversion(ctx, ingredientID, from, to); err != nil {
			return nil, err
		}
		c.store(gen, func() { c.conversions[key] = conv })
	}
	if conv == nil {
		return nil, nil
	}
	out := *conv
	return &out, nil
}

// Listen invalidates the cache on every catalog_changed notification until
// Stop. A reconnect also invalidates, since notifications may have been
// missed while the connection was down.
func (c *CatalogCache) Listen(ctx context.Context, pool *pgxpool.Pool) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.listenLoop(ctx, pool)
}

// Stop ends the listener and waits for it.
func (c *CatalogCache) Stop() {
	c.lifecycleMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifecycleMu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *CatalogCache) listenLoop(ctx context.Context, pool *pgxpool.Pool) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error(ctx, "failed to acquire connection for LISTEN", "error", err)
				sleep(ctx, time.Second)
			}
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
			logger.Error(ctx, "failed to LISTEN", "channel", Channel, "error", err)
			conn.Release()
			sleep(ctx, time.Second)
			continue
		}
		c.Invalidate()
		logger.Debug(ctx, "listening for catalog changes", "channel", Channel)

		c.waitForNotifications(ctx, conn)
		// The session still has LISTEN active; do not return it to the pool.
		_ = conn.Hijack().Close(context.Background())
	}
}

func (c *CatalogCache) waitForNotifications(ctx context.Context, conn *pgxpool.Conn) {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "catalog listener lost connection", "error", err)
			}
			return
		}
		logger.Debug(ctx, "catalog changed", "table", n.Payload)
		c.Invalidate()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
