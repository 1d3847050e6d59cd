// Package apptest builds a fully wired engine over the in-memory store for
// package tests.
package apptest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"costengine/internal/app"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/run"
	"costengine/internal/infrastructure/storage/memory"
	"costengine/pkg/logger"
)

// Fixture is a memory-backed engine with helpers to seed master data.
type Fixture struct {
	T     testing.TB
	Ctx   context.Context
	Store *memory.Store
	App   *app.App
	// Branch is created in UTC by New.
	Branch entity.Branch
}

// Option adjusts the wiring before the app is built.
type Option func(*app.Options, *app.Stores)

// WithEngineConfig replaces the engine config.
func WithEngineConfig(cfg run.Config) Option {
	return func(o *app.Options, _ *app.Stores) { o.Engine = cfg }
}

// WithFallbackCost sets the backfill fallback unit cost.
func WithFallbackCost(cost string) Option {
	return func(o *app.Options, _ *app.Stores) { o.FallbackUnitCost = types.MustMoney(cost) }
}

// WithStores lets a test wrap individual repositories.
func WithStores(fn func(s *app.Stores)) Option {
	return func(_ *app.Options, s *app.Stores) { fn(s) }
}

// WithEngineOptions appends engine options.
func WithEngineOptions(opts ...run.Option) Option {
	return func(o *app.Options, _ *app.Stores) { o.EngineOptions = append(o.EngineOptions, opts...) }
}

// New builds a fixture with one UTC branch.
func New(t testing.TB, opts ...Option) *Fixture {
	t.Helper()
	store := memory.New()
	stores := app.MemoryStores(store)
	options := app.Options{
		Engine:           run.DefaultConfig(),
		DefaultLocation:  time.UTC,
		FallbackUnitCost: types.Zero(),
	}
	for _, opt := range opts {
		opt(&options, &stores)
	}
	a, err := app.New(stores, options)
	require.NoError(t, err)

	f := &Fixture{
		T:     t,
		Ctx:   logger.WithLogger(context.Background(), logger.Nop()),
		Store: store,
		App:   a,
	}
	f.Branch = f.AddBranch("MAIN", "UTC")
	return f
}

// AddBranch creates a branch in timezone tz.
func (f *Fixture) AddBranch(code, tz string) entity.Branch {
	b := entity.Branch{ID: id.New(), OrganizationID: id.New(), Code: code, Name: code, Timezone: tz}
	require.NoError(f.T, f.Store.PutBranch(f.Ctx, b))
	return b
}

// Ingredient creates an active ingredient with the given base unit.
func (f *Fixture) Ingredient(code, baseUnit string) id.ID {
	ing := entity.Ingredient{ID: id.New(), Code: code, Name: code, BaseUnit: baseUnit, Active: true}
	require.NoError(f.T, f.Store.PutIngredient(f.Ctx, ing))
	return ing.ID
}

// Conversion adds a conversion; a nil ingredient makes it global.
func (f *Fixture) Conversion(ingredientID *id.ID, from, to, factor string) {
	require.NoError(f.T, f.Store.PutConversion(f.Ctx, entity.UnitConversion{
		IngredientID: ingredientID,
		FromUnit:     from,
		ToUnit:       to,
		Factor:       types.MustMoney(factor),
	}))
}

// Line builds a recipe line.
func Line(ingredientID id.ID, qty, unit string) entity.RecipeLine {
	return entity.RecipeLine{IngredientID: ingredientID, InputQty: types.MustQuantity(qty), InputUnit: unit}
}

// Recipe stores an active recipe for target.
func (f *Fixture) Recipe(kind entity.TargetKind, target id.ID, yield string, lines ...entity.RecipeLine) entity.Recipe {
	for i := range lines {
		lines[i].LineNo = i + 1
	}
	r := entity.Recipe{
		ID:     id.New(),
		Target: entity.RecipeTarget{Kind: kind, ID: target},
		Name:   string(kind),
		Active: true,
		Lines:  lines,
	}
	if yield != "" {
		r.YieldQty = types.MustQuantity(yield)
	}
	require.NoError(f.T, f.Store.PutRecipe(f.Ctx, r))
	return r
}

// ItemRecipe stores an item recipe and returns the item id.
func (f *Fixture) ItemRecipe(lines ...entity.RecipeLine) id.ID {
	item := id.New()
	f.Recipe(entity.TargetItem, item, "", lines...)
	return item
}

// Receive books a real receipt and returns its batch.
func (f *Fixture) Receive(branch entity.Branch, ingredientID id.ID, qty, unitCost string, at time.Time) *entity.StockBatch {
	b, err := f.App.Ledger.Receive(f.Ctx, ledger.ReceiveRequest{
		BranchID:     branch.ID,
		IngredientID: ingredientID,
		Quantity:     types.MustQuantity(qty),
		UnitCost:     types.MustMoney(unitCost),
		ReceivedAt:   at,
		Location:     branch.Location(time.UTC),
	})
	require.NoError(f.T, err)
	return b
}

// Sell records a COMPLETED sale line.
func (f *Fixture) Sell(branch entity.Branch, itemID id.ID, qty string, at time.Time, options ...id.ID) entity.SaleLine {
	return f.SellWithStatus(branch, itemID, qty, at, "COMPLETED", options...)
}

// SellWithStatus records a sale line with an explicit status.
func (f *Fixture) SellWithStatus(branch entity.Branch, itemID id.ID, qty string, at time.Time, status string, options ...id.ID) entity.SaleLine {
	l := entity.SaleLine{
		ID:       id.New(),
		OrderID:  id.New(),
		BranchID: branch.ID,
		ItemID:   itemID,
		Options:  options,
		QtySold:  types.MustQuantity(qty),
		SoldAt:   at,
		Status:   status,
	}
	require.NoError(f.T, f.Store.PutSaleLine(f.Ctx, l))
	return l
}

// Run processes [from, to] for the given branches (the default branch when none).
func (f *Fixture) Run(from, to string, branches ...entity.Branch) (*run.Summary, error) {
	if len(branches) == 0 {
		branches = []entity.Branch{f.Branch}
	}
	ids := make([]id.ID, len(branches))
	for i, b := range branches {
		ids[i] = b.ID
	}
	return f.App.Engine.Run(f.Ctx, run.Request{
		BranchIDs: ids,
		From:      types.MustDate(from),
		To:        types.MustDate(to),
	})
}

// MustRun is Run that fails the test on error.
func (f *Fixture) MustRun(from, to string, branches ...entity.Branch) *run.Summary {
	f.T.Helper()
	s, err := f.Run(from, to, branches...)
	require.NoError(f.T, err)
	return s
}

// RequireConsistent asserts Σremaining == Σmovements for every ingredient
// of the branch and that no batch is negative.
func (f *Fixture) RequireConsistent(branch entity.Branch) {
	f.T.Helper()
	rows, err := f.App.Ledger.ConsistencyReport(f.Ctx, branch.ID)
	require.NoError(f.T, err)
	for _, r := range rows {
		require.Truef(f.T, r.Consistent, "ingredient %s: remaining %s, movements %s", r.IngredientID, r.Remaining, r.Movements)
	}
	for _, b := range f.Store.Snapshot().Batches {
		require.Falsef(f.T, b.RemainingQty.IsNegative(), "batch %s went negative", b.ID)
		require.LessOrEqual(f.T, int64(b.RemainingQty), int64(b.ReceivedQty))
	}
}

// At returns a UTC instant on date at hh:mm.
func At(date string, hour, minute int) time.Time {
	d := types.MustDate(date)
	return d.StartIn(time.UTC).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}
