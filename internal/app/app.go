// Package app wires the engine services over a storage backend.
package app

import (
	"context"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/backfill"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/movement"
	"costengine/internal/domain/recipe"
	"costengine/internal/domain/run"
	"costengine/pkg/numerator"
)

// Catalog is the read side the engine needs from master data and sales.
type Catalog interface {
	recipe.Repository
	consumption.Repository
}

// CatalogAdmin maintains master data and sales. Used by seeding and tests.
type CatalogAdmin interface {
	PutBranch(ctx context.Context, b entity.Branch) error
	PutIngredient(ctx context.Context, ing entity.Ingredient) error
	PutRecipe(ctx context.Context, r entity.Recipe) error
	PutConversion(ctx context.Context, c entity.UnitConversion) error
	PutSaleLine(ctx context.Context, l entity.SaleLine) error
	SetSaleStatus(ctx context.Context, lineID id.ID, status string) error
	ListBranches(ctx context.Context) ([]entity.Branch, error)
}

// Stores bundles one backend's repository implementations.
type Stores struct {
	Tx        tx.Manager
	Catalog   Catalog
	Admin     CatalogAdmin
	Batches   ledger.Repository
	Movements movement.Repository
	Receipts  backfill.ReceiptRepository
	Units     run.UnitStore
	Outbox    run.Outbox
	Audit     run.AuditLog
	Sequences numerator.Backend
	// Ping checks the backend connection. May be nil.
	Ping func(ctx context.Context) error
	// Close releases backend resources. May be nil.
	Close func(ctx context.Context) error
}

// Options are the tunables of a wired engine.
type Options struct {
	Engine           run.Config
	SalePredicate    string
	DefaultLocation  *time.Location
	FallbackUnitCost types.Money
	// Extra engine options (locker, metrics).
	EngineOptions []run.Option
}

// App exposes the wired services.
type App struct {
	Stores     Stores
	Resolver   *recipe.Resolver
	Aggregator *consumption.Aggregator
	Allocator  *ledger.Allocator
	Ledger     *ledger.Service
	Backfill   *backfill.Synthesizer
	Recorder   *movement.Recorder
	Costs      *movement.CostAggregator
	Numerator  *numerator.Service
	Engine     *run.Engine

	maxConflictRetries int
}

// New wires every service over stores.
func New(stores Stores, opts Options) (*App, error) {
	predicate, err := consumption.NewSalePredicate(opts.SalePredicate)
	if err != nil {
		return nil, err
	}

	resolver := recipe.NewResolver(stores.Catalog)
	aggregator := consumption.NewAggregator(stores.Catalog, resolver, predicate, opts.DefaultLocation)
	allocator := ledger.NewAllocator(stores.Batches, stores.Tx)
	ledgerSvc := ledger.NewService(stores.Batches, stores.Movements, allocator, stores.Tx)
	num := numerator.New(stores.Sequences)
	synth := backfill.NewSynthesizer(stores.Batches, stores.Movements, stores.Receipts, num, opts.FallbackUnitCost)
	recorder := movement.NewRecorder(stores.Movements)

	engineOpts := make([]run.Option, 0, len(opts.EngineOptions)+2)
	if stores.Outbox != nil {
		engineOpts = append(engineOpts, run.WithOutbox(stores.Outbox))
	}
	if stores.Audit != nil {
		engineOpts = append(engineOpts, run.WithAuditLog(stores.Audit))
	}
	engineOpts = append(engineOpts, opts.EngineOptions...)

	engine := run.NewEngine(opts.Engine, run.Deps{
		TxManager:  stores.Tx,
		Aggregator: aggregator,
		Allocator:  allocator,
		Ledger:     ledgerSvc,
		Backfill:   synth,
		Recorder:   recorder,
		Batches:    stores.Batches,
		Movements:  stores.Movements,
		Receipts:   stores.Receipts,
		Units:      stores.Units,
	}, engineOpts...)

	return &App{
		Stores:     stores,
		Resolver:   resolver,
		Aggregator: aggregator,
		Allocator:  allocator,
		Ledger:     ledgerSvc,
		Backfill:   synth,
		Recorder:   recorder,
		Costs:      movement.NewCostAggregator(stores.Movements),
		Numerator:  num,
		Engine:     engine,

		maxConflictRetries: opts.Engine.MaxConflictRetries,
	}, nil
}

// Ping reports whether the backend is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.Stores.Ping == nil {
		return nil
	}
	return a.Stores.Ping(ctx)
}

// Close releases the backend.
func (a *App) Close(ctx context.Context) error {
	if a.Stores.Close == nil {
		return nil
	}
	return a.Stores.Close(ctx)
}
