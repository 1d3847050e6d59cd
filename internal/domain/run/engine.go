package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"costengine/internal/core/apperror"
	appctx "costengine/internal/core/context"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/tx"
	"costengine/internal/core/types"
	"costengine/internal/domain/backfill"
	"costengine/internal/domain/consumption"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/movement"
	"costengine/pkg/logger"
)

var tracer = otel.Tracer("costengine/run")

// errAlreadyRecorded rolls back a unit whose key was recorded concurrently.
var errAlreadyRecorded = errors.New("unit already recorded")

// Config tunes the engine.
type Config struct {
	// Workers bounds how many branch lanes run at once.
	Workers int
	// MaxConflictRetries bounds plan recomputation after CONCURRENT_MODIFICATION.
	MaxConflictRetries int
	OnError            ErrorPolicy
	LaneLockTTL        time.Duration
	// SkipLedgerCheck disables the post-commit consistency check.
	SkipLedgerCheck bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		MaxConflictRetries: 3,
		OnError:            OnErrorSkip,
		LaneLockTTL:        15 * time.Minute,
	}
}

// Deps are the collaborators the engine cannot run without.
type Deps struct {
	TxManager  tx.Manager
	Aggregator *consumption.Aggregator
	Allocator  *ledger.Allocator
	Ledger     *ledger.Service
	Backfill   *backfill.Synthesizer
	Recorder   *movement.Recorder
	Batches    ledger.Repository
	Movements  movement.Repository
	Receipts   backfill.ReceiptRepository
	Units      UnitStore
}

// Option configures optional collaborators.
type Option func(*Engine)

func WithOutbox(o Outbox) Option         { return func(e *Engine) { e.outbox = o } }
func WithAuditLog(a AuditLog) Option     { return func(e *Engine) { e.audit = a } }
func WithLaneLocker(l LaneLocker) Option { return func(e *Engine) { e.locker = l } }
func WithMetrics(m Metrics) Option       { return func(e *Engine) { e.metrics = m } }

// Engine runs consumption units.
type Engine struct {
	cfg  Config
	deps Deps

	outbox  Outbox
	audit   AuditLog
	locker  LaneLocker
	metrics Metrics
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	if cfg.OnError == "" {
		cfg.OnError = OnErrorSkip
	}
	if cfg.LaneLockTTL <= 0 {
		cfg.LaneLockTTL = DefaultConfig().LaneLockTTL
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		outbox:  nopOutbox{},
		audit:   nopAudit{},
		locker:  nopLocker{},
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request selects the branches and the inclusive date range to process.
type Request struct {
	BranchIDs []id.ID
	From      types.Date
	To        types.Date
}

func (r Request) validate() error {
	if len(r.BranchIDs) == 0 {
		return apperror.NewValidation("at least one branch is required")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return apperror.NewValidation("date range is required")
	}
	if r.To.Before(r.From) {
		return apperror.NewValidation("date range end precedes start").
			WithDetail("from", r.From.String()).
			WithDetail("to", r.To.String())
	}
	return nil
}

// laneWork is the list of dates a lane visits; a nil ingredient filter means
// every ingredient with a requirement on that date.
type laneWork struct {
	branchID id.ID
	dates    []types.Date
	only     map[types.Date]map[id.ID]bool
}

// Run processes every (branch, date, ingredient) unit in the request.
// Already recorded units are skipped, so a run can be repeated safely.
func (e *Engine) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	dates := types.DatesBetween(req.From, req.To)
	work := make([]laneWork, 0, len(req.BranchIDs))
	for _, b := range uniqueIDs(req.BranchIDs) {
		work = append(work, laneWork{branchID: b, dates: dates})
	}
	return e.execute(ctx, "run", work)
}

// RetryFailed reprocesses only FAILED units, in date order per branch.
// Units whose requirement no longer exists are cleared.
func (e *Engine) RetryFailed(ctx context.Context, branchIDs []id.ID) (*Summary, error) {
	failed, err := e.deps.Units.ListFailed(ctx, branchIDs)
	if err != nil {
		return nil, fmt.Errorf("list failed units: %w", err)
	}

	byBranch := make(map[id.ID]*laneWork)
	var order []id.ID
	for _, u := range failed {
		w, ok := byBranch[u.BranchID]
		if !ok {
			w = &laneWork{branchID: u.BranchID, only: make(map[types.Date]map[id.ID]bool)}
			byBranch[u.BranchID] = w
			order = append(order, u.BranchID)
		}
		if w.only[u.Date] == nil {
			w.only[u.Date] = make(map[id.ID]bool)
			w.dates = append(w.dates, u.Date)
		}
		w.only[u.Date][u.IngredientID] = true
	}

	work := make([]laneWork, 0, len(order))
	for _, b := range order {
		w := byBranch[b]
		sort.Slice(w.dates, func(i, j int) bool { return w.dates[i].Before(w.dates[j]) })
		work = append(work, *w)
	}
	return e.execute(ctx, "retry", work)
}

func (e *Engine) execute(ctx context.Context, mode string, work []laneWork) (*Summary, error) {
	runCtx := appctx.NewRunContext()
	ctx = appctx.WithRun(ctx, runCtx)
	if appctx.GetTrace(ctx) == nil {
		ctx = appctx.WithTrace(ctx, appctx.NewTraceContext("", ""))
	}
	summary := newSummary(runCtx.RunID)

	ctx, span := tracer.Start(ctx, "run."+mode, trace.WithAttributes(
		attribute.String("run.id", runCtx.RunID),
		attribute.Int("run.lanes", len(work)),
	))
	defer span.End()

	// Unknown branches are rejected before any lane starts.
	locations := make(map[id.ID]*time.Location, len(work))
	for _, w := range work {
		loc, err := e.deps.Aggregator.BranchLocation(ctx, w.branchID)
		if err != nil {
			return nil, err
		}
		locations[w.branchID] = loc
	}

	logger.Info(ctx, "engine run started", "mode", mode, "lanes", len(work), "workers", e.cfg.Workers)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, w := range work {
		w := w
		g.Go(func() error {
			laneCtx := appctx.WithRun(gctx, runCtx.ForBranch(w.branchID.String()))
			return e.runLane(laneCtx, w, locations[w.branchID], summary)
		})
	}
	err := g.Wait()

	summary.finalize()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	logger.Info(ctx, "engine run finished",
		"mode", mode,
		"processed", summary.UnitsProcessed,
		"skipped", summary.UnitsSkipped,
		"failed", summary.UnitsFailed,
		"backfills", summary.BackfillsCreated,
		"total_cost", summary.TotalCost.String(),
		"cancelled", summary.Cancelled,
		"duration", time.Since(started),
	)
	return summary, err
}

func (e *Engine) runLane(ctx context.Context, w laneWork, loc *time.Location, summary *Summary) error {
	lock, err := e.locker.Obtain(ctx, "costengine:lane:"+w.branchID.String(), e.cfg.LaneLockTTL)
	if err != nil {
		return fmt.Errorf("obtain lane lock for branch %s: %w", w.branchID, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "release lane lock", "error", err)
		}
	}()

	// Failures persisted by earlier runs block later dates just like failures
	// of this run, so retries can never reorder an ingredient's days.
	blocked, err := e.loadFailures(ctx, w.branchID)
	if err != nil {
		return err
	}

	for _, date := range w.dates {
		if ctx.Err() != nil {
			summary.markCancelled()
			return nil
		}

		dc, err := e.deps.Aggregator.ComputeDailyConsumption(ctx, w.branchID, date)
		if err != nil {
			return fmt.Errorf("compute consumption for %s: %w", date, err)
		}
		if w.only == nil {
			e.reportFlags(ctx, summary, dc.Flags)
		}

		present := make(map[id.ID]bool, len(dc.Requirements))
		for _, req := range dc.Requirements {
			present[req.IngredientID] = true
			if w.only != nil && !w.only[date][req.IngredientID] {
				continue
			}
			if ctx.Err() != nil {
				summary.markCancelled()
				return nil
			}

			if err := e.processUnit(ctx, req, loc, blocked.blockerOf(req.IngredientID, date), summary); err != nil {
				blocked.add(req.IngredientID, date)
				if e.cfg.OnError == OnErrorFail {
					return err
				}
				continue
			}
			blocked.remove(req.IngredientID, date)
		}

		// A retried unit whose requirement vanished has nothing left to do.
		for ing := range w.only[date] {
			if present[ing] {
				continue
			}
			unit := entity.UnitKey{BranchID: w.branchID, Date: date, IngredientID: ing}
			if err := e.deps.Units.DeleteUnit(ctx, unit); err != nil {
				return fmt.Errorf("clear unit %s: %w", unit, err)
			}
			blocked.remove(ing, date)
			summary.addSkipped(types.Zero())
			e.metrics.UnitSkipped()
		}
	}
	return nil
}

// loadFailures returns the FAILED units already persisted for branchID.
func (e *Engine) loadFailures(ctx context.Context, branchID id.ID) (failureSet, error) {
	failed, err := e.deps.Units.ListFailed(ctx, []id.ID{branchID})
	if err != nil {
		return nil, fmt.Errorf("list failed units of branch %s: %w", branchID, err)
	}
	set := make(failureSet)
	for _, u := range failed {
		set.add(u.IngredientID, u.Date)
	}
	return set, nil
}

// failureSet holds the unresolved failed dates of each ingredient in a lane,
// sorted ascending.
type failureSet map[id.ID][]types.Date

func (s failureSet) add(ing id.ID, date types.Date) {
	dates := s[ing]
	i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(date) })
	if i < len(dates) && dates[i].Equal(date) {
		return
	}
	dates = append(dates, types.Date{})
	copy(dates[i+1:], dates[i:])
	dates[i] = date
	s[ing] = dates
}

func (s failureSet) remove(ing id.ID, date types.Date) {
	dates := s[ing]
	for i := range dates {
		if dates[i].Equal(date) {
			dates = append(dates[:i], dates[i+1:]...)
			break
		}
	}
	if len(dates) == 0 {
		delete(s, ing)
		return
	}
	s[ing] = dates
}

// blockerOf returns the earliest failed date of ing before date, or the zero
// date when nothing earlier is unresolved.
func (s failureSet) blockerOf(ing id.ID, date types.Date) types.Date {
	if dates := s[ing]; len(dates) > 0 && dates[0].Before(date) {
		return dates[0]
	}
	return types.Date{}
}

// processUnit runs one unit through the state machine. A non-zero blockedOn
// fails the unit unless it is already recorded. The returned error is already
// recorded in the summary.
func (e *Engine) processUnit(ctx context.Context, req consumption.Requirement, loc *time.Location, blockedOn types.Date, summary *Summary) error {
	unit := entity.UnitKey{BranchID: req.BranchID, Date: req.Date, IngredientID: req.IngredientID}
	key := movement.IdempotencyKey(req.BranchID, req.IngredientID, req.Date, req.SourceRefs)
	started := time.Now()

	ctx, span := tracer.Start(ctx, "unit", trace.WithAttributes(
		attribute.String("unit.branch_id", unit.BranchID.String()),
		attribute.String("unit.date", unit.Date.String()),
		attribute.String("unit.ingredient_id", unit.IngredientID.String()),
	))
	defer span.End()

	prev, err := e.deps.Units.GetUnit(ctx, unit)
	if err != nil {
		return e.failUnit(ctx, summary, unit, key, fmt.Errorf("get unit: %w", err), 0)
	}
	attempts := 0
	if prev != nil {
		attempts = prev.Attempts
		if prev.Status == entity.UnitRecorded {
			if prev.IdempotencyKey == key {
				summary.addSkipped(prev.Cost)
				e.metrics.UnitSkipped()
				return nil
			}
			// The recorded movements stay authoritative until the day is reset,
			// so the RECORDED record is kept.
			cause := apperror.NewSourceChanged(prev.IdempotencyKey, key)
			e.reportFailure(ctx, summary, unit, cause)
			return cause
		}
	}

	// Movements may exist without a unit record if the record write was lost.
	existing, err := e.deps.Movements.GetByKey(ctx, key)
	if err != nil {
		return e.failUnit(ctx, summary, unit, key, fmt.Errorf("get movements: %w", err), attempts)
	}
	if len(existing) > 0 {
		return e.adoptRecorded(ctx, summary, unit, key, existing, attempts)
	}
	if !blockedOn.IsZero() {
		return e.failUnit(ctx, summary, unit, key, apperror.NewBlocked(blockedOn.String()), attempts)
	}

	var (
		result *unitResult
		runErr error
	)
	for try := 0; ; try++ {
		attempts++
		result, runErr = e.attempt(ctx, req, loc, key, attempts)
		if apperror.IsConcurrentModification(runErr) && try < e.cfg.MaxConflictRetries {
			e.metrics.ConflictRetried()
			logger.Debug(ctx, "allocation conflict, recomputing plan", "unit", unit.String(), "try", try+1)
			continue
		}
		break
	}

	if errors.Is(runErr, errAlreadyRecorded) {
		existing, err := e.deps.Movements.GetByKey(ctx, key)
		if err != nil {
			return e.failUnit(ctx, summary, unit, key, fmt.Errorf("get movements: %w", err), attempts)
		}
		return e.adoptRecorded(ctx, summary, unit, key, existing, attempts)
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return e.failUnit(ctx, summary, unit, key, runErr, attempts)
	}

	summary.addProcessed(result.cost, result.backfills)
	e.reportFlags(ctx, summary, result.flags)
	if result.backfills > 0 {
		e.metrics.BackfillCreated()
	}
	e.metrics.UnitFinished(entity.UnitRecorded, time.Since(started))
	return nil
}

type unitResult struct {
	cost      types.Money
	backfills int
	flags     []entity.Flag
}

// attempt is one transactional pass: allocate, backfill if short, commit,
// record, verify. Any error rolls the whole unit back.
func (e *Engine) attempt(ctx context.Context, req consumption.Requirement, loc *time.Location, key string, attempts int) (*unitResult, error) {
	unit := entity.UnitKey{BranchID: req.BranchID, Date: req.Date, IngredientID: req.IngredientID}
	asOf := req.Date.EndIn(loc)
	result := &unitResult{}

	err := e.deps.TxManager.RunInTransaction(ctx, func(ctx context.Context) error {
		state := entity.UnitPending
		advance := func(to entity.UnitStatus) error {
			if !state.CanTransition(to) {
				return apperror.NewInternal(fmt.Errorf("illegal unit transition %s -> %s", state, to))
			}
			state = to
			return nil
		}

		plan, err := e.deps.Allocator.TryAllocate(ctx, req.BranchID, req.IngredientID, req.Quantity, asOf)
		if err != nil {
			return err
		}

		var receipt *entity.BackfillReceipt
		if plan.Shortfall.IsPositive() {
			if err := advance(entity.UnitBackfilling); err != nil {
				return err
			}
			bf, err := e.deps.Backfill.Backfill(ctx, req.BranchID, req.IngredientID, plan.Shortfall, req.Date, loc)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			receipt = &bf.Receipt
			result.backfills = 1
			result.flags = bf.Flags

			plan, err = e.deps.Allocator.TryAllocate(ctx, req.BranchID, req.IngredientID, req.Quantity, asOf)
			if err != nil {
				return err
			}
			if plan.Shortfall.IsPositive() {
				return apperror.NewInsufficientStock(req.IngredientID.String(), req.Quantity.String(), plan.Allocated().String())
			}
		}

		if err := e.deps.Allocator.Commit(ctx, plan); err != nil {
			return err
		}
		if err := advance(entity.UnitAllocated); err != nil {
			return err
		}

		movements, created, err := e.deps.Recorder.Record(ctx, req.BranchID, req.IngredientID, req.Date, plan, req.SourceRefs)
		if err != nil {
			return err
		}
		if !created {
			return errAlreadyRecorded
		}

		if !e.cfg.SkipLedgerCheck {
			if err := e.deps.Ledger.CheckIngredient(ctx, req.BranchID, req.IngredientID); err != nil {
				return err
			}
		}

		result.cost = plan.TotalCost()
		if err := e.audit.SaveAllocation(ctx, AllocationAudit{
			RunID:          runID(ctx),
			Unit:           unit,
			IdempotencyKey: key,
			SourceRefs:     req.SourceRefs,
			Plan:           plan,
			Backfill:       receipt,
			Attempts:       attempts,
			RecordedAt:     time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("save allocation audit: %w", err)
		}

		if err := e.outbox.Publish(ctx, unitEvents(unit, key, plan, movements, receipt, result.flags)...); err != nil {
			return fmt.Errorf("publish unit events: %w", err)
		}

		if err := advance(entity.UnitRecorded); err != nil {
			return err
		}
		return e.deps.Units.SaveUnit(ctx, &entity.UnitRecord{
			UnitKey:        unit,
			Status:         state,
			IdempotencyKey: key,
			Quantity:       req.Quantity,
			Cost:           result.cost,
			Attempts:       attempts,
			UpdatedAt:      time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// adoptRecorded marks a unit RECORDED from movements already in the ledger.
func (e *Engine) adoptRecorded(ctx context.Context, summary *Summary, unit entity.UnitKey, key string, movements []entity.StockMovement, attempts int) error {
	cost := types.Zero()
	var qty types.Quantity
	for i := range movements {
		cost = cost.Add(movements[i].Cost())
		qty += movements[i].Quantity.Abs()
	}
	err := e.deps.Units.SaveUnit(ctx, &entity.UnitRecord{
		UnitKey:        unit,
		Status:         entity.UnitRecorded,
		IdempotencyKey: key,
		Quantity:       qty,
		Cost:           cost,
		Attempts:       attempts,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return e.failUnit(ctx, summary, unit, key, fmt.Errorf("save unit: %w", err), attempts)
	}
	summary.addSkipped(cost)
	e.metrics.UnitSkipped()
	return nil
}

// failUnit persists a FAILED record outside the rolled back transaction and
// returns cause.
func (e *Engine) failUnit(ctx context.Context, summary *Summary, unit entity.UnitKey, key string, cause error, attempts int) error {
	code := apperror.CodeOf(cause)
	rec := &entity.UnitRecord{
		UnitKey:        unit,
		Status:         entity.UnitFailed,
		IdempotencyKey: key,
		Cost:           types.Zero(),
		Attempts:       attempts,
		ErrorCode:      code,
		LastError:      cause.Error(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := e.deps.Units.SaveUnit(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error(ctx, "save failed unit", "unit", unit.String(), "error", err)
	}
	e.reportFailure(ctx, summary, unit, cause)
	return cause
}

func (e *Engine) reportFailure(ctx context.Context, summary *Summary, unit entity.UnitKey, cause error) {
	code := apperror.CodeOf(cause)
	if code == apperror.CodeLedgerInconsistency {
		logger.Error(ctx, "ledger inconsistency, unit rolled back", "unit", unit.String(), "error", cause)
	} else {
		logger.Warn(ctx, "unit failed", "unit", unit.String(), "code", code, "error", cause)
	}

	summary.addFailed(Failure{Unit: unit, Code: code, Message: cause.Error()})
	e.metrics.UnitFinished(entity.UnitFailed, 0)
}

func (e *Engine) reportFlags(ctx context.Context, summary *Summary, flags []entity.Flag) {
	if len(flags) == 0 {
		return
	}
	summary.addFlags(flags...)
	for _, f := range flags {
		e.metrics.FlagRaised(f.Code)
		if f.Code.Severity() == "warning" {
			logger.Flag(ctx, string(f.Code), "date", f.Date.String(), "source_ref", f.SourceRef, "message", f.Message)
		}
	}
	// Backfill flags travel with the unit transaction; the rest go out here.
	var events []entity.DomainEvent
	for _, f := range flags {
		if f.Code == entity.FlagBackfillUsed || f.Code == entity.FlagBackfillNoCostHistory {
			continue
		}
		events = append(events, flagEvent(f))
	}
	if len(events) == 0 {
		return
	}
	err := e.deps.TxManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.outbox.Publish(ctx, events...)
	})
	if err != nil {
		logger.Warn(ctx, "publish data quality flags", "error", err)
	}
}

func runID(ctx context.Context) string {
	if r := appctx.GetRun(ctx); r != nil {
		return r.RunID
	}
	return ""
}

func uniqueIDs(ids []id.ID) []id.ID {
	seen := make(map[id.ID]bool, len(ids))
	out := make([]id.ID, 0, len(ids))
	for _, v := range ids {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
