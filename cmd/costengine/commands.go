package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/run"
)

// resetConfirmation must be passed as --confirm to run a real reset.
const resetConfirmation = "RESET"

// errUnitsFailed makes the process exit non-zero when a run recorded failures.
var errUnitsFailed = errors.New("some units failed")

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("costengine "+name, flag.ContinueOnError)
}

// branches resolves --branches, defaulting to every known branch.
func (e *env) branches(ctx context.Context, raw string) ([]id.ID, error) {
	ids, err := parseIDs(raw)
	if err != nil || len(ids) > 0 {
		return ids, err
	}
	all, err := e.app.Stores.Admin.ListBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	for _, b := range all {
		ids = append(ids, b.ID)
	}
	if len(ids) == 0 {
		return nil, errors.New("no branches: pass --branches or seed master data first")
	}
	return ids, nil
}

func parseDateFlag(name, value string) (types.Date, error) {
	if value == "" {
		return types.Date{}, fmt.Errorf("--%s is required", name)
	}
	return types.ParseDate(value)
}

func (e *env) finishRun(summary *run.Summary) error {
	if err := e.print(summary); err != nil {
		return err
	}
	if summary.UnitsFailed > 0 {
		return fmt.Errorf("%w: %d", errUnitsFailed, summary.UnitsFailed)
	}
	return nil
}

func cmdRun(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("run")
	branchFlag := fs.String("branches", "", "comma-separated branch ids (default: all)")
	fromFlag := fs.String("from", "", "first business date, YYYY-MM-DD")
	toFlag := fs.String("to", "", "last business date, YYYY-MM-DD (default: --from)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from, err := parseDateFlag("from", *fromFlag)
	if err != nil {
		return err
	}
	to := from
	if *toFlag != "" {
		if to, err = types.ParseDate(*toFlag); err != nil {
			return err
		}
	}
	branchIDs, err := e.branches(ctx, *branchFlag)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := e.app.Engine.Run(ctx, run.Request{BranchIDs: branchIDs, From: from, To: to})
	if err != nil {
		return err
	}
	e.log.Infow("run finished",
		"run_id", summary.RunID,
		"processed", summary.UnitsProcessed,
		"skipped", summary.UnitsSkipped,
		"failed", summary.UnitsFailed,
		"elapsed", time.Since(start).String(),
	)
	return e.finishRun(summary)
}

func cmdRetry(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("retry")
	branchFlag := fs.String("branches", "", "comma-separated branch ids (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	branchIDs, err := parseIDs(*branchFlag)
	if err != nil {
		return err
	}
	summary, err := e.app.Engine.RetryFailed(ctx, branchIDs)
	if err != nil {
		return err
	}
	return e.finishRun(summary)
}

func cmdReset(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reset")
	branchFlag := fs.String("branch", "", "branch id")
	fromFlag := fs.String("from", "", "first business date to reset, YYYY-MM-DD")
	confirm := fs.String("confirm", "", "type RESET to apply; otherwise only a dry run is done")
	if err := fs.Parse(args); err != nil {
		return err
	}
	branchID, err := id.Parse(*branchFlag)
	if err != nil {
		return fmt.Errorf("--branch: %w", err)
	}
	from, err := parseDateFlag("from", *fromFlag)
	if err != nil {
		return err
	}

	dryRun := *confirm != resetConfirmation
	if dryRun && *confirm != "" {
		return fmt.Errorf("--confirm must be %q", resetConfirmation)
	}
	report, err := e.app.Engine.ResetFrom(ctx, branchID, from, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		e.log.Infow("dry run only; pass --confirm=RESET to apply")
	}
	return e.print(report)
}

func cmdCost(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("cost")
	branchFlag := fs.String("branch", "", "branch id")
	dateFlag := fs.String("date", "", "business date, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	branchID, err := id.Parse(*branchFlag)
	if err != nil {
		return fmt.Errorf("--branch: %w", err)
	}
	date, err := parseDateFlag("date", *dateFlag)
	if err != nil {
		return err
	}
	cost, err := e.app.Costs.DailyCost(ctx, branchID, date)
	if err != nil {
		return err
	}
	return e.print(cost)
}

func cmdCheck(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("check")
	branchFlag := fs.String("branches", "", "comma-separated branch ids (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	branchIDs, err := e.branches(ctx, *branchFlag)
	if err != nil {
		return err
	}

	inconsistent := 0
	for _, b := range branchIDs {
		rows, err := e.app.Ledger.ConsistencyReport(ctx, b)
		if err != nil {
			return fmt.Errorf("branch %s: %w", b, err)
		}
		for _, r := range rows {
			if !r.Consistent {
				inconsistent++
				e.log.Errorw("ledger inconsistency",
					"branch_id", b,
					"ingredient_id", r.IngredientID,
					"remaining", r.Remaining.String(),
					"movements", r.Movements.String(),
				)
			}
		}
		if err := e.print(map[string]any{"branchId": b, "ingredients": rows}); err != nil {
			return err
		}
	}
	if inconsistent > 0 {
		return fmt.Errorf("%d inconsistent ingredients", inconsistent)
	}
	return nil
}
