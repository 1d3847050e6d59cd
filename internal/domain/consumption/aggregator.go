package consumption

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/recipe"
	"costengine/pkg/logger"
)

// Requirement is the total base-unit quantity of one ingredient needed by a
// branch on one business date, with the sale lines that contributed to it.
type Requirement struct {
	BranchID     id.ID
	Date         types.Date
	IngredientID id.ID
	Quantity     types.Quantity
	// SourceRefs is sorted and free of duplicates.
	SourceRefs []string
}

// DailyConsumption is the aggregator output for one (branch, date).
type DailyConsumption struct {
	BranchID id.ID
	Date     types.Date
	Location *time.Location
	// Requirements is sorted by ingredient id ascending.
	Requirements   []Requirement
	Flags          []entity.Flag
	LinesSeen      int
	LinesQualified int
}

// Aggregator computes daily ingredient requirements.
type Aggregator struct {
	repo       Repository
	resolver   *recipe.Resolver
	predicate  *SalePredicate
	defaultLoc *time.Location
}

// NewAggregator creates an aggregator. defaultLoc applies to branches without
// a timezone.
func NewAggregator(repo Repository, resolver *recipe.Resolver, predicate *SalePredicate, defaultLoc *time.Location) *Aggregator {
	if predicate == nil {
		predicate = MustSalePredicate(DefaultSalePredicate)
	}
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Aggregator{repo: repo, resolver: resolver, predicate: predicate, defaultLoc: defaultLoc}
}

// BranchLocation resolves the timezone used for a branch's business dates.
func (a *Aggregator) BranchLocation(ctx context.Context, branchID id.ID) (*time.Location, error) {
	branch, err := a.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("get branch: %w", err)
	}
	return branch.Location(a.defaultLoc), nil
}

type resolved struct {
	comps  []recipe.Component
	issues []recipe.Issue
}

// ComputeDailyConsumption sums requirements over qualifying sale lines.
func (a *Aggregator) ComputeDailyConsumption(ctx context.Context, branchID id.ID, date types.Date) (*DailyConsumption, error) {
	loc, err := a.BranchLocation(ctx, branchID)
	if err != nil {
		return nil, err
	}

	lines, err := a.repo.ListSaleLines(ctx, branchID, date.StartIn(loc), date.AddDays(1).StartIn(loc))
	if err != nil {
		return nil, fmt.Errorf("list sale lines: %w", err)
	}

	out := &DailyConsumption{BranchID: branchID, Date: date, Location: loc, LinesSeen: len(lines)}
	totals := make(map[id.ID]types.Quantity)
	refs := make(map[id.ID]map[string]struct{})
	memo := make(map[string]resolved)

	for i := range lines {
		line := &lines[i]
		if !types.DateOf(line.SoldAt, loc).Equal(date) {
			continue
		}
		ok, err := a.predicate.Match(line)
		if err != nil {
			return nil, err
		}
		if !ok || !line.QtySold.IsPositive() {
			continue
		}
		out.LinesQualified++

		key := memoKey(line.ItemID, line.Options)
		res, hit := memo[key]
		if !hit {
			comps, issues, err := a.resolver.Resolve(ctx, line.ItemID, line.Options)
			if err != nil {
				return nil, fmt.Errorf("resolve item %s: %w", line.ItemID, err)
			}
			res = resolved{comps: comps, issues: issues}
			memo[key] = res
		}

		ref := line.Ref()
		for _, issue := range res.issues {
			itemID := line.ItemID
			out.Flags = append(out.Flags, entity.Flag{
				Code:         issue.Code,
				BranchID:     branchID,
				Date:         date,
				ItemID:       &itemID,
				IngredientID: issue.IngredientID,
				SourceRef:    ref,
				Message:      issue.Err.Error(),
			})
		}
		for _, c := range res.comps {
			qty, err := c.BaseQty.Mul(line.QtySold)
			if err == nil {
				qty, err = totals[c.IngredientID].Add(qty)
			}
			if err != nil {
				// The line's share cannot be represented; it is flagged and left out.
				ingID := c.IngredientID
				itemID := line.ItemID
				out.Flags = append(out.Flags, entity.Flag{
					Code:         entity.FlagInvalidRecipeLine,
					BranchID:     branchID,
					Date:         date,
					ItemID:       &itemID,
					IngredientID: &ingID,
					SourceRef:    ref,
					Quantity:     line.QtySold,
					Message:      err.Error(),
				})
				continue
			}
			totals[c.IngredientID] = qty
			if refs[c.IngredientID] == nil {
				refs[c.IngredientID] = make(map[string]struct{})
			}
			refs[c.IngredientID][ref] = struct{}{}
		}
	}

	for ingID, qty := range totals {
		if !qty.IsPositive() {
			continue
		}
		sourceRefs := make([]string, 0, len(refs[ingID]))
		for r := range refs[ingID] {
			sourceRefs = append(sourceRefs, r)
		}
		sort.Strings(sourceRefs)
		out.Requirements = append(out.Requirements, Requirement{
			BranchID:     branchID,
			Date:         date,
			IngredientID: ingID,
			Quantity:     qty,
			SourceRefs:   sourceRefs,
		})
	}
	sort.Slice(out.Requirements, func(i, j int) bool {
		return out.Requirements[i].IngredientID.String() < out.Requirements[j].IngredientID.String()
	})

	logger.Debug(ctx, "computed daily consumption",
		"branch_id", branchID,
		"date", date.String(),
		"lines_seen", out.LinesSeen,
		"lines_qualified", out.LinesQualified,
		"ingredients", len(out.Requirements),
		"flags", len(out.Flags),
	)
	return out, nil
}

func memoKey(itemID id.ID, options []id.ID) string {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = o.String()
	}
	return itemID.String() + "|" + strings.Join(parts, ",")
}
