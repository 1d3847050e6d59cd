package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/app/apptest"
	"costengine/internal/core/apperror"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
)

func TestTryAllocate_FIFO(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	b1 := f.Receive(f.Branch, beans, "10", "100", apptest.At("2026-03-01", 8, 0))
	b2 := f.Receive(f.Branch, beans, "10", "120", apptest.At("2026-03-02", 8, 0))

	asOf := apptest.At("2026-03-14", 23, 59)
	plan, err := f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, types.MustQuantity("15"), asOf)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, b1.ID, plan.Entries[0].BatchID)
	assert.Equal(t, types.MustQuantity("10"), plan.Entries[0].Quantity)
	assert.Equal(t, "100", plan.Entries[0].UnitCost.String())
	assert.Equal(t, b2.ID, plan.Entries[1].BatchID)
	assert.Equal(t, types.MustQuantity("5"), plan.Entries[1].Quantity)
	assert.True(t, plan.Shortfall.IsZero())
	assert.Equal(t, "1600", plan.TotalCost().String())

	// TryAllocate is read-only.
	avail, err := f.App.Allocator.AvailableStock(f.Ctx, f.Branch.ID, beans, asOf)
	require.NoError(t, err)
	assert.Equal(t, types.MustQuantity("20"), avail)

	require.NoError(t, f.App.Allocator.Commit(f.Ctx, plan))
	batches, err := f.Store.ListBatches(f.Ctx, f.Branch.ID, beans)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(0), batches[0].RemainingQty)
	assert.Equal(t, types.MustQuantity("5"), batches[1].RemainingQty)
	assert.Equal(t, 2, batches[0].Version)
}

func TestTryAllocate_SameInstantOrderedByID(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	at := apptest.At("2026-03-01", 8, 0)
	a := f.Receive(f.Branch, beans, "1", "1", at)
	b := f.Receive(f.Branch, beans, "1", "2", at)
	first, second := a, b
	if b.ID.String() < a.ID.String() {
		first, second = b, a
	}

	plan, err := f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, types.MustQuantity("2"), at)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, first.ID, plan.Entries[0].BatchID)
	assert.Equal(t, second.ID, plan.Entries[1].BatchID)
}

func TestTryAllocate_ShortfallAndAsOf(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	f.Receive(f.Branch, beans, "30", "2", apptest.At("2026-03-10", 8, 0))
	f.Receive(f.Branch, beans, "100", "2", apptest.At("2026-03-20", 8, 0))

	plan, err := f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, types.MustQuantity("50"), apptest.At("2026-03-14", 23, 0))
	require.NoError(t, err)
	assert.Equal(t, types.MustQuantity("30"), plan.Allocated())
	assert.Equal(t, types.MustQuantity("20"), plan.Shortfall)

	err = f.App.Allocator.Commit(f.Ctx, plan)
	assert.True(t, apperror.Is(err, apperror.CodeInsufficientStock))

	_, err = f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, 0, time.Now())
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestCommit_StalePlanIsRejectedAtomically(t *testing.T) {
	f := apptest.New(t)
	beans := f.Ingredient("BEANS", "G")
	f.Receive(f.Branch, beans, "10", "1", apptest.At("2026-03-01", 8, 0))
	f.Receive(f.Branch, beans, "10", "1", apptest.At("2026-03-02", 8, 0))
	asOf := apptest.At("2026-03-14", 0, 0)

	stale, err := f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, types.MustQuantity("15"), asOf)
	require.NoError(t, err)

	// A concurrent consumer depletes the second batch first.
	other := &ledger.Plan{
		BranchID:     f.Branch.ID,
		IngredientID: beans,
		Required:     types.MustQuantity("1"),
		Entries:      []ledger.PlanEntry{stale.Entries[1]},
	}
	other.Entries[0].Quantity = types.MustQuantity("1")
	require.NoError(t, f.App.Allocator.Commit(f.Ctx, other))

	err = f.App.Allocator.Commit(f.Ctx, stale)
	require.Error(t, err)
	assert.True(t, apperror.IsConcurrentModification(err))

	// The first entry of the stale plan must not have been applied.
	total, err := f.Store.SumRemaining(f.Ctx, f.Branch.ID, beans)
	require.NoError(t, err)
	assert.Equal(t, types.MustQuantity("19"), total)

	fresh, err := f.App.Allocator.TryAllocate(f.Ctx, f.Branch.ID, beans, types.MustQuantity("15"), asOf)
	require.NoError(t, err)
	require.NoError(t, f.App.Allocator.Commit(f.Ctx, fresh))
	total, err = f.Store.SumRemaining(f.Ctx, f.Branch.ID, beans)
	require.NoError(t, err)
	assert.Equal(t, types.MustQuantity("4"), total)
}
