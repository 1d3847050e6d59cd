package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "engine.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	branch := entity.Branch{ID: id.New(), Code: "MAIN", Timezone: "Asia/Jakarta"}
	require.NoError(t, s.PutBranch(ctx, branch))
	batch := &entity.StockBatch{
		ID:           id.New(),
		BranchID:     branch.ID,
		IngredientID: id.New(),
		ReceivedQty:  types.MustQuantity("12.5"),
		RemainingQty: types.MustQuantity("12.5"),
		UnitCost:     types.MustMoney("0.0125"),
		ReceivedAt:   time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateBatch(ctx, batch))
	_, err = s.Reserve(ctx, "BF_2026", 1)
	require.NoError(t, err)

	// A failed transaction is neither applied nor persisted.
	boom := errors.New("boom")
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.DeleteBatches(ctx, []id.ID{batch.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetBranch(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", got.Timezone)

	b, err := reopened.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.RemainingQty, b.RemainingQty)
	assert.True(t, batch.UnitCost.Equal(b.UnitCost))
	assert.True(t, batch.ReceivedAt.Equal(b.ReceivedAt))
	assert.Equal(t, 1, b.Version)

	next, err := reopened.Reserve(ctx, "BF_2026", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}
