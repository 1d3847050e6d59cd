package run_test

import (
	"context"
	"sync"
	"time"

	"costengine/internal/app"
	"costengine/internal/app/apptest"
	"costengine/internal/core/apperror"
	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/movement"
)

// flakyBatches fails ApplyDepletion with CONCURRENT_MODIFICATION. failures
// counts the remaining forced conflicts; negative means always.
type flakyBatches struct {
	ledger.Repository

	mu       sync.Mutex
	failures int
	only     *id.ID
	calls    int
}

func (r *flakyBatches) ApplyDepletion(ctx context.Context, batchID id.ID, qty types.Quantity, expectedVersion int) error {
	r.mu.Lock()
	r.calls++
	fail := r.failures != 0
	if fail && r.only != nil {
		b, err := r.Repository.GetBatch(ctx, batchID)
		fail = err == nil && b.IngredientID == *r.only
	}
	if fail && r.failures > 0 {
		r.failures--
	}
	r.mu.Unlock()

	if fail {
		return apperror.NewConcurrentModification("stock batch", batchID)
	}
	return r.Repository.ApplyDepletion(ctx, batchID, qty, expectedVersion)
}

func (r *flakyBatches) setFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

func withFlakyBatches(r *flakyBatches) apptest.Option {
	return apptest.WithStores(func(s *app.Stores) {
		r.Repository = s.Batches
		s.Batches = r
	})
}

// skewedMovements misreports Σ signed quantity so the post-commit check fails.
type skewedMovements struct {
	movement.Repository
	skew types.Quantity
}

func (m *skewedMovements) SumSigned(ctx context.Context, branchID, ingredientID id.ID) (types.Quantity, error) {
	q, err := m.Repository.SumSigned(ctx, branchID, ingredientID)
	return q + m.skew, err
}

// recordingMetrics counts engine callbacks.
type recordingMetrics struct {
	mu        sync.Mutex
	finished  map[entity.UnitStatus]int
	skipped   int
	backfills int
	conflicts int
	flags     map[entity.FlagCode]int
	onFinish  func(status entity.UnitStatus)
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{finished: map[entity.UnitStatus]int{}, flags: map[entity.FlagCode]int{}}
}

func (m *recordingMetrics) UnitFinished(status entity.UnitStatus, _ time.Duration) {
	m.mu.Lock()
	m.finished[status]++
	hook := m.onFinish
	m.mu.Unlock()
	if hook != nil {
		hook(status)
	}
}

func (m *recordingMetrics) UnitSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *recordingMetrics) BackfillCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfills++
}

func (m *recordingMetrics) ConflictRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *recordingMetrics) FlagRaised(code entity.FlagCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[code]++
}

func consumptionRows(f *apptest.Fixture) []entity.StockMovement {
	var out []entity.StockMovement
	for _, m := range f.Store.Movements(f.Ctx) {
		if m.Type == entity.MovementConsumption {
			out = append(out, m)
		}
	}
	return out
}
