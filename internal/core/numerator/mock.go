package numerator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// MockGenerator numbers from one counter shared by every prefix unless
// GetNextNumberFunc overrides it.
type MockGenerator struct {
	issued atomic.Int64

	GetNextNumberFunc func(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)
}

var _ Generator = (*MockGenerator)(nil)

func (m *MockGenerator) GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error) {
	if m.GetNextNumberFunc != nil {
		return m.GetNextNumberFunc(ctx, cfg, opts, period)
	}
	return fmt.Sprintf("%s-%d-%0*d", cfg.Prefix, period.Year(), max(cfg.PadWidth, 1), m.issued.Add(1)), nil
}

func (m *MockGenerator) SetNextNumber(_ context.Context, _ Config, _ time.Time, value int64) error {
	m.issued.Store(value)
	return nil
}
