// Package numerator provides receipt auto-numbering on top of a sequence backend.
package numerator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	corenumerator "costengine/internal/core/numerator"
)

// Backend reserves sequence values.
type Backend interface {
	// Reserve bumps the sequence for key by n and returns the new last value.
	Reserve(ctx context.Context, key string, n int64) (int64, error)
	// Set overwrites the last issued value.
	Set(ctx context.Context, key string, value int64) error
}

// Querier interface for database operations.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLBackend keeps sequences in the sys_sequences table.
type SQLBackend struct {
	querier func(ctx context.Context) Querier
}

// NewSQLBackendFunc resolves the querier per call, so that numbers are
// reserved inside the caller's transaction when there is one.
func NewSQLBackendFunc(fn func(ctx context.Context) Querier) *SQLBackend {
	return &SQLBackend{querier: fn}
}

func (b *SQLBackend) Reserve(ctx context.Context, key string, n int64) (int64, error) {
	var last int64
	err := b.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + $2
		RETURNING current_val
	`, key, n).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("reserve sequence %s: %w", key, err)
	}
	return last, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, value int64) error {
	var result int64
	err := b.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = $2
		RETURNING current_val
	`, key, value).Scan(&result)
	if err != nil {
		return fmt.Errorf("set sequence %s: %w", key, err)
	}
	return nil
}

type cachedRange struct {
	current int64
	max     int64
}

// Service implements corenumerator.Generator.
type Service struct {
	backend Backend

	// cacheMu protects ranges map
	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

var _ corenumerator.Generator = (*Service)(nil)

// New creates a numerator service.
func New(backend Backend) *Service {
	return &Service{
		backend: backend,
		ranges:  make(map[string]*cachedRange),
	}
}

// GetNextNumber generates the next number.
// Pattern: PREFIX-YEAR-XXXXX (e.g., BF-2026-00001)
func (s *Service) GetNextNumber(ctx context.Context, cfg corenumerator.Config, opts *corenumerator.Options, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if opts == nil {
		opts = corenumerator.DefaultOptions()
	}

	key := buildKey(cfg, period)
	var (
		num int64
		err error
	)
	switch opts.Strategy {
	case corenumerator.StrategyCached:
		num, err = s.getNextCached(ctx, key, opts)
	default:
		num, err = s.backend.Reserve(ctx, key, 1)
	}
	if err != nil {
		return "", err
	}

	return formatNumber(cfg, period, num), nil
}

// getNextCached fetches next number from memory, refilling from the backend if needed.
func (s *Service) getNextCached(ctx context.Context, key string, opts *corenumerator.Options) (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, exists := s.ranges[key]
	if !exists {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		size := opts.RangeSize
		if size <= 0 {
			size = 50
		}
		newMax, err := s.backend.Reserve(ctx, key, size)
		if err != nil {
			return 0, fmt.Errorf("reserve range: %w", err)
		}
		// The reserved range is (newMax-size, newMax].
		rng.current = newMax - size
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

// SetNextNumber sets the last issued value and drops any cached range.
func (s *Service) SetNextNumber(ctx context.Context, cfg corenumerator.Config, period time.Time, value int64) error {
	key := buildKey(cfg, period)
	err := s.backend.Set(ctx, key, value)

	s.cacheMu.Lock()
	delete(s.ranges, key)
	s.cacheMu.Unlock()

	return err
}

// buildKey creates the sequence key based on config and period.
func buildKey(cfg corenumerator.Config, period time.Time) string {
	switch cfg.ResetPeriod {
	case corenumerator.ResetMonthly:
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006_01"))
	case corenumerator.ResetYearly:
		return fmt.Sprintf("%s_%s", cfg.Prefix, period.Format("2006"))
	default:
		return cfg.Prefix
	}
}

// formatNumber creates the final number string.
func formatNumber(cfg corenumerator.Config, period time.Time, num int64) string {
	padWidth := cfg.PadWidth
	if padWidth == 0 {
		padWidth = 5
	}

	if cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, period.Format("2006"), padWidth, num)
	}
	return fmt.Sprintf("%s-%0*d", cfg.Prefix, padWidth, num)
}
