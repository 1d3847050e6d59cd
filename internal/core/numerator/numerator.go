// Package numerator defines how synthetic receipts get their document
// numbers (BF-2026-00001). The sequence-backed generator is pkg/numerator.
package numerator

import (
	"context"
	"time"
)

// Generator issues numbers for a prefix within a period.
type Generator interface {
	// GetNextNumber returns the next number for cfg in period. A nil opts
	// means strict reservation.
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)

	// SetNextNumber overwrites the last issued value, e.g. after an import.
	SetNextNumber(ctx context.Context, cfg Config, period time.Time, value int64) error
}

// Strategy decides how sequence values are reserved.
type Strategy int

const (
	// StrategyStrict reserves one value per number inside the caller's
	// transaction, so a rolled-back backfill leaves no gap.
	StrategyStrict Strategy = iota
	// StrategyCached reserves ranges and may skip numbers after a restart.
	StrategyCached
)

type Options struct {
	Strategy Strategy
	// RangeSize applies to StrategyCached; 50 when unset.
	RangeSize int64
}

func DefaultOptions() *Options {
	return &Options{Strategy: StrategyStrict}
}

// ResetPeriod scopes a sequence. Each period starts again at 1.
type ResetPeriod string

const (
	ResetYearly  ResetPeriod = "year"
	ResetMonthly ResetPeriod = "month"
	ResetNever   ResetPeriod = "never"
)

type Config struct {
	Prefix      string
	IncludeYear bool
	PadWidth    int
	ResetPeriod ResetPeriod
}

// BackfillPrefix numbers synthetic backfill receipts.
const BackfillPrefix = "BF"

// DefaultConfig numbers per year with five digits.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: ResetYearly,
	}
}
