package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Quantity is an amount in an ingredient's base unit with four fractional
// digits, stored as a scaled integer so ledger sums are exact.
type Quantity int64

const (
	QuantityScale  int64 = 10_000
	quantityDigits int32 = 4
)

var (
	maxScaled = decimal.NewFromInt(math.MaxInt64)
	minScaled = decimal.NewFromInt(math.MinInt64)
)

// ErrQuantityOverflow is returned when a result does not fit the scaled int64.
var ErrQuantityOverflow = errors.New("quantity out of range")

// NewQuantity is a whole number of base units.
func NewQuantity(units int64) Quantity { return Quantity(units * QuantityScale) }

func NewQuantityFromInt64Scaled(v int64) Quantity { return Quantity(v) }

// NewQuantityFromDecimal rounds half away from zero to four digits.
func NewQuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	scaled := d.Shift(quantityDigits).Round(0)
	if scaled.GreaterThan(maxScaled) || scaled.LessThan(minScaled) {
		return 0, fmt.Errorf("%w: %s", ErrQuantityOverflow, d.String())
	}
	return Quantity(scaled.IntPart()), nil
}

// ParseQuantity parses "12.5" or "-0.25". Extra fractional digits are
// rounded like NewQuantityFromDecimal.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty quantity")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	q, err := NewQuantityFromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return q, nil
}

// MustQuantity is for constants and tests.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -quantityDigits) }

// Add sums two quantities, failing instead of wrapping around.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	sum := q + other
	if (other > 0 && sum < q) || (other < 0 && sum > q) {
		return 0, fmt.Errorf("%w: %s + %s", ErrQuantityOverflow, q, other)
	}
	return sum, nil
}

// Mul multiplies two quantities, e.g. a recipe line by the units sold.
func (q Quantity) Mul(other Quantity) (Quantity, error) {
	return NewQuantityFromDecimal(q.Decimal().Mul(other.Decimal()))
}

// MulFactor scales q by a unit conversion factor.
func (q Quantity) MulFactor(f decimal.Decimal) (Quantity, error) {
	return NewQuantityFromDecimal(q.Decimal().Mul(f))
}

// DivFactor divides q by a non-zero factor.
func (q Quantity) DivFactor(f decimal.Decimal) (Quantity, error) {
	return NewQuantityFromDecimal(q.Decimal().DivRound(f, 8))
}

// Cost is q × unitCost, unrounded.
func (q Quantity) Cost(unitCost Money) Money { return q.Decimal().Mul(unitCost) }

func MinQuantity(a, b Quantity) Quantity { return min(a, b) }

func (q Quantity) Int64Scaled() int64 { return int64(q) }

func (q Quantity) Float64() float64 { return float64(q) / float64(QuantityScale) }

func (q Quantity) IsZero() bool { return q == 0 }

func (q Quantity) IsPositive() bool { return q > 0 }

func (q Quantity) IsNegative() bool { return q < 0 }

func (q Quantity) Neg() Quantity { return -q }

func (q Quantity) Abs() Quantity { return max(q, -q) }

// String always prints four fractional digits.
func (q Quantity) String() string { return q.Decimal().StringFixed(quantityDigits) }

// MarshalJSON writes a JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalJSON accepts a number, a quoted number or null.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseQuantity(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
