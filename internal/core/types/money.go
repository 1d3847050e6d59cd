// Package types holds the value types of the costing ledger: exact money,
// fixed-point quantities and business dates.
package types

import (
	"github.com/shopspring/decimal"
)

// Money is an exact amount in the single operating currency. Unit costs are
// kept at full precision; rounding is left to reporting.
type Money = decimal.Decimal

func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney is for constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

func Zero() Money {
	return decimal.Zero
}
