// Package money holds small fixed-point decimal helpers for cash and
// quantity math: cent rounding, parsing, share flooring, and percent math.
// No other package in this module imports it; they call shopspring/decimal
// directly.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the canonical zero value, exported so callers don't repeat
// decimal.NewFromInt(0) everywhere.
var Zero = decimal.Zero

// Round2 rounds to 2 decimal places (cents), matching the NUMERIC(15,2) /
// NUMERIC(10,2) columns the ledger schema carries.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Parse parses a decimal literal. It does not accept scientific notation
// with an exponent sign glued to letters other than e/E, matching the
// "finite decimal literal" language in the rule evaluator's field grammar.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// FloorShares truncates a share-count decimal toward zero, since fractional
// shares are never produced by the Action Executor's qualifiers.
func FloorShares(d decimal.Decimal) int64 {
	return d.Truncate(0).IntPart()
}

// PercentOf returns d * pct / 100.
func PercentOf(d decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(decimal.NewFromInt(100))
}
