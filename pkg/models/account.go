package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultInitialBalance is the paper balance a brand-new account is seeded
// with on first access.
var DefaultInitialBalance = decimal.NewFromInt(100000)

// Account is the one-per-user virtual cash account. TotalValue is derived
// (balance + sum of position market values) and is recomputed by the
// bookkeeper, never written directly by a caller.
type Account struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	TotalValue      decimal.Decimal `json:"total_value"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
