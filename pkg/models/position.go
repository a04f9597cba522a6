package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the long holding of one symbol in one account. The composite
// key (AccountID, Symbol) is unique; a position with Quantity == 0 does not
// exist as a row (§3 invariant 2).
type Position struct {
	AccountID          string          `json:"account_id"`
	Symbol             string          `json:"symbol"`
	Quantity           int64           `json:"quantity"`
	AveragePrice       decimal.Decimal `json:"average_price"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
	MarketValue        decimal.Decimal `json:"market_value"`
	UnrealizedPL        decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealized_pl_percent"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Recompute refreshes the derived fields from a current market price. It
// does not touch Quantity or AveragePrice.
func (p *Position) Recompute(currentPrice decimal.Decimal) {
	p.CurrentPrice = currentPrice
	qty := decimal.NewFromInt(p.Quantity)
	p.MarketValue = currentPrice.Mul(qty).Round(2)
	cost := p.AveragePrice.Mul(qty)
	p.UnrealizedPL = p.MarketValue.Sub(cost).Round(2)
	if cost.IsPositive() {
		p.UnrealizedPLPercent = p.UnrealizedPL.Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
	} else {
		p.UnrealizedPLPercent = decimal.Zero
	}
}
