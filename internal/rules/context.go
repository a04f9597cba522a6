package rules

import "github.com/paperdesk/paperdeskd/pkg/models"

// PositionContext is the optional position sub-record within a
// MarketContext (§4.3): present only when the account holds shares of
// the symbol being evaluated.
type PositionContext struct {
	Quantity            float64
	AveragePrice        float64
	UnrealizedPL        float64
	UnrealizedPLPercent float64
}

// MarketContext is everything a rule's condition_field can resolve
// against for one symbol on one tick (§4.3).
type MarketContext struct {
	Symbol        string
	Price         float64
	Open          float64
	High          float64
	Low           float64
	Volume        float64
	Change        float64
	ChangePercent float64
	Balance       float64

	Position *PositionContext

	// Indicators, present only when enough history exists to compute
	// them (§4.1/§4.6: "insufficient history ⇒ field absent").
	Indicators map[string]float64
}

// FromQuote builds the base fields of a MarketContext from a live
// quote and the given balance; callers attach Position/Indicators
// separately.
func FromQuote(q *models.Quote, balance float64) MarketContext {
	price, _ := q.Price.Float64()
	open, _ := q.Open.Float64()
	high, _ := q.High.Float64()
	low, _ := q.Low.Float64()
	change, _ := q.Change.Float64()
	changePct, _ := q.ChangePercent.Float64()
	return MarketContext{
		Symbol:        q.Symbol,
		Price:         price,
		Open:          open,
		High:          high,
		Low:           low,
		Volume:        float64(q.Volume),
		Change:        change,
		ChangePercent: changePct,
		Balance:       balance,
		Indicators:    make(map[string]float64),
	}
}
