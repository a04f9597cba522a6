// Package backtest implements the Backtest Engine (§4.6): a historical
// replay of the same Rule Evaluator / Action Executor pair the Live
// Execution Engine uses, against an in-memory ledger mirror instead of
// the real Bookkeeper, producing an equity curve, a trade log, and
// summary performance metrics.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/internal/marketdata"
	"github.com/paperdesk/paperdeskd/internal/rules"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// ErrInvalidRange is returned when start_date >= end_date or end_date is
// in the future (§4.6).
var ErrInvalidRange = errors.New("backtest: invalid date range")

// Engine runs backtests and persists their results via the ledger.
type Engine struct {
	store  *ledger.Store
	market *marketdata.Provider
}

// New constructs a backtest Engine.
func New(store *ledger.Store, market *marketdata.Provider) *Engine {
	return &Engine{store: store, market: market}
}

// Run executes a backtest synchronously: the caller (the API handler)
// is expected to invoke this from a worker goroutine per §5 ("Backtests
// run on a worker task so the calling request does not block
// indefinitely; results are polled").
func (e *Engine) Run(ctx context.Context, backtestID, userID, algorithmID, symbol string, start, end time.Time, initialCapital decimal.Decimal, interval models.Interval) {
	result, err := e.simulate(ctx, userID, algorithmID, symbol, start, end, initialCapital, interval)
	if err != nil {
		if ferr := e.store.FailBacktest(backtestID, err.Error()); ferr != nil {
			fmt.Printf("backtest: failed to record failure for %s: %v\n", backtestID, ferr)
		}
		return
	}

	blob := models.BacktestResultBlob{Trades: result.trades, EquityCurve: result.equity}
	blobJSON, err := json.Marshal(blob)
	if err != nil {
		_ = e.store.FailBacktest(backtestID, fmt.Sprintf("marshal results: %v", err))
		return
	}

	b := &models.Backtest{
		FinalCapital:       result.finalBalance,
		TotalReturn:        result.finalBalance.Sub(initialCapital),
		TotalReturnPercent: percentReturn(initialCapital, result.finalBalance),
		TotalTrades:        result.totalTrades,
		WinningTrades:      result.winningTrades,
		LosingTrades:       result.losingTrades,
		WinRate:            decimal.NewFromFloat(result.winRate),
		MaxDrawdown:        decimal.NewFromFloat(result.maxDrawdown),
		SharpeRatio:        decimal.NewFromFloat(result.sharpeRatio),
	}
	if err := e.store.CompleteBacktest(backtestID, b, string(blobJSON)); err != nil {
		fmt.Printf("backtest: failed to record completion for %s: %v\n", backtestID, err)
	}
}

func percentReturn(initial, final decimal.Decimal) decimal.Decimal {
	if initial.Sign() == 0 {
		return decimal.Zero
	}
	return final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100))
}

type simResult struct {
	trades        []models.Trade
	equity        []models.EquityPoint
	finalBalance  decimal.Decimal
	totalTrades   int
	winningTrades int
	losingTrades  int
	winRate       float64
	maxDrawdown   float64
	sharpeRatio   float64
}

// simPosition is the at-most-one-open-position-per-symbol ledger mirror
// §4.6 specifies for backtests, distinct from the live engine's ledger.
type simPosition struct {
	quantity     int64
	averagePrice decimal.Decimal
	entryTime    time.Time
}

func (e *Engine) simulate(ctx context.Context, userID, algorithmID, symbol string, start, end time.Time, initialCapital decimal.Decimal, interval models.Interval) (*simResult, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}
	if end.After(time.Now().UTC()) {
		return nil, ErrInvalidRange
	}
	if interval == "" {
		interval = models.Interval1d
	}

	ruleSet, err := e.store.ListRules(algorithmID)
	if err != nil {
		return nil, fmt.Errorf("backtest: load rules: %w", err)
	}

	rng := pickRange(start, end)
	bars, err := e.market.GetHistorical(ctx, symbol, rng, interval)
	if err != nil {
		return nil, fmt.Errorf("%w", marketdata.ErrUpstreamUnavailable)
	}
	bars = filterRange(bars, start, end)
	if len(bars) == 0 {
		return nil, marketdata.ErrUpstreamUnavailable
	}

	balance := initialCapital
	var pos *simPosition
	var trades []models.Trade
	var equity []models.EquityPoint

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}

	for i, bar := range bars {
		var positionValue decimal.Decimal
		if pos != nil {
			positionValue = bar.Close.Mul(decimal.NewFromInt(pos.quantity))
		}
		totalValue := balance.Add(positionValue)
		equity = append(equity, models.EquityPoint{
			Timestamp:     bar.Timestamp,
			Balance:       balance,
			PositionValue: positionValue,
			TotalValue:    totalValue,
		})

		mctx := buildContext(symbol, bar, closes, i, balance, pos)

		for _, rule := range ruleSet {
			if !rules.Evaluate(rule, mctx) {
				continue
			}
			intent, err := rules.Execute(rule.Action, mctx)
			if err != nil || intent.Quantity <= 0 {
				continue
			}
			balance, pos, trades = applyIntent(intent, bar, balance, pos, symbol, trades)
			mctx.Balance, _ = balance.Float64()
			if pos != nil {
				mctx.Position = simPositionContext(pos, bar.Close)
			} else {
				mctx.Position = nil
			}
		}
	}

	if pos != nil {
		last := bars[len(bars)-1]
		proceeds := last.Close.Mul(decimal.NewFromInt(pos.quantity))
		pl := proceeds.Sub(pos.averagePrice.Mul(decimal.NewFromInt(pos.quantity)))
		balance = balance.Add(proceeds)
		trades = append(trades, models.Trade{
			Symbol:     symbol,
			EntryTime:  pos.entryTime,
			ExitTime:   last.Timestamp,
			Quantity:   pos.quantity,
			EntryPrice: pos.averagePrice,
			ExitPrice:  last.Close,
			PL:         pl,
			PLPercent:  plPercent(pos.averagePrice, pos.quantity, pl),
			ExitReason: "End of backtest period",
		})
		pos = nil
		equity[len(equity)-1].Balance = balance
		equity[len(equity)-1].PositionValue = decimal.Zero
		equity[len(equity)-1].TotalValue = balance
	}

	return summarize(trades, equity, balance), nil
}

func buildContext(symbol string, bar models.Bar, closes []float64, i int, balance decimal.Decimal, pos *simPosition) rules.MarketContext {
	price, _ := bar.Close.Float64()
	open, _ := bar.Open.Float64()
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()
	bal, _ := balance.Float64()

	change := 0.0
	changePct := 0.0
	if i > 0 {
		change = closes[i] - closes[i-1]
		if closes[i-1] != 0 {
			changePct = change / closes[i-1] * 100
		}
	}

	windowStart := i - 50
	if windowStart < 0 {
		windowStart = 0
	}
	window := closes[windowStart : i+1]

	indicators := make(map[string]float64)
	if len(window) >= 20 {
		if v, ok := lastSMA(window, 20); ok {
			indicators["sma_20"] = v
		}
	}
	if len(window) >= 50 {
		if v, ok := lastSMA(window, 50); ok {
			indicators["sma_50"] = v
		}
	}
	if len(window) >= 15 {
		if v, ok := lastRSI(window, 14); ok {
			indicators["rsi"] = v
		}
	}

	mctx := rules.MarketContext{
		Symbol:        symbol,
		Price:         price,
		Open:          open,
		High:          high,
		Low:           low,
		Volume:        float64(bar.Volume),
		Change:        change,
		ChangePercent: changePct,
		Balance:       bal,
		Indicators:    indicators,
	}
	if pos != nil {
		mctx.Position = simPositionContext(pos, bar.Close)
	}
	return mctx
}

// simPositionContext mirrors the live engine's positionContextFromQuote:
// unrealized P/L is derived from the current bar's close, not a stale
// stored value, so "position.unrealizedPL"/"position.unrealizedPLPercent"
// rules (§3) behave identically in backtests and live runs.
func simPositionContext(pos *simPosition, price decimal.Decimal) *rules.PositionContext {
	qty := decimal.NewFromInt(pos.quantity)
	marketValue := price.Mul(qty)
	cost := pos.averagePrice.Mul(qty)
	unrealizedPL := marketValue.Sub(cost)
	unrealizedPLPercent := decimal.Zero
	if cost.IsPositive() {
		unrealizedPLPercent = unrealizedPL.Div(cost).Mul(decimal.NewFromInt(100))
	}
	avgF, _ := pos.averagePrice.Float64()
	plF, _ := unrealizedPL.Float64()
	plPctF, _ := unrealizedPLPercent.Float64()
	return &rules.PositionContext{
		Quantity:            float64(pos.quantity),
		AveragePrice:        avgF,
		UnrealizedPL:        plF,
		UnrealizedPLPercent: plPctF,
	}
}

// applyIntent implements §4.6's backtest ledger semantics: at most one
// open position per symbol, buy while already open is ignored, sell
// closes the position and realizes P/L.
func applyIntent(intent *rules.Intent, bar models.Bar, balance decimal.Decimal, pos *simPosition, symbol string, trades []models.Trade) (decimal.Decimal, *simPosition, []models.Trade) {
	qty := decimal.NewFromInt(intent.Quantity)
	switch intent.Verb {
	case rules.VerbBuy:
		if pos != nil {
			return balance, pos, trades // ignored: already open
		}
		cost := bar.Close.Mul(qty)
		if balance.LessThan(cost) {
			return balance, pos, trades
		}
		balance = balance.Sub(cost)
		pos = &simPosition{quantity: intent.Quantity, averagePrice: bar.Close, entryTime: bar.Timestamp}
		return balance, pos, trades
	case rules.VerbSell:
		if pos == nil {
			return balance, pos, trades // no-op: nothing to sell
		}
		sellQty := intent.Quantity
		if sellQty > pos.quantity {
			sellQty = pos.quantity
		}
		proceeds := bar.Close.Mul(decimal.NewFromInt(sellQty))
		pl := proceeds.Sub(pos.averagePrice.Mul(decimal.NewFromInt(sellQty)))
		balance = balance.Add(proceeds)
		trades = append(trades, models.Trade{
			Symbol:     symbol,
			EntryTime:  pos.entryTime,
			ExitTime:   bar.Timestamp,
			Quantity:   sellQty,
			EntryPrice: pos.averagePrice,
			ExitPrice:  bar.Close,
			PL:         pl,
			PLPercent:  plPercent(pos.averagePrice, sellQty, pl),
			ExitReason: "rule",
		})
		remaining := pos.quantity - sellQty
		if remaining == 0 {
			pos = nil
		} else {
			pos.quantity = remaining
		}
		return balance, pos, trades
	}
	return balance, pos, trades
}

func plPercent(avgPrice decimal.Decimal, qty int64, pl decimal.Decimal) decimal.Decimal {
	cost := avgPrice.Mul(decimal.NewFromInt(qty))
	if cost.Sign() == 0 {
		return decimal.Zero
	}
	return pl.Div(cost).Mul(decimal.NewFromInt(100))
}

func lastSMA(closes []float64, period int) (float64, bool) {
	v := marketdata.IndicatorFromCloses(closes, marketdata.SMA, period)
	return marketdata.Latest(v)
}

func lastRSI(closes []float64, period int) (float64, bool) {
	v := marketdata.IndicatorFromCloses(closes, marketdata.RSI, period)
	return marketdata.Latest(v)
}

func pickRange(start, end time.Time) models.Range {
	span := end.Sub(start)
	switch {
	case span <= 24*time.Hour:
		return models.Range1D
	case span <= 5*24*time.Hour:
		return models.Range5D
	case span <= 31*24*time.Hour:
		return models.Range1Mo
	case span <= 93*24*time.Hour:
		return models.Range3Mo
	case span <= 186*24*time.Hour:
		return models.Range6Mo
	case span <= 366*24*time.Hour:
		return models.Range1Y
	case span <= 2*366*24*time.Hour:
		return models.Range2Y
	default:
		return models.Range5Y
	}
}

func filterRange(bars []models.Bar, start, end time.Time) []models.Bar {
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}

func summarize(trades []models.Trade, equity []models.EquityPoint, finalBalance decimal.Decimal) *simResult {
	r := &simResult{trades: trades, equity: equity, finalBalance: finalBalance}
	r.totalTrades = len(trades)

	var sumWin, sumLoss float64
	for _, t := range trades {
		pl, _ := t.PL.Float64()
		if pl > 0 {
			r.winningTrades++
			sumWin += pl
		} else if pl < 0 {
			r.losingTrades++
			sumLoss += -pl
		}
	}
	if r.totalTrades > 0 {
		r.winRate = float64(r.winningTrades) / float64(r.totalTrades) * 100
	}

	r.maxDrawdown = maxDrawdown(equity)
	r.sharpeRatio = sharpeRatio(equity)
	return r
}

func maxDrawdown(equity []models.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak, _ := equity[0].TotalValue.Float64()
	maxDD := 0.0
	for _, p := range equity {
		v, _ := p.TotalValue.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpeRatio follows §4.6: ((mean_return - rf) / stdev_return) * sqrt(252),
// rf = 0.02/252, over per-step simple returns of total_value. 0 if fewer
// than 2 points or zero variance.
func sharpeRatio(equity []models.EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, _ := equity[i-1].TotalValue.Float64()
		cur, _ := equity[i].TotalValue.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}

	const rf = 0.02 / 252
	return ((mean - rf) / stdev) * math.Sqrt(252)
}
