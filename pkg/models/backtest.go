package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestStatus supports the async-execution-with-polling pattern
// supplemented in §1C: a run is created in BacktestRunning and transitions
// exactly once to BacktestComplete or BacktestFailed.
type BacktestStatus string

const (
	BacktestRunning  BacktestStatus = "running"
	BacktestComplete BacktestStatus = "complete"
	BacktestFailed   BacktestStatus = "failed"
)

// Backtest is an immutable (save for the one Running->Complete/Failed
// transition) snapshot of a historical-replay run.
type Backtest struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	AlgorithmID         string          `json:"algorithm_id"`
	Symbol              string          `json:"symbol"`
	StartDate           time.Time       `json:"start_date"`
	EndDate             time.Time       `json:"end_date"`
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	Status              BacktestStatus  `json:"status"`
	FinalCapital        decimal.Decimal `json:"final_capital"`
	TotalReturn         decimal.Decimal `json:"total_return"`
	TotalReturnPercent  decimal.Decimal `json:"total_return_percent"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	LosingTrades        int             `json:"losing_trades"`
	WinRate             decimal.Decimal `json:"win_rate"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	SharpeRatio         decimal.Decimal `json:"sharpe_ratio"`
	ResultsJSON         string          `json:"-"`
	Error               string          `json:"error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// Trade is one closed round-trip recorded during a backtest run.
type Trade struct {
	Symbol       string          `json:"symbol"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	Quantity     int64           `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	PL           decimal.Decimal `json:"pl"`
	PLPercent    decimal.Decimal `json:"pl_percent"`
	ExitReason   string          `json:"exit_reason"`
}

// EquityPoint is one sample of the backtest's equity curve.
type EquityPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	Balance       decimal.Decimal `json:"balance"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// BacktestResultBlob is the JSON shape persisted in Backtest.ResultsJSON.
type BacktestResultBlob struct {
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}
