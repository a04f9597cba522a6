package ledger

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// CreateBacktest persists a new backtest record in status=running,
// supporting the async-execution-with-polling pattern supplemented in
// §1C. The caller (internal/backtest) fills in the results later via
// CompleteBacktest/FailBacktest.
func (s *Store) CreateBacktest(userID, algorithmID, symbol string, start, end time.Time, initialCapital decimal.Decimal) (*models.Backtest, error) {
	now := time.Now().UTC()
	b := &models.Backtest{
		ID:             uuid.NewString(),
		UserID:         userID,
		AlgorithmID:    algorithmID,
		Symbol:         symbol,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: initialCapital,
		Status:         models.BacktestRunning,
		CreatedAt:      now,
	}
	_, err := s.db.Exec(
		`INSERT INTO backtests (id, user_id, algorithm_id, symbol, start_date, end_date, initial_capital, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.AlgorithmID, b.Symbol, start.Format(timeLayout), end.Format(timeLayout),
		initialCapital.String(), b.Status, now.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CompleteBacktest writes the final metrics and the results JSON blob,
// transitioning status from running to complete exactly once.
func (s *Store) CompleteBacktest(id string, b *models.Backtest, resultsJSON string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE backtests SET status = ?, final_capital = ?, total_return = ?, total_return_percent = ?,
		        total_trades = ?, winning_trades = ?, losing_trades = ?, win_rate = ?, max_drawdown = ?,
		        sharpe_ratio = ?, results_json = ?, completed_at = ?
		  WHERE id = ?`,
		models.BacktestComplete, b.FinalCapital.String(), b.TotalReturn.String(), b.TotalReturnPercent.String(),
		b.TotalTrades, b.WinningTrades, b.LosingTrades, b.WinRate.String(), b.MaxDrawdown.String(),
		b.SharpeRatio.String(), resultsJSON, now.Format(timeLayout), id,
	)
	return err
}

// FailBacktest transitions status from running to failed with an error
// message, for UpstreamUnavailable-class failures (§7, §8 boundary
// behavior "Backtest over a range containing zero bars").
func (s *Store) FailBacktest(id string, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE backtests SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		models.BacktestFailed, errMsg, now.Format(timeLayout), id,
	)
	return err
}

// GetBacktest looks up a backtest scoped to userID.
func (s *Store) GetBacktest(userID, id string) (*models.Backtest, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, algorithm_id, symbol, start_date, end_date, initial_capital, status,
		        final_capital, total_return, total_return_percent, total_trades, winning_trades, losing_trades,
		        win_rate, max_drawdown, sharpe_ratio, results_json, error, created_at, completed_at
		   FROM backtests WHERE id = ? AND user_id = ?`, id, userID)
	return scanBacktest(row)
}

// ListBacktestsForAlgorithm returns every backtest run for an algorithm,
// most recent first.
func (s *Store) ListBacktestsForAlgorithm(userID, algorithmID string) ([]models.Backtest, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, algorithm_id, symbol, start_date, end_date, initial_capital, status,
		        final_capital, total_return, total_return_percent, total_trades, winning_trades, losing_trades,
		        win_rate, max_drawdown, sharpe_ratio, results_json, error, created_at, completed_at
		   FROM backtests WHERE user_id = ? AND algorithm_id = ? ORDER BY created_at DESC`, userID, algorithmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Backtest
	for rows.Next() {
		b, err := scanBacktestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBacktest(row *sql.Row) (*models.Backtest, error) {
	var b models.Backtest
	var startStr, endStr, initial, final, totalRet, totalRetPct, winRate, maxDD, sharpe, created string
	var completed sql.NullString
	err := row.Scan(&b.ID, &b.UserID, &b.AlgorithmID, &b.Symbol, &startStr, &endStr, &initial, &b.Status,
		&final, &totalRet, &totalRetPct, &b.TotalTrades, &b.WinningTrades, &b.LosingTrades,
		&winRate, &maxDD, &sharpe, &b.ResultsJSON, &b.Error, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fillBacktest(&b, startStr, endStr, initial, final, totalRet, totalRetPct, winRate, maxDD, sharpe, created, completed)
}

func scanBacktestRows(rows *sql.Rows) (*models.Backtest, error) {
	var b models.Backtest
	var startStr, endStr, initial, final, totalRet, totalRetPct, winRate, maxDD, sharpe, created string
	var completed sql.NullString
	err := rows.Scan(&b.ID, &b.UserID, &b.AlgorithmID, &b.Symbol, &startStr, &endStr, &initial, &b.Status,
		&final, &totalRet, &totalRetPct, &b.TotalTrades, &b.WinningTrades, &b.LosingTrades,
		&winRate, &maxDD, &sharpe, &b.ResultsJSON, &b.Error, &created, &completed)
	if err != nil {
		return nil, err
	}
	return fillBacktest(&b, startStr, endStr, initial, final, totalRet, totalRetPct, winRate, maxDD, sharpe, created, completed)
}

func fillBacktest(b *models.Backtest, startStr, endStr, initial, final, totalRet, totalRetPct, winRate, maxDD, sharpe, created string, completed sql.NullString) (*models.Backtest, error) {
	var err error
	b.StartDate, _ = time.Parse(timeLayout, startStr)
	b.EndDate, _ = time.Parse(timeLayout, endStr)
	if b.InitialCapital, err = decimal.NewFromString(initial); err != nil {
		return nil, err
	}
	if b.FinalCapital, err = decimal.NewFromString(final); err != nil {
		return nil, err
	}
	if b.TotalReturn, err = decimal.NewFromString(totalRet); err != nil {
		return nil, err
	}
	if b.TotalReturnPercent, err = decimal.NewFromString(totalRetPct); err != nil {
		return nil, err
	}
	if b.WinRate, err = decimal.NewFromString(winRate); err != nil {
		return nil, err
	}
	if b.MaxDrawdown, err = decimal.NewFromString(maxDD); err != nil {
		return nil, err
	}
	if b.SharpeRatio, err = decimal.NewFromString(sharpe); err != nil {
		return nil, err
	}
	b.CreatedAt, _ = time.Parse(timeLayout, created)
	if completed.Valid {
		t, err := time.Parse(timeLayout, completed.String)
		if err == nil {
			b.CompletedAt = &t
		}
	}
	return b, nil
}
