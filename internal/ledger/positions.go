package ledger

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// GetPosition looks up the (accountID, symbol) position. Returns
// ErrNotFound if the row does not exist, which by invariant 2 means the
// account holds no shares of symbol.
func (s *Store) GetPosition(accountID, symbol string) (*models.Position, error) {
	row := s.db.QueryRow(
		`SELECT account_id, symbol, quantity, average_price, current_price,
		        market_value, unrealized_pl, unrealized_pl_percent, updated_at
		   FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	return scanPosition(row)
}

// ListPositions returns every open position for an account.
func (s *Store) ListPositions(accountID string) ([]models.Position, error) {
	rows, err := s.db.Query(
		`SELECT account_id, symbol, quantity, average_price, current_price,
		        market_value, unrealized_pl, unrealized_pl_percent, updated_at
		   FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPosition(row *sql.Row) (*models.Position, error) {
	var p models.Position
	var qty int64
	var avg, cur, mv, upl, uplPct, updated string
	err := row.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &cur, &mv, &upl, &uplPct, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fillPosition(&p, qty, avg, cur, mv, upl, uplPct, updated)
}

func scanPositionRows(rows *sql.Rows) (*models.Position, error) {
	var p models.Position
	var qty int64
	var avg, cur, mv, upl, uplPct, updated string
	if err := rows.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &cur, &mv, &upl, &uplPct, &updated); err != nil {
		return nil, err
	}
	return fillPosition(&p, qty, avg, cur, mv, upl, uplPct, updated)
}

func fillPosition(p *models.Position, qty int64, avg, cur, mv, upl, uplPct, updated string) (*models.Position, error) {
	p.Quantity = qty
	var err error
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return nil, err
	}
	if p.CurrentPrice, err = decimal.NewFromString(cur); err != nil {
		return nil, err
	}
	if p.MarketValue, err = decimal.NewFromString(mv); err != nil {
		return nil, err
	}
	if p.UnrealizedPL, err = decimal.NewFromString(upl); err != nil {
		return nil, err
	}
	if p.UnrealizedPLPercent, err = decimal.NewFromString(uplPct); err != nil {
		return nil, err
	}
	p.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return p, nil
}

// upsertPosition writes a position row within tx, applying the
// weighted-average formula on buys (positive delta) and preserving
// average_price on sells (negative delta) per §3 invariant 5 and the §9
// resolved open question. Deletes the row when the resulting quantity is
// zero, per §3 invariant 2.
func upsertPosition(tx *sql.Tx, accountID, symbol string, deltaQty int64, price decimal.Decimal) error {
	existing, err := txGetPosition(tx, accountID, symbol)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)

	if errors.Is(err, ErrNotFound) {
		// First touch of this symbol must be a buy (the bookkeeper
		// rejects sells against a nonexistent position before this is
		// reached).
		_, err := tx.Exec(
			`INSERT INTO positions (account_id, symbol, quantity, average_price, current_price, market_value, unrealized_pl, unrealized_pl_percent, updated_at)
			 VALUES (?, ?, ?, ?, ?, '0', '0', '0', ?)`,
			accountID, symbol, deltaQty, price.String(), price.String(), now,
		)
		return err
	}

	newQty := existing.Quantity + deltaQty
	if newQty == 0 {
		_, err := tx.Exec(`DELETE FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
		return err
	}

	newAvg := existing.AveragePrice
	if deltaQty > 0 {
		// (q1*p1 + q2*p2) / (q1+q2)
		q1 := decimal.NewFromInt(existing.Quantity)
		q2 := decimal.NewFromInt(deltaQty)
		cost := existing.AveragePrice.Mul(q1).Add(price.Mul(q2))
		newAvg = cost.Div(q1.Add(q2))
	}
	// deltaQty < 0 (sell): average_price is unchanged.

	_, err = tx.Exec(
		`UPDATE positions SET quantity = ?, average_price = ?, updated_at = ? WHERE account_id = ? AND symbol = ?`,
		newQty, newAvg.String(), now, accountID, symbol,
	)
	return err
}

func txGetPosition(tx *sql.Tx, accountID, symbol string) (*models.Position, error) {
	row := tx.QueryRow(
		`SELECT account_id, symbol, quantity, average_price, current_price,
		        market_value, unrealized_pl, unrealized_pl_percent, updated_at
		   FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	var p models.Position
	var qty int64
	var avg, cur, mv, upl, uplPct, updated string
	err := row.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &cur, &mv, &upl, &uplPct, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fillPosition(&p, qty, avg, cur, mv, upl, uplPct, updated)
}

// RecomputeMarketValues updates current_price/market_value/unrealized_pl[_percent]
// for every position given a symbol->price map, then recomputes the
// account's total_value. Read-only with respect to cash and quantity,
// per §4.2.
func (s *Store) RecomputeMarketValues(accountID string, prices map[string]decimal.Decimal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	positions, err := s.ListPositions(accountID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	now := time.Now().UTC().Format(timeLayout)
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.CurrentPrice
		}
		p.Recompute(price)
		_, err := tx.Exec(
			`UPDATE positions SET current_price = ?, market_value = ?, unrealized_pl = ?, unrealized_pl_percent = ?, updated_at = ?
			 WHERE account_id = ? AND symbol = ?`,
			p.CurrentPrice.String(), p.MarketValue.String(), p.UnrealizedPL.String(), p.UnrealizedPLPercent.String(), now,
			accountID, p.Symbol,
		)
		if err != nil {
			return err
		}
		total = total.Add(p.MarketValue)
	}

	acct, err := s.GetAccount(accountID)
	if err != nil {
		return err
	}
	totalValue := acct.Balance.Add(total).Round(2)
	if _, err := tx.Exec(
		`UPDATE paper_accounts SET total_value = ?, updated_at = ? WHERE id = ?`,
		totalValue.String(), now, accountID,
	); err != nil {
		return err
	}
	return tx.Commit()
}
