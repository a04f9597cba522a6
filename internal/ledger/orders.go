package ledger

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// insertFilledOrder writes a filled order within tx, per §3 invariant 7
// ("An Order's filled_at is set iff status = filled").
func insertFilledOrder(tx *sql.Tx, accountID string, algoID *string, symbol string, side models.OrderSide, qty int64, price decimal.Decimal) (*models.Order, error) {
	now := time.Now().UTC()
	o := &models.Order{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		AlgorithmID: algoID,
		Symbol:      symbol,
		Side:        side,
		Type:        models.Market,
		Quantity:    qty,
		Price:       price,
		Status:      models.OrderFilled,
		CreatedAt:   now,
		FilledAt:    &now,
	}
	_, err := tx.Exec(
		`INSERT INTO orders (id, account_id, algorithm_id, symbol, side, type, quantity, price, status, created_at, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.AlgorithmID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price.String(),
		o.Status, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns the most recent orders for an account, most-recent
// first, bounded by limit (0 means unbounded).
func (s *Store) ListOrders(accountID string, limit int) ([]models.Order, error) {
	query := `SELECT id, account_id, algorithm_id, symbol, side, type, quantity, price, status, created_at, filled_at
	            FROM orders WHERE account_id = ? ORDER BY created_at DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		var algoID sql.NullString
		var priceStr, created string
		var filled sql.NullString
		if err := rows.Scan(&o.ID, &o.AccountID, &algoID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &priceStr, &o.Status, &created, &filled); err != nil {
			return nil, err
		}
		if algoID.Valid {
			v := algoID.String
			o.AlgorithmID = &v
		}
		if o.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(timeLayout, created)
		if filled.Valid {
			t, err := time.Parse(timeLayout, filled.String)
			if err == nil {
				o.FilledAt = &t
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrder looks up a single order by id, scoped to accountID so callers
// cannot read another tenant's order by guessing an id.
func (s *Store) GetOrder(accountID, orderID string) (*models.Order, error) {
	orders, err := s.ListOrders(accountID, 0)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}
