package ledger

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// insertTransaction appends one journal entry within tx. balanceAfter must
// already reflect the post-fill balance — callers compute it, this just
// persists it (§3 invariant 3).
func insertTransaction(tx *sql.Tx, accountID string, typ models.TransactionType, amount, balanceAfter decimal.Decimal, symbol *string, qty *int64, price *decimal.Decimal, orderID *string, description string) (*models.Transaction, error) {
	now := time.Now().UTC()
	t := &models.Transaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Symbol:       symbol,
		Quantity:     qty,
		Price:        price,
		OrderID:      orderID,
		Description:  description,
		CreatedAt:    now,
	}
	var priceStr *string
	if price != nil {
		v := price.String()
		priceStr = &v
	}
	_, err := tx.Exec(
		`INSERT INTO transactions (id, account_id, type, amount, balance_after, symbol, quantity, price, order_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Type, t.Amount.String(), t.BalanceAfter.String(), t.Symbol, t.Quantity, priceStr, t.OrderID, t.Description,
		now.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns an account's transactions. With limit <= 0 it
// returns all of them in creation order, oldest first, the order in which
// the chain-of-balance invariant (§8.1) is easiest to assert; with
// limit > 0 it returns only the latest limit transactions, newest first.
func (s *Store) ListTransactions(accountID string, limit int) ([]models.Transaction, error) {
	query := `SELECT id, account_id, type, amount, balance_after, symbol, quantity, price, order_id, description, created_at
	            FROM transactions WHERE account_id = ? ORDER BY created_at ASC`
	args := []any{accountID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + `) ORDER BY created_at DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var amount, balanceAfter, created string
		var symbol, orderID sql.NullString
		var qty sql.NullInt64
		var priceStr sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &amount, &balanceAfter, &symbol, &qty, &priceStr, &orderID, &t.Description, &created); err != nil {
			return nil, err
		}
		var err2 error
		if t.Amount, err2 = decimal.NewFromString(amount); err2 != nil {
			return nil, err2
		}
		if t.BalanceAfter, err2 = decimal.NewFromString(balanceAfter); err2 != nil {
			return nil, err2
		}
		if symbol.Valid {
			v := symbol.String
			t.Symbol = &v
		}
		if qty.Valid {
			v := qty.Int64
			t.Quantity = &v
		}
		if priceStr.Valid {
			p, err2 := decimal.NewFromString(priceStr.String)
			if err2 != nil {
				return nil, err2
			}
			t.Price = &p
		}
		if orderID.Valid {
			v := orderID.String
			t.OrderID = &v
		}
		t.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, t)
	}
	return out, rows.Err()
}
