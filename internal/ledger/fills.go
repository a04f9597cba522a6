package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// ErrInsufficientFunds is returned when a buy would drive balance below
// zero (§3 invariant 1).
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrInsufficientShares is returned when a sell quantity exceeds the held
// position quantity.
var ErrInsufficientShares = errors.New("ledger: insufficient shares")

// FillResult bundles what a single fill returns: the filled order, its
// transaction, and the resulting balance.
type FillResult struct {
	Order       *models.Order
	Transaction *models.Transaction
	Balance     decimal.Decimal
}

// ApplyBuy executes §4.2's apply_buy as a single database transaction:
// create Order{buy,filled}, debit balance, upsert Position with the new
// weighted-average cost, append a Transaction. Any failure rolls back all
// four effects (the §9 redesign fix for the source's unwrapped multi-step
// fill). Callers (the bookkeeper) are responsible for serializing
// concurrent fills against the same account — this method alone does not
// prevent two overlapping transactions on the same account from both
// passing the balance check (SQLite's single-writer model combined with
// the bookkeeper's per-account mutex is what makes that safe in practice).
func (s *Store) ApplyBuy(accountID string, algoID *string, symbol string, qty int64, price decimal.Decimal) (*FillResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: quantity must be positive, got %d", qty)
	}
	cost := price.Mul(decimal.NewFromInt(qty)).Round(2)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	acct, err := s.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if acct.Balance.LessThan(cost) {
		return nil, ErrInsufficientFunds
	}
	newBalance := acct.Balance.Sub(cost).Round(2)

	order, err := insertFilledOrder(tx, accountID, algoID, symbol, models.Buy, qty, price)
	if err != nil {
		return nil, err
	}
	if err := updateAccountBalance(tx, accountID, newBalance, acct.TotalValue); err != nil {
		return nil, err
	}
	if err := upsertPosition(tx, accountID, symbol, qty, price); err != nil {
		return nil, err
	}
	amount := cost.Neg()
	txn, err := insertTransaction(tx, accountID, models.TxBuy, amount, newBalance, &symbol, &qty, &price, &order.ID,
		fmt.Sprintf("Buy %d %s @ %s", qty, symbol, price.StringFixed(2)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &FillResult{Order: order, Transaction: txn, Balance: newBalance}, nil
}

// ApplySell executes §4.2's apply_sell as a single database transaction.
func (s *Store) ApplySell(accountID string, algoID *string, symbol string, qty int64, price decimal.Decimal) (*FillResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: quantity must be positive, got %d", qty)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pos, err := txGetPosition(tx, accountID, symbol)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInsufficientShares
	}
	if err != nil {
		return nil, err
	}
	if pos.Quantity < qty {
		return nil, ErrInsufficientShares
	}

	acct, err := s.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	proceeds := price.Mul(decimal.NewFromInt(qty)).Round(2)
	newBalance := acct.Balance.Add(proceeds).Round(2)

	order, err := insertFilledOrder(tx, accountID, algoID, symbol, models.Sell, qty, price)
	if err != nil {
		return nil, err
	}
	if err := updateAccountBalance(tx, accountID, newBalance, acct.TotalValue); err != nil {
		return nil, err
	}
	if err := upsertPosition(tx, accountID, symbol, -qty, price); err != nil {
		return nil, err
	}
	txn, err := insertTransaction(tx, accountID, models.TxSell, proceeds, newBalance, &symbol, &qty, &price, &order.ID,
		fmt.Sprintf("Sell %d %s @ %s", qty, symbol, price.StringFixed(2)))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &FillResult{Order: order, Transaction: txn, Balance: newBalance}, nil
}
