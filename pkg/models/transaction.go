package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the append-only journal's entry kinds.
// Deposit/Withdrawal are carried for schema completeness (§1C supplement)
// even though no operation in this spec currently emits them — reset(account)
// zeroes the ledger directly rather than emitting a withdrawal entry.
type TransactionType string

const (
	TxBuy        TransactionType = "buy"
	TxSell       TransactionType = "sell"
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
)

// Transaction is an append-only journal entry. Amount is signed (negative
// = debit). BalanceAfter must chain: balance_after[i] = balance_after[i-1] + amount[i].
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Symbol      *string         `json:"symbol,omitempty"`
	Quantity    *int64          `json:"quantity,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	OrderID     *string         `json:"order_id,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
