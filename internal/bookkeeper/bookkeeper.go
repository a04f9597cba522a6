// Package bookkeeper serializes fills against the Ledger Store so that two
// concurrent orders on the same account always observe a consistent
// balance_after chain, while orders against different accounts never
// contend with each other (§5).
package bookkeeper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// Bookkeeper wraps a ledger.Store with a per-account lock table. The
// ledger's own sql.DB connection pool already serializes writes at the
// database level (SQLite is effectively single-writer), but that alone
// does not stop two ApplyBuy calls for the same account from both
// reading a stale balance before either commits — the mutex here closes
// that race at the application layer.
type Bookkeeper struct {
	store *ledger.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wraps store.
func New(store *ledger.Store) *Bookkeeper {
	return &Bookkeeper{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (b *Bookkeeper) lockFor(accountID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[accountID] = l
	}
	return l
}

// Buy validates and applies a buy order against accountID, serialized
// against any other fill for the same account.
func (b *Bookkeeper) Buy(accountID string, algoID *string, symbol string, qty int64, price decimal.Decimal) (*ledger.FillResult, error) {
	if err := ValidateFill(symbol, qty, price); err != nil {
		return nil, err
	}
	l := b.lockFor(accountID)
	l.Lock()
	defer l.Unlock()
	return b.store.ApplyBuy(accountID, algoID, symbol, qty, price)
}

// Sell validates and applies a sell order against accountID, serialized
// against any other fill for the same account.
func (b *Bookkeeper) Sell(accountID string, algoID *string, symbol string, qty int64, price decimal.Decimal) (*ledger.FillResult, error) {
	if err := ValidateFill(symbol, qty, price); err != nil {
		return nil, err
	}
	l := b.lockFor(accountID)
	l.Lock()
	defer l.Unlock()
	return b.store.ApplySell(accountID, algoID, symbol, qty, price)
}

// SellAll sells the account's entire held quantity of symbol at price,
// supporting the rule-engine "sell all" action qualifier (§4.4). Returns
// ledger.ErrInsufficientShares if there is no position to sell.
func (b *Bookkeeper) SellAll(accountID string, algoID *string, symbol string, price decimal.Decimal) (*ledger.FillResult, error) {
	l := b.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	pos, err := b.store.GetPosition(accountID, symbol)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrInsufficientShares
	}
	if err != nil {
		return nil, err
	}
	if pos.Quantity <= 0 {
		return nil, ledger.ErrInsufficientShares
	}
	if err := ValidateFill(symbol, pos.Quantity, price); err != nil {
		return nil, err
	}
	return b.store.ApplySell(accountID, algoID, symbol, pos.Quantity, price)
}

// Reset serializes a reset against any in-flight fill on the account.
func (b *Bookkeeper) Reset(accountID string) error {
	l := b.lockFor(accountID)
	l.Lock()
	defer l.Unlock()
	return b.store.ResetAccount(accountID)
}

// RecomputeMarketValues is read-mostly and does not need the per-account
// fill lock; mark-to-market races with a concurrent fill resolve to "last
// write wins" on the derived fields, which is acceptable since the next
// tick recomputes them anyway.
func (b *Bookkeeper) RecomputeMarketValues(accountID string, prices map[string]decimal.Decimal) error {
	return b.store.RecomputeMarketValues(accountID, prices)
}

// ValidateFill mirrors the teacher's ValidateOrder shape (symbol, side,
// quantity, price sanity) collapsed to the fields this model actually
// carries: there is no exchange/product/trigger-price dimension here.
func ValidateFill(symbol string, qty int64, price decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("bookkeeper: symbol is required")
	}
	if qty <= 0 {
		return fmt.Errorf("bookkeeper: quantity must be positive")
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("bookkeeper: price must be positive")
	}
	return nil
}

// ValidateManualOrder validates a manual order request from the API
// layer before it reaches Buy/Sell (§6 POST /paper-trading/orders), grounded on
// the teacher's ValidateOrder's field-by-field error accumulation.
func ValidateManualOrder(symbol string, side models.OrderSide, orderType models.OrderType, qty int64, limitPrice decimal.Decimal) []string {
	var errs []string
	if symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if side != models.Buy && side != models.Sell {
		errs = append(errs, fmt.Sprintf("invalid side %q", side))
	}
	switch orderType {
	case models.Market, models.Limit:
	default:
		errs = append(errs, fmt.Sprintf("invalid order type %q", orderType))
	}
	if qty <= 0 {
		errs = append(errs, "quantity must be positive")
	}
	if orderType == models.Limit && limitPrice.Sign() <= 0 {
		errs = append(errs, "limit orders require a positive price")
	}
	return errs
}
