package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("ledger: not found")

// EnsureAccount returns the account for userID, lazily creating both the
// user row and the account row (seeded at DefaultInitialBalance) on first
// access, per §3's "Accounts are lazily created on first access".
func (s *Store) EnsureAccount(userID string) (*models.Account, error) {
	acct, err := s.GetAccountByUser(userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.ensureUser(userID, now); err != nil {
		return nil, err
	}

	acct = &models.Account{
		ID:             uuid.NewString(),
		UserID:         userID,
		Balance:        models.DefaultInitialBalance,
		InitialBalance: models.DefaultInitialBalance,
		TotalValue:     models.DefaultInitialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO paper_accounts (id, user_id, balance, initial_balance, total_value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.UserID, acct.Balance.String(), acct.InitialBalance.String(), acct.TotalValue.String(),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: create account: %w", err)
	}
	// Another concurrent EnsureAccount may have won the race; re-read to
	// return the authoritative row either way.
	return s.GetAccountByUser(userID)
}

// ensureUser lazily inserts the users row a foreign key requires, shared by
// every entry point that can be the first thing a tenant ever does
// (EnsureAccount, CreateAlgorithm).
func (s *Store) ensureUser(userID string, now time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		userID, userID+"@paperdesk.local", "", now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("ledger: ensure user: %w", err)
	}
	return nil
}

// GetAccountByUser looks up the account owned by userID.
func (s *Store) GetAccountByUser(userID string) (*models.Account, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, balance, initial_balance, total_value, created_at, updated_at
		   FROM paper_accounts WHERE user_id = ?`, userID)
	return scanAccount(row)
}

// GetAccount looks up an account by its own id.
func (s *Store) GetAccount(accountID string) (*models.Account, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, balance, initial_balance, total_value, created_at, updated_at
		   FROM paper_accounts WHERE id = ?`, accountID)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	var balance, initial, total, created, updated string
	err := row.Scan(&a.ID, &a.UserID, &balance, &initial, &total, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, err
	}
	if a.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &a, nil
}

// updateAccountBalance persists balance and total_value within tx.
func updateAccountBalance(tx *sql.Tx, accountID string, balance, totalValue decimal.Decimal) error {
	_, err := tx.Exec(
		`UPDATE paper_accounts SET balance = ?, total_value = ?, updated_at = ? WHERE id = ?`,
		balance.String(), totalValue.String(), time.Now().UTC().Format(timeLayout), accountID,
	)
	return err
}

// ResetAccount is the persistence half of the Bookkeeper's reset(account):
// deletes all positions and transactions for the account and restores
// balance/total_value to initial_balance, atomically.
func (s *Store) ResetAccount(accountID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	acct, err := s.GetAccount(accountID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM positions WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM transactions WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	if err := updateAccountBalance(tx, accountID, acct.InitialBalance, acct.InitialBalance); err != nil {
		return err
	}
	return tx.Commit()
}
