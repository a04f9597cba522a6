// Package ledger is the persistent Ledger Store: accounts, positions,
// orders, transactions, algorithms, rules, and backtest records, with
// referential and uniqueness invariants enforced at the schema level.
package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// WAL mode and a busy timeout keep concurrent readers/writers from
// stepping on each other; foreign_keys enables the cascade-delete on
// algorithm_rules required by §3 invariant 6.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create db directory %s: %w", dir, err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ledger: ping db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate db: %w", err)
	}
	log.Printf("ledger: opened %s", path)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB. Nothing in this module calls it; the
// bookkeeper's fills go through ApplyBuy/ApplySell.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS users (
				id           TEXT PRIMARY KEY,
				email        TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS paper_accounts (
				id              TEXT PRIMARY KEY,
				user_id         TEXT NOT NULL UNIQUE REFERENCES users(id),
				balance         TEXT NOT NULL,
				initial_balance TEXT NOT NULL,
				total_value     TEXT NOT NULL,
				created_at      TEXT NOT NULL,
				updated_at      TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS positions (
				account_id            TEXT NOT NULL REFERENCES paper_accounts(id),
				symbol                TEXT NOT NULL,
				quantity              INTEGER NOT NULL,
				average_price         TEXT NOT NULL,
				current_price         TEXT NOT NULL DEFAULT '0',
				market_value          TEXT NOT NULL DEFAULT '0',
				unrealized_pl         TEXT NOT NULL DEFAULT '0',
				unrealized_pl_percent TEXT NOT NULL DEFAULT '0',
				updated_at            TEXT NOT NULL,
				PRIMARY KEY (account_id, symbol)
			);

			CREATE TABLE IF NOT EXISTS orders (
				id           TEXT PRIMARY KEY,
				account_id   TEXT NOT NULL REFERENCES paper_accounts(id),
				algorithm_id TEXT REFERENCES trading_algorithms(id),
				symbol       TEXT NOT NULL,
				side         TEXT NOT NULL,
				type         TEXT NOT NULL,
				quantity     INTEGER NOT NULL,
				price        TEXT NOT NULL,
				status       TEXT NOT NULL,
				created_at   TEXT NOT NULL,
				filled_at    TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS transactions (
				id            TEXT PRIMARY KEY,
				account_id    TEXT NOT NULL REFERENCES paper_accounts(id),
				type          TEXT NOT NULL,
				amount        TEXT NOT NULL,
				balance_after TEXT NOT NULL,
				symbol        TEXT,
				quantity      INTEGER,
				price         TEXT,
				order_id      TEXT REFERENCES orders(id),
				description   TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at);

			CREATE TABLE IF NOT EXISTS trading_algorithms (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL REFERENCES users(id),
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active   INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_algorithms_user ON trading_algorithms(user_id);

			CREATE TABLE IF NOT EXISTS algorithm_rules (
				id                 TEXT PRIMARY KEY,
				algorithm_id       TEXT NOT NULL REFERENCES trading_algorithms(id) ON DELETE CASCADE,
				rule_type          TEXT NOT NULL,
				condition_field    TEXT NOT NULL,
				condition_operator TEXT NOT NULL,
				condition_value    TEXT NOT NULL,
				action             TEXT NOT NULL,
				order_index        INTEGER NOT NULL DEFAULT 0,
				created_at         TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_rules_algorithm ON algorithm_rules(algorithm_id, order_index);

			CREATE TABLE IF NOT EXISTS backtests (
				id                    TEXT PRIMARY KEY,
				user_id               TEXT NOT NULL REFERENCES users(id),
				algorithm_id          TEXT NOT NULL REFERENCES trading_algorithms(id),
				symbol                TEXT NOT NULL,
				start_date            TEXT NOT NULL,
				end_date              TEXT NOT NULL,
				initial_capital       TEXT NOT NULL,
				status                TEXT NOT NULL,
				final_capital         TEXT NOT NULL DEFAULT '0',
				total_return          TEXT NOT NULL DEFAULT '0',
				total_return_percent  TEXT NOT NULL DEFAULT '0',
				total_trades          INTEGER NOT NULL DEFAULT 0,
				winning_trades        INTEGER NOT NULL DEFAULT 0,
				losing_trades         INTEGER NOT NULL DEFAULT 0,
				win_rate              TEXT NOT NULL DEFAULT '0',
				max_drawdown          TEXT NOT NULL DEFAULT '0',
				sharpe_ratio          TEXT NOT NULL DEFAULT '0',
				results_json          TEXT NOT NULL DEFAULT '{}',
				error                 TEXT NOT NULL DEFAULT '',
				created_at            TEXT NOT NULL,
				completed_at          TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_backtests_algorithm ON backtests(algorithm_id, created_at DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		log.Printf("ledger: applied migration v1 (core schema)")
	}

	return nil
}

// timeLayout is RFC3339 with a fixed nine-digit fractional second, used for
// every stored timestamp column — the fixed width keeps UTC stamps sortable
// as text, unambiguous across SQLite's lack of a native timestamp type.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
