package backtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperdesk/paperdeskd/internal/config"
	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/internal/marketdata"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// newDevProvider builds a Provider pointed at an address that refuses the
// connection immediately, so every fetch falls through to the
// development-mode synthetic fallback without a slow real-network wait.
func newDevProvider(t *testing.T) *marketdata.Provider {
	t.Helper()
	cfg := config.MarketDataConfig{
		UpstreamURL:   "http://127.0.0.1:1",
		Mode:          "development",
		QuoteTTLSec:   5,
		HistoryTTLSec: 5,
	}
	return marketdata.New(cfg, 2*time.Second)
}

func newTestEngine(t *testing.T) (*Engine, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, newDevProvider(t)), store
}

func TestRun_InvalidRangeFailsBacktest(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "A", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	end := time.Now().UTC()
	start := end.Add(24 * time.Hour) // start after end: invalid
	b, err := store.CreateBacktest("user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}

	e.Run(context.Background(), b.ID, "user-1", a.ID, "AAPL", start, end, decimal.NewFromInt(10000), models.Interval1d)

	fetched, err := store.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if fetched.Status != models.BacktestFailed {
		t.Errorf("expected status failed for an invalid range, got %s", fetched.Status)
	}
}

func TestRun_CompletesAndClosesOpenPosition(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "Always Long", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	// price > 0 is always true, so this entry rule fires on the first bar
	// and opens a position; applyIntent's at-most-one-open-position
	// semantics make it a no-op on every bar after that.
	if _, err := store.CreateRule(a.ID, models.RuleEntry, "price", models.OpGT, "0", "buy:5", nil); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	end := time.Now().UTC()
	start := end.Add(-400 * 24 * time.Hour)
	initial := decimal.NewFromInt(10000)
	b, err := store.CreateBacktest("user-1", a.ID, "AAPL", start, end, initial)
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}

	e.Run(context.Background(), b.ID, "user-1", a.ID, "AAPL", start, end, initial, models.Interval1d)

	fetched, err := store.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if fetched.Status != models.BacktestComplete {
		t.Fatalf("expected status complete, got %s (error=%s)", fetched.Status, fetched.Error)
	}
	if fetched.TotalTrades != 1 {
		t.Errorf("expected exactly one closing trade at end of period, got %d", fetched.TotalTrades)
	}
	if fetched.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestRun_NoRulesStillCompletes(t *testing.T) {
	e, store := newTestEngine(t)
	a, err := store.CreateAlgorithm("user-1", "Idle", "")
	if err != nil {
		t.Fatalf("create algorithm: %v", err)
	}
	end := time.Now().UTC()
	start := end.Add(-200 * 24 * time.Hour)
	initial := decimal.NewFromInt(5000)
	b, err := store.CreateBacktest("user-1", a.ID, "MSFT", start, end, initial)
	if err != nil {
		t.Fatalf("create backtest: %v", err)
	}

	e.Run(context.Background(), b.ID, "user-1", a.ID, "MSFT", start, end, initial, models.Interval1d)

	fetched, err := store.GetBacktest("user-1", b.ID)
	if err != nil {
		t.Fatalf("get backtest: %v", err)
	}
	if fetched.Status != models.BacktestComplete {
		t.Fatalf("expected status complete with zero rules, got %s (error=%s)", fetched.Status, fetched.Error)
	}
	if !fetched.FinalCapital.Equal(initial) {
		t.Errorf("expected final capital unchanged at %s, got %s", initial, fetched.FinalCapital)
	}
	if fetched.TotalTrades != 0 {
		t.Errorf("expected zero trades with no rules, got %d", fetched.TotalTrades)
	}
}
